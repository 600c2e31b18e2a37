package pref

import (
	"context"
	"slices"
	"sync"

	"github.com/goliatone/go-preference/pkg/activity"
)

// State reports where a binding is in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	// StateSeeded means the current value still comes from construction.
	StateSeeded
	// StateUpdated means at least one change has been applied.
	StateUpdated
	// StateDestroyed means Close has run.
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateSeeded:
		return "seeded"
	case StateUpdated:
		return "updated"
	case StateDestroyed:
		return "destroyed"
	default:
		return "uninitialized"
	}
}

// Origin distinguishes changes made through the binding from changes the
// store reported.
type Origin string

const (
	OriginLocal Origin = "local"
	OriginStore Origin = "store"
)

// Binding is a typed, observable view of one key in a Store.
//
// Every transition of the current value (seed, local write, store
// notification) happens under one lock together with the decision to
// notify. Notifications leave the lock through an ordered outbox, so
// subscribers observe changes in the order they were applied and may call
// Get or Set from inside a callback.
type Binding[T any] struct {
	key          string
	store        Store
	codec        Codec[T]
	defaultValue T
	cfg          bindingConfig

	// writeMu orders local writes so the store sees them in the same order
	// as current does.
	writeMu sync.Mutex

	mu       sync.RWMutex
	current  T
	state    State
	writing  bool
	draining bool
	echoes   bool
	pending  []pendingWrite[T]
	outbox   []delivery[T]
	subs     []subscription[T]
	nextID   uint64
	cancel   func()

	done      chan struct{}
	closeOnce sync.Once
}

type pendingWrite[T any] struct {
	removed bool
	value   T
}

type delivery[T any] struct {
	old     T
	value   T
	removed bool
	origin  Origin
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// New binds key in store to a value of type T. The current value is seeded
// from the store, falling back to defaultValue when the key is absent or
// cannot be decoded. When store implements Observer, the binding follows
// changes from any origin until Close.
//
// New panics when key fails ValidateKey or when codec or store is nil.
func New[T any](key string, defaultValue T, codec Codec[T], store Store, opts ...Option) *Binding[T] {
	if err := ValidateKey(key); err != nil {
		panic(err)
	}
	if codec == nil {
		panic("pref: codec is required")
	}
	if store == nil {
		panic("pref: store is required")
	}

	b := &Binding[T]{
		key:          key,
		store:        store,
		codec:        codec,
		defaultValue: defaultValue,
		cfg:          applyOptions(opts),
		done:         make(chan struct{}),
	}

	b.mu.Lock()
	if observer, ok := store.(Observer); ok {
		b.echoes = b.cfg.echoWindow > 0 && echoesWrites(store)
		b.cancel = observer.Observe(key, b.handleChange)
	}
	b.current = b.seed()
	b.state = StateSeeded
	b.mu.Unlock()

	return b
}

// NewOptional binds key to an optional T. Absence reads as nil and writing
// nil removes the entry.
func NewOptional[T any](key string, codec Codec[T], store Store, opts ...Option) *Binding[*T] {
	return New[*T](key, nil, Optional(codec), store, opts...)
}

// Key returns the bound key.
func (b *Binding[T]) Key() string { return b.key }

// Default returns the fallback value.
func (b *Binding[T]) Default() T { return b.defaultValue }

// State returns the lifecycle state.
func (b *Binding[T]) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Get returns the current value without touching the store.
func (b *Binding[T]) Get() T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Set writes value to the store and makes it the current value. Values
// rejected by a constraint are dropped. A value that encodes to nothing
// removes the entry.
func (b *Binding[T]) Set(value T) {
	raw, hasRaw := b.codec.Encode(value)
	if hasRaw {
		if err := b.check(raw); err != nil {
			b.log(LogEvent{Op: OpReject, Raw: raw, Err: err})
			return
		}
	}
	b.write(value, raw, !hasRaw)
}

// Remove deletes the entry and resets the binding to its default.
func (b *Binding[T]) Remove() {
	b.write(b.defaultValue, nil, true)
}

// Reset is Remove under the name callers reaching for "back to default"
// tend to look for.
func (b *Binding[T]) Reset() { b.Remove() }

func (b *Binding[T]) write(value T, raw any, removed bool) {
	b.writeMu.Lock()

	b.mu.Lock()
	if b.state == StateDestroyed {
		b.mu.Unlock()
		b.writeMu.Unlock()
		b.log(LogEvent{Op: OpClosed, Raw: raw, Removed: removed})
		return
	}
	b.writing = true
	if b.echoes {
		echo := value
		if !removed {
			// Match echoes against what the store will hand back.
			if decoded, ok := b.codec.Decode(raw); ok {
				echo = decoded
			}
		}
		b.pending = append(b.pending, pendingWrite[T]{removed: removed, value: echo})
		if over := len(b.pending) - b.cfg.echoWindow; over > 0 {
			b.pending = slices.Delete(b.pending, 0, over)
		}
	}
	b.apply(value, removed, OriginLocal)
	b.mu.Unlock()

	if removed {
		b.store.Remove(b.key)
		b.log(LogEvent{Op: OpRemove, Removed: true})
	} else {
		b.store.Set(b.key, raw)
		b.log(LogEvent{Op: OpWrite, Raw: raw})
	}

	b.mu.Lock()
	b.writing = false
	b.mu.Unlock()
	b.writeMu.Unlock()

	b.drain()
}

// apply updates current and queues a delivery. Callers hold mu.
func (b *Binding[T]) apply(value T, force bool, origin Origin) {
	// Store removals always notify; everything else is deduplicated.
	if !(force && origin == OriginStore) && b.codec.Equal(value, b.current) {
		b.log(LogEvent{Op: OpSuppress, Removed: force})
		return
	}
	old := b.current
	b.current = value
	b.state = StateUpdated
	b.outbox = append(b.outbox, delivery[T]{old: old, value: value, removed: force, origin: origin})
	b.log(LogEvent{Op: OpNotify, Removed: force})
}

func (b *Binding[T]) handleChange(change Change) {
	b.mu.Lock()
	if b.state == StateDestroyed {
		b.mu.Unlock()
		return
	}

	var decoded T
	if !change.Removed {
		var ok bool
		decoded, ok = b.decode(change.Value)
		if !ok {
			b.log(LogEvent{Op: OpFallback, Raw: change.Value})
			decoded = b.defaultValue
		}
	}

	if b.consumeEcho(change.Removed, decoded) {
		b.log(LogEvent{Op: OpEcho, Raw: change.Value, Removed: change.Removed})
		b.mu.Unlock()
		return
	}

	// Anything else means the store moved on without us.
	b.pending = b.pending[:0]
	if change.Removed {
		b.apply(b.defaultValue, true, OriginStore)
	} else {
		b.apply(decoded, false, OriginStore)
	}
	writing := b.writing
	b.mu.Unlock()

	// An in-flight local write drains once its store call returns.
	if !writing {
		b.drain()
	}
}

// consumeEcho drops the oldest pending write when change reports it back
// without moving current. A matching change that would move current is not
// an echo: the store went elsewhere and current must follow it.
func (b *Binding[T]) consumeEcho(removed bool, value T) bool {
	if len(b.pending) == 0 {
		return false
	}
	head := b.pending[0]
	if head.removed != removed {
		return false
	}
	if removed {
		value = b.defaultValue
	} else if !b.codec.Equal(head.value, value) {
		return false
	}
	if !b.codec.Equal(value, b.current) {
		return false
	}
	b.pending = slices.Delete(b.pending, 0, 1)
	return true
}

func echoesWrites(store Store) bool {
	if echoer, ok := store.(WriteEchoer); ok {
		return echoer.EchoesWrites()
	}
	return true
}

// seed reads the store once. Callers hold mu.
func (b *Binding[T]) seed() T {
	raw, ok := b.store.Get(b.key)
	if !ok {
		b.log(LogEvent{Op: OpSeed})
		return b.defaultValue
	}
	value, ok := b.decode(raw)
	if !ok {
		b.log(LogEvent{Op: OpFallback, Raw: raw})
		return b.defaultValue
	}
	b.log(LogEvent{Op: OpSeed, Raw: raw})
	return value
}

func (b *Binding[T]) decode(raw any) (T, bool) {
	value, ok := b.codec.Decode(raw)
	if !ok || len(b.cfg.constraints) == 0 {
		return value, ok
	}
	normalized, hasRaw := b.codec.Encode(value)
	if !hasRaw {
		return value, true
	}
	if err := b.check(normalized); err != nil {
		b.log(LogEvent{Op: OpReject, Raw: raw, Err: err})
		var zero T
		return zero, false
	}
	return value, true
}

func (b *Binding[T]) check(raw any) error {
	for _, constraint := range b.cfg.constraints {
		if err := constraint.Check(context.Background(), b.key, raw); err != nil {
			return err
		}
	}
	return nil
}

// drain delivers queued notifications. Only one goroutine drains at a time;
// others return and leave their entries to the active drainer.
func (b *Binding[T]) drain() {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	for len(b.outbox) > 0 {
		next := b.outbox[0]
		b.outbox[0] = delivery[T]{}
		b.outbox = b.outbox[1:]
		subs := slices.Clone(b.subs)
		b.mu.Unlock()

		for _, sub := range subs {
			sub.fn(next.value)
		}
		b.emit(next)

		b.mu.Lock()
	}
	b.outbox = nil
	b.draining = false
	b.mu.Unlock()
}

// Subscribe registers fn for every subsequent change to the current value.
// The current value is not replayed. The returned cancel func is
// idempotent.
func (b *Binding[T]) Subscribe(fn func(T)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateDestroyed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs = slices.DeleteFunc(b.subs, func(s subscription[T]) bool { return s.id == id })
		})
	}
}

// Changes returns a channel carrying every subsequent value. The channel is
// closed when ctx is done or the binding is closed. A full channel blocks
// delivery to every subscriber, so size buffer for the reader.
func (b *Binding[T]) Changes(ctx context.Context, buffer int) <-chan T {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan T, buffer)

	var (
		sendMu sync.Mutex
		closed bool
	)
	cancel := b.Subscribe(func(value T) {
		sendMu.Lock()
		defer sendMu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- value:
		case <-ctx.Done():
		case <-b.done:
		}
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		cancel()
		sendMu.Lock()
		closed = true
		close(ch)
		sendMu.Unlock()
	}()

	return ch
}

// Close stops observing the store and drops all subscribers. Get keeps
// returning the last value; writes are ignored. Close is idempotent.
func (b *Binding[T]) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		cancel := b.cancel
		b.cancel = nil
		b.state = StateDestroyed
		b.subs = nil
		b.pending = nil
		b.outbox = nil
		b.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		close(b.done)
	})
	return nil
}

func (b *Binding[T]) emit(d delivery[T]) {
	if !b.cfg.activity.Emits(b.key) {
		return
	}
	change := activity.Change{Key: b.key, Removed: d.removed, Source: string(d.origin)}
	if raw, ok := b.codec.Encode(d.old); ok {
		change.OldValue = raw
	}
	if !d.removed {
		if raw, ok := b.codec.Encode(d.value); ok {
			change.NewValue = raw
		}
	}
	if err := b.cfg.activity.EmitChange(context.Background(), b.cfg.event, change); err != nil {
		b.log(LogEvent{Op: OpNotify, Removed: d.removed, Err: err})
	}
}

func (b *Binding[T]) log(event LogEvent) {
	event.Key = b.key
	b.cfg.logger.LogEvent(event)
}
