// Package natsstore keeps preferences in a NATS JetStream key-value bucket.
// Every observed key gets its own bucket watcher, so changes from any
// connection are delivered in revision order.
package natsstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	pref "github.com/goliatone/go-preference"
	"github.com/goliatone/go-preference/pkg/state"
	"github.com/goliatone/go-preference/pkg/wire"
)

// DefaultBucket is the bucket used when none is configured.
const DefaultBucket = "preferences"

// JetStream is the subset of nats.JetStreamContext the store needs.
type JetStream interface {
	CreateKeyValue(cfg *nats.KeyValueConfig) (nats.KeyValue, error)
	KeyValue(bucket string) (nats.KeyValue, error)
}

// Store is a pref.Store backed by a JetStream KV bucket. Backend failures
// are logged and read as absence.
type Store struct {
	kv     nats.KeyValue
	ref    state.Ref
	logger *zap.Logger

	bucket   string
	history  uint8
	storage  nats.StorageType
	replicas int

	mu       sync.Mutex
	watchers map[uint64]*watch
	nextID   uint64
	closed   bool
	wg       sync.WaitGroup
}

var (
	_ pref.ObservingStore = (*Store)(nil)
	_ pref.Lister         = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for backend failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBucket overrides DefaultBucket.
func WithBucket(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.bucket = name
		}
	}
}

// WithHistory sets how many revisions per key a newly created bucket keeps
// (1 to 64).
func WithHistory(history int) Option {
	return func(s *Store) {
		s.history = uint8(min(max(history, 1), 64))
	}
}

// WithMemoryStorage creates the bucket in memory instead of on file.
func WithMemoryStorage() Option {
	return func(s *Store) {
		s.storage = nats.MemoryStorage
	}
}

// New opens the configured bucket, creating it when missing.
func New(ctx context.Context, js JetStream, ref state.Ref, opts ...Option) (*Store, error) {
	if js == nil {
		return nil, fmt.Errorf("natsstore: nil JetStream context")
	}
	identifier, err := ref.Identifier()
	if err != nil {
		return nil, err
	}
	s := &Store{
		ref:      ref,
		logger:   zap.NewNop(),
		bucket:   DefaultBucket,
		history:  1,
		storage:  nats.FileStorage,
		replicas: 1,
		watchers: map[uint64]*watch{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With(zap.String("ref", identifier), zap.String("bucket", s.bucket))

	kv, err := ensureBucket(ctx, js, &nats.KeyValueConfig{
		Bucket:   s.bucket,
		History:  s.history,
		Storage:  s.storage,
		Replicas: s.replicas,
	})
	if err != nil {
		return nil, fmt.Errorf("natsstore: bucket %s: %w", s.bucket, err)
	}
	s.kv = kv
	return s, nil
}

func ensureBucket(ctx context.Context, js JetStream, cfg *nats.KeyValueConfig) (nats.KeyValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kv, err := js.KeyValue(cfg.Bucket)
	if err == nil && kv != nil {
		return kv, nil
	}
	if err != nil && !errors.Is(err, nats.ErrBucketNotFound) {
		return nil, err
	}
	return js.CreateKeyValue(cfg)
}

func (s *Store) Get(key string) (any, bool) {
	storageKey, ok := s.storageKey(key)
	if !ok {
		return nil, false
	}
	entry, err := s.kv.Get(storageKey)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("natsstore: get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return s.decode(key, entry.Value())
}

// Set stores value under key. A nil value removes key.
func (s *Store) Set(key string, value any) {
	if value == nil {
		s.Remove(key)
		return
	}
	storageKey, ok := s.storageKey(key)
	if !ok {
		return
	}
	data, err := wire.Marshal(value)
	if err != nil {
		s.logger.Warn("natsstore: unencodable value", zap.String("key", key), zap.Error(err))
		return
	}
	if _, err := s.kv.Put(storageKey, data); err != nil {
		s.logger.Warn("natsstore: put failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) Remove(key string) {
	storageKey, ok := s.storageKey(key)
	if !ok {
		return
	}
	if err := s.kv.Delete(storageKey); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		s.logger.Warn("natsstore: delete failed", zap.String("key", key), zap.Error(err))
	}
}

// Keys lists the live keys under the ref, sorted.
func (s *Store) Keys() []string {
	all, err := s.kv.Keys()
	if errors.Is(err, nats.ErrNoKeysFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("natsstore: keys failed", zap.Error(err))
		return nil
	}
	var keys []string
	for _, storageKey := range all {
		if key, ok := s.ref.KeyFromStorage(storageKey); ok {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

type watch struct {
	watcher nats.KeyWatcher
	stop    chan struct{}
	once    sync.Once
}

func (w *watch) close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.watcher.Stop()
	})
	return err
}

// Observe watches key for puts and deletes from any connection. The current
// value is not replayed.
func (s *Store) Observe(key string, fn func(pref.Change)) (cancel func()) {
	storageKey, ok := s.storageKey(key)
	if !ok || fn == nil {
		return func() {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	watcher, err := s.kv.Watch(storageKey, nats.UpdatesOnly())
	if err != nil {
		s.logger.Warn("natsstore: watch failed", zap.String("key", key), zap.Error(err))
		return func() {}
	}
	s.nextID++
	id := s.nextID
	w := &watch{watcher: watcher, stop: make(chan struct{})}
	s.watchers[id] = w

	s.wg.Add(1)
	go s.forward(key, w, fn)

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
		_ = w.close()
	}
}

func (s *Store) forward(key string, w *watch, fn func(pref.Change)) {
	defer s.wg.Done()
	updates := w.watcher.Updates()
	for {
		select {
		case <-w.stop:
			return
		case entry, ok := <-updates:
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			switch entry.Operation() {
			case nats.KeyValueDelete, nats.KeyValuePurge:
				fn(pref.Change{Key: key, Removed: true})
			default:
				value, ok := s.decode(key, entry.Value())
				fn(pref.Change{Key: key, Value: value, Removed: !ok})
			}
		}
	}
}

// Close stops every watcher. The connection stays owned by the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	watchers := s.watchers
	s.watchers = map[uint64]*watch{}
	s.mu.Unlock()

	var errs []error
	for _, w := range watchers {
		if err := w.close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.wg.Wait()
	return errors.Join(errs...)
}

func (s *Store) storageKey(key string) (string, bool) {
	storageKey, err := s.ref.StorageKey(key)
	if err != nil {
		s.logger.Warn("natsstore: invalid key", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return storageKey, true
}

func (s *Store) decode(key string, data []byte) (any, bool) {
	value, err := wire.Unmarshal(data)
	if err != nil {
		s.logger.Warn("natsstore: undecodable value", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return value, value != nil
}
