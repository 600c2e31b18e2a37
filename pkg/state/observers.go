package state

import (
	"slices"
	"sync"

	pref "github.com/goliatone/go-preference"
	"github.com/google/uuid"
)

// Observers is a per-key registry of change callbacks shared by the store
// implementations in this module. The zero value is ready to use.
type Observers struct {
	mu    sync.RWMutex
	byKey map[string][]observation
}

type observation struct {
	id uuid.UUID
	fn func(pref.Change)
}

// Add registers fn for key and returns an idempotent cancel func.
func (o *Observers) Add(key string, fn func(pref.Change)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	id := uuid.New()

	o.mu.Lock()
	if o.byKey == nil {
		o.byKey = map[string][]observation{}
	}
	o.byKey[key] = append(o.byKey[key], observation{id: id, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			remaining := slices.DeleteFunc(slices.Clone(o.byKey[key]), func(obs observation) bool {
				return obs.id == id
			})
			if len(remaining) == 0 {
				delete(o.byKey, key)
				return
			}
			o.byKey[key] = remaining
		})
	}
}

// Notify invokes every callback registered for change.Key in registration
// order on the calling goroutine. No lock is held while callbacks run.
func (o *Observers) Notify(change pref.Change) {
	o.mu.RLock()
	registered := o.byKey[change.Key]
	o.mu.RUnlock()

	for _, obs := range registered {
		obs.fn(change)
	}
}

// Observed reports whether key has at least one callback.
func (o *Observers) Observed(key string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.byKey[key]) > 0
}

// Keys returns the keys with at least one callback, sorted.
func (o *Observers) Keys() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	keys := make([]string, 0, len(o.byKey))
	for key := range o.byKey {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
