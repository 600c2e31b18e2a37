package state

import (
	"reflect"
	"slices"
	"sync"

	pref "github.com/goliatone/go-preference"
	"github.com/goliatone/go-preference/internal/rawvalue"
)

// MemoryStore is an in-process pref.Store that reports every mutation to its
// observers synchronously, on the goroutine that made it. Values are copied
// on the way in and out so callers never share containers with the store.
//
// Notifications carry the value held when the observers run, not the value
// the mutation wrote. Mutations that land while a key's observers are running
// are coalesced into one more round for that key, so the last notification
// always reflects the last write and callbacks may write back to the store.
type MemoryStore struct {
	mu        sync.RWMutex
	values    map[string]any
	versions  map[string]uint64
	observers Observers

	feedMu sync.Mutex
	feeds  map[string]*feed
}

type feed struct {
	dirty     bool
	delivered uint64
}

var (
	_ pref.ObservingStore = (*MemoryStore)(nil)
	_ pref.Lister         = (*MemoryStore)(nil)
)

// NewMemoryStore returns a store seeded with a copy of initial.
func NewMemoryStore(initial map[string]any) *MemoryStore {
	values := make(map[string]any, len(initial))
	for key, value := range initial {
		values[key] = rawvalue.Clone(value)
	}
	return &MemoryStore{values: values}
}

func (s *MemoryStore) Get(key string) (any, bool) {
	s.mu.RLock()
	value, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return rawvalue.Clone(value), true
}

// Set stores value under key. A nil value removes the key.
func (s *MemoryStore) Set(key string, value any) {
	if value == nil {
		s.Remove(key)
		return
	}
	stored := rawvalue.Clone(value)
	s.mu.Lock()
	if s.values == nil {
		s.values = map[string]any{}
	}
	s.values[key] = stored
	s.bump(key)
	s.mu.Unlock()

	s.notify(key)
}

// Remove deletes key. Observers hear about it only when the key existed.
func (s *MemoryStore) Remove(key string) {
	s.mu.Lock()
	_, existed := s.values[key]
	delete(s.values, key)
	if existed {
		s.bump(key)
	}
	s.mu.Unlock()

	if existed {
		s.notify(key)
	}
}

// bump advances the version of key. Callers hold mu.
func (s *MemoryStore) bump(key string) {
	if s.versions == nil {
		s.versions = map[string]uint64{}
	}
	s.versions[key]++
}

func (s *MemoryStore) notify(key string) {
	if !s.observers.Observed(key) {
		return
	}

	s.feedMu.Lock()
	if f, ok := s.feeds[key]; ok {
		f.dirty = true
		s.feedMu.Unlock()
		return
	}
	if s.feeds == nil {
		s.feeds = map[string]*feed{}
	}
	f := &feed{}
	s.feeds[key] = f

	for {
		f.dirty = false
		s.feedMu.Unlock()

		s.mu.RLock()
		value, ok := s.values[key]
		version := s.versions[key]
		s.mu.RUnlock()

		if version != f.delivered {
			f.delivered = version
			s.observers.Notify(pref.Change{Key: key, Value: rawvalue.Clone(value), Removed: !ok})
		}

		s.feedMu.Lock()
		if !f.dirty {
			delete(s.feeds, key)
			s.feedMu.Unlock()
			return
		}
	}
}

func (s *MemoryStore) Observe(key string, fn func(pref.Change)) (cancel func()) {
	return s.observers.Add(key, fn)
}

// Keys returns the stored keys, sorted.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Snapshot returns a copy of every stored value.
func (s *MemoryStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for key, value := range s.values {
		out[key] = rawvalue.Clone(value)
	}
	return out
}

// Replace swaps the whole contents for a copy of values and notifies
// observers of every key whose value changed, as if another process had
// rewritten the store.
func (s *MemoryStore) Replace(values map[string]any) {
	next := make(map[string]any, len(values))
	for key, value := range values {
		if value != nil {
			next[key] = rawvalue.Clone(value)
		}
	}

	s.mu.Lock()
	changes := Diff(s.values, next)
	s.values = next
	for _, change := range changes {
		s.bump(change.Key)
	}
	s.mu.Unlock()

	for _, change := range changes {
		s.notify(change.Key)
	}
}

// Diff lists the changes that turn prev into next, sorted by key.
func Diff(prev, next map[string]any) []pref.Change {
	keys := make([]string, 0, len(prev)+len(next))
	for key := range prev {
		keys = append(keys, key)
	}
	for key := range next {
		if _, ok := prev[key]; !ok {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	changes := make([]pref.Change, 0, len(keys))
	for _, key := range keys {
		value, ok := next[key]
		old, had := prev[key]
		if ok && had && reflect.DeepEqual(old, value) {
			continue
		}
		if !ok {
			changes = append(changes, pref.Change{Key: key, Removed: true})
			continue
		}
		changes = append(changes, pref.Change{Key: key, Value: rawvalue.Clone(value)})
	}
	return changes
}
