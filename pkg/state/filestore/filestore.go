// Package filestore keeps preferences in a YAML file and follows edits made
// to that file by other processes.
package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	pref "github.com/goliatone/go-preference"
	"github.com/goliatone/go-preference/pkg/state"
)

const defaultDebounce = 50 * time.Millisecond

const (
	binaryTag = "!!binary"
	nullTag   = "!!null"
)

// Store is a pref.Store persisted as a flat YAML mapping. Every Set and
// Remove rewrites the file atomically. External edits are picked up through
// fsnotify and reported to observers key by key.
type Store struct {
	path     string
	logger   *zap.Logger
	debounce time.Duration

	// mu serialises file access; disk mirrors the last contents written or
	// loaded.
	mu   sync.Mutex
	disk map[string]any

	mem     *state.MemoryStore
	watcher *fsnotify.Watcher

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var (
	_ pref.ObservingStore = (*Store)(nil)
	_ pref.Lister         = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for file and watch errors.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDebounce sets how long the watcher waits for a burst of file events to
// settle before reloading.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// Open loads path, which need not exist yet, and starts watching it.
func Open(path string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("filestore: resolve %s: %w", path, err)
	}
	s := &Store{
		path:     abs,
		logger:   zap.NewNop(),
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	disk, err := s.read()
	if err != nil {
		return nil, err
	}
	s.disk = disk
	s.mem = state.NewMemoryStore(disk)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filestore: create watcher: %w", err)
	}
	// Watch the directory so atomic replacements of the file are seen.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("filestore: watch %s: %w", filepath.Dir(abs), err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.watch()
	return s, nil
}

// Path returns the absolute path of the backing file.
func (s *Store) Path() string { return s.path }

func (s *Store) Get(key string) (any, bool) { return s.mem.Get(key) }

// Set stores value and rewrites the file. A nil value removes key.
func (s *Store) Set(key string, value any) {
	if value == nil {
		s.Remove(key)
		return
	}
	s.mu.Lock()
	next := make(map[string]any, len(s.disk)+1)
	for k, v := range s.disk {
		next[k] = v
	}
	next[key] = value
	s.commit(next)
	s.mu.Unlock()

	s.mem.Set(key, value)
}

func (s *Store) Remove(key string) {
	s.mu.Lock()
	if _, ok := s.disk[key]; ok {
		next := make(map[string]any, len(s.disk))
		for k, v := range s.disk {
			if k != key {
				next[k] = v
			}
		}
		s.commit(next)
	}
	s.mu.Unlock()

	s.mem.Remove(key)
}

func (s *Store) Observe(key string, fn func(pref.Change)) (cancel func()) {
	return s.mem.Observe(key, fn)
}

func (s *Store) Keys() []string { return s.mem.Keys() }

// Reload rereads the file and reports every key that differs from the last
// known contents. A file that fails to parse is logged and ignored so a
// half-saved edit does not wipe the preferences.
func (s *Store) Reload() error {
	s.mu.Lock()
	next, err := s.read()
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("filestore: reload failed", zap.String("path", s.path), zap.Error(err))
		return err
	}
	changes := state.Diff(s.disk, next)
	s.disk = next
	s.mu.Unlock()

	for _, change := range changes {
		if change.Removed {
			s.mem.Remove(change.Key)
			continue
		}
		s.mem.Set(change.Key, change.Value)
	}
	if len(changes) > 0 {
		s.logger.Debug("filestore: reloaded", zap.String("path", s.path), zap.Int("changes", len(changes)))
	}
	return nil
}

// Close stops the watcher. The store keeps serving reads from memory.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
		s.wg.Wait()
	})
	return err
}

// commit writes next to disk. Callers hold mu. A failed write is logged and
// the new contents are kept in memory. disk takes the parsed form of the
// encoded file so a reload of our own write compares equal.
func (s *Store) commit(next map[string]any) {
	data, err := encode(next)
	if err != nil {
		s.logger.Warn("filestore: encode failed", zap.String("path", s.path), zap.Error(err))
		s.disk = next
		return
	}
	if err := s.write(data); err != nil {
		s.logger.Warn("filestore: write failed", zap.String("path", s.path), zap.Error(err))
	}
	parsed, err := s.parse(data)
	if err != nil {
		s.disk = next
		return
	}
	s.disk = parsed
}

func (s *Store) read() (map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %s: %w", s.path, err)
	}
	return s.parse(data)
}

// parse decodes a top level mapping, restoring !!binary scalars as []byte.
// Keys that fail pref.ValidateKey are dropped.
func (s *Store) parse(data []byte) (map[string]any, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("filestore: parse %s: %w", s.path, err)
	}
	values := map[string]any{}
	if len(doc.Content) == 0 || doc.Content[0].ShortTag() == nullTag {
		return values, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("filestore: parse %s: top level is %s, want a mapping", s.path, root.ShortTag())
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		var key string
		if err := root.Content[i].Decode(&key); err != nil {
			return nil, fmt.Errorf("filestore: parse %s: line %d: %w", s.path, root.Content[i].Line, err)
		}
		if pref.ValidateKey(key) != nil {
			s.logger.Debug("filestore: skipping key", zap.String("key", key))
			continue
		}
		value, err := decodeNode(root.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("filestore: parse %s: %s: %w", s.path, key, err)
		}
		values[key] = value
	}
	return values, nil
}

func (s *Store) write(data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+"-*")
	if err != nil {
		return fmt.Errorf("filestore: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("filestore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("filestore: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("filestore: replace %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) watch() {
	defer s.wg.Done()

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-s.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				timer.Reset(s.debounce)
			}
			reload = timer.C
		case <-reload:
			reload = nil
			_ = s.Reload()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("filestore: watch error", zap.String("path", s.path), zap.Error(err))
		}
	}
}
