package filestore_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	pref "github.com/goliatone/go-preference"
	"github.com/goliatone/go-preference/pkg/state/filestore"
)

func openStore(t *testing.T, contents string) (*filestore.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	if contents != "" {
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	}
	store, err := filestore.Open(path, filestore.WithLogger(zaptest.NewLogger(t)), filestore.WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func readFile(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	values := map[string]any{}
	require.NoError(t, yaml.Unmarshal(data, &values))
	return values
}

type changeLog struct {
	mu      sync.Mutex
	changes []pref.Change
}

func (l *changeLog) add(change pref.Change) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, change)
}

func (l *changeLog) last() (pref.Change, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.changes) == 0 {
		return pref.Change{}, 0
	}
	return l.changes[len(l.changes)-1], len(l.changes)
}

func TestOpenLoadsExistingFile(t *testing.T) {
	store, _ := openStore(t, "theme: dark\nsize: 12\nbad.key: 1\n")

	value, ok := store.Get("theme")
	require.True(t, ok)
	assert.Equal(t, "dark", value)
	assert.Equal(t, []string{"size", "theme"}, store.Keys())
}

func TestSetAndRemovePersist(t *testing.T) {
	store, path := openStore(t, "")

	store.Set("recent", []any{"a.txt", "b.txt"})
	store.Set("size", 14)
	assert.Equal(t, map[string]any{"recent": []any{"a.txt", "b.txt"}, "size": 14}, readFile(t, path))

	store.Remove("size")
	store.Set("recent", nil)
	assert.Empty(t, readFile(t, path))
	_, ok := store.Get("recent")
	assert.False(t, ok)
}

func TestReloadReportsExternalEdits(t *testing.T) {
	store, path := openStore(t, "theme: dark\nsize: 12\n")
	theme, size := &changeLog{}, &changeLog{}
	store.Observe("theme", theme.add)
	store.Observe("size", size.add)

	require.NoError(t, os.WriteFile(path, []byte("theme: light\nsize: 12\n"), 0o600))
	require.NoError(t, store.Reload())

	change, count := theme.last()
	require.Equal(t, 1, count)
	assert.Equal(t, "light", change.Value)
	_, count = size.last()
	assert.Zero(t, count, "unchanged key must not notify")

	require.NoError(t, os.WriteFile(path, []byte("size: 12\n"), 0o600))
	require.NoError(t, store.Reload())
	change, _ = theme.last()
	assert.True(t, change.Removed)
}

func TestReloadKeepsStateOnParseError(t *testing.T) {
	store, path := openStore(t, "theme: dark\n")

	require.NoError(t, os.WriteFile(path, []byte("theme: [unterminated\n"), 0o600))
	assert.Error(t, store.Reload())

	value, ok := store.Get("theme")
	require.True(t, ok)
	assert.Equal(t, "dark", value)
}

func TestWatcherPicksUpExternalEdits(t *testing.T) {
	store, path := openStore(t, "volume: 3\n")
	volume := &changeLog{}
	store.Observe("volume", volume.add)

	require.NoError(t, os.WriteFile(path, []byte("volume: 7\n"), 0o600))

	require.Eventually(t, func() bool {
		change, _ := volume.last()
		return change.Value == 7
	}, 5*time.Second, 20*time.Millisecond)
}

func TestOwnWritesAreReportedOnce(t *testing.T) {
	store, _ := openStore(t, "")
	volume := &changeLog{}
	store.Observe("volume", volume.add)

	store.Set("volume", 5)
	// Give the watcher time to see the rewrite; identical contents must not
	// notify again.
	time.Sleep(100 * time.Millisecond)

	change, count := volume.last()
	assert.Equal(t, 1, count)
	assert.Equal(t, 5, change.Value)
}

func TestBytesBindingSurvivesOwnReload(t *testing.T) {
	store, path := openStore(t, "")
	blob := pref.New("blob", []byte("dflt"), pref.Bytes(), store)
	defer blob.Close()

	var (
		mu   sync.Mutex
		seen [][]byte
	)
	blob.Subscribe(func(value []byte) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, value)
	})

	blob.Set([]byte{1, 2, 0xff})
	// Let the watcher reload the rewrite.
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, []byte{1, 2, 0xff}, blob.Get())
	mu.Lock()
	assert.Equal(t, [][]byte{{1, 2, 0xff}}, seen)
	mu.Unlock()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "blob: !!binary AQL/")

	require.NoError(t, store.Close())
	reopened, err := filestore.Open(path, filestore.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer reopened.Close()
	value, ok := reopened.Get("blob")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 0xff}, value)
}

func TestBinaryValuesInsideContainers(t *testing.T) {
	store, path := openStore(t, "")

	store.Set("keys", map[string]any{"primary": []byte("k1"), "names": []any{"a", []byte{0}}})

	other, err := filestore.Open(path, filestore.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	defer other.Close()
	value, ok := other.Get("keys")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"primary": []byte("k1"), "names": []any{"a", []byte{0}}}, value)

	require.NoError(t, os.WriteFile(path, []byte("token: !!binary aGVsbG8=\nplain: aGVsbG8=\n"), 0o600))
	require.NoError(t, store.Reload())
	token, _ := store.Get("token")
	plain, _ := store.Get("plain")
	assert.Equal(t, []byte("hello"), token)
	assert.Equal(t, "aGVsbG8=", plain)
}
