package natsstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pref "github.com/goliatone/go-preference"
	"github.com/goliatone/go-preference/pkg/state"
	"github.com/goliatone/go-preference/pkg/state/natsstore"
)

// testJetStream connects to a local NATS server with JetStream or skips.
func testJetStream(t *testing.T) nats.JetStreamContext {
	t.Helper()
	nc, err := nats.Connect(nats.DefaultURL, nats.Timeout(time.Second))
	if err != nil {
		t.Skip("NATS is not available for testing:", err)
	}
	t.Cleanup(nc.Close)
	js, err := nc.JetStream()
	if err != nil {
		t.Skip("JetStream is not available for testing:", err)
	}
	if _, err := js.AccountInfo(); err != nil {
		t.Skip("JetStream is not enabled:", err)
	}
	return js
}

func newStore(t *testing.T, js nats.JetStreamContext, bucket string) *natsstore.Store {
	t.Helper()
	store, err := natsstore.New(context.Background(), js, state.Ref{Suite: "editor", Scope: state.ScopeUser, ScopeID: "u1"},
		natsstore.WithBucket(bucket),
		natsstore.WithMemoryStorage(),
		natsstore.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testBucket(t *testing.T, js nats.JetStreamContext) string {
	t.Helper()
	bucket := fmt.Sprintf("pref_test_%d", time.Now().UnixNano())
	t.Cleanup(func() { _ = js.DeleteKeyValue(bucket) })
	return bucket
}

func TestNewRequiresJetStream(t *testing.T) {
	_, err := natsstore.New(context.Background(), nil, state.Ref{Suite: "editor"})
	assert.Error(t, err)
}

func TestGetSetRemove(t *testing.T) {
	js := testJetStream(t)
	store := newStore(t, js, testBucket(t, js))

	_, ok := store.Get("theme")
	assert.False(t, ok)

	store.Set("theme", "dark")
	store.Set("size", 12)
	value, ok := store.Get("theme")
	require.True(t, ok)
	assert.Equal(t, "dark", value)
	size, _ := store.Get("size")
	assert.Equal(t, int64(12), size)
	assert.Equal(t, []string{"size", "theme"}, store.Keys())

	store.Remove("theme")
	_, ok = store.Get("theme")
	assert.False(t, ok)
}

func TestObserveAcrossConnections(t *testing.T) {
	js := testJetStream(t)
	bucket := testBucket(t, js)
	store := newStore(t, js, bucket)
	other := newStore(t, testJetStream(t), bucket)

	var (
		mu      sync.Mutex
		changes []pref.Change
	)
	cancel := store.Observe("volume", func(change pref.Change) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, change)
	})
	defer cancel()

	other.Set("volume", 3)
	other.Remove("volume")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 2
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(3), changes[0].Value)
	assert.True(t, changes[1].Removed)
}

func TestBindingOverNATS(t *testing.T) {
	js := testJetStream(t)
	bucket := testBucket(t, js)
	store := newStore(t, js, bucket)
	other := newStore(t, js, bucket)

	theme := pref.New("theme", "light", pref.String(), store)
	defer theme.Close()

	theme.Set("dark")
	assert.Equal(t, "dark", theme.Get())

	other.Set("theme", "sepia")
	require.Eventually(t, func() bool { return theme.Get() == "sepia" }, 3*time.Second, 20*time.Millisecond)
}
