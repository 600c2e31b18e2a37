// Package redisstore keeps preferences in Redis and follows changes made by
// any client through keyspace notifications.
//
// Keys are stored as "<ref identifier>/<key>" with values in the pkg/wire
// envelope. Observation needs keyspace events for generic and string
// commands ("K$g" or wider) enabled on the server; WithKeyspaceEvents turns
// them on at construction.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	pref "github.com/goliatone/go-preference"
	"github.com/goliatone/go-preference/pkg/state"
	"github.com/goliatone/go-preference/pkg/wire"
)

const (
	defaultTimeout = 3 * time.Second
	keyspaceEvents = "K$gx"
	scanBatch      = 100
)

// Store is a pref.Store backed by Redis. Backend failures are logged and
// read as absence.
type Store struct {
	client   redis.UniversalClient
	ref      state.Ref
	prefix   string
	db       int
	timeout  time.Duration
	logger   *zap.Logger
	enableKS bool

	observers state.Observers

	subOnce sync.Once
	sub     *redis.PubSub
	done    chan struct{}
	wg      sync.WaitGroup
	closed  sync.Once
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

// WithTimeout bounds every Redis round trip.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithDB names the logical database the client uses, which keyspace channel
// names embed. Defaults to 0.
func WithDB(db int) Option {
	return func(s *Store) {
		s.db = db
	}
}

// WithKeyspaceEvents enables the keyspace notifications observation relies
// on with CONFIG SET. Managed servers often refuse CONFIG; configure them
// out of band instead.
func WithKeyspaceEvents() Option {
	return func(s *Store) {
		s.enableKS = true
	}
}

// New returns a store for ref over client. The client stays owned by the
// caller.
func New(ctx context.Context, client redis.UniversalClient, ref state.Ref, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	identifier, err := ref.Identifier()
	if err != nil {
		return nil, err
	}
	s := &Store{
		client:  client,
		ref:     ref,
		prefix:  identifier + "/",
		timeout: defaultTimeout,
		logger:  zap.NewNop(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With(zap.String("ref", identifier))

	if s.enableKS {
		cctx, cancel := s.context(ctx)
		defer cancel()
		if err := client.ConfigSet(cctx, "notify-keyspace-events", keyspaceEvents).Err(); err != nil {
			return nil, fmt.Errorf("redisstore: enable keyspace events: %w", err)
		}
	}
	return s, nil
}

func (s *Store) Get(key string) (any, bool) {
	storageKey, err := s.ref.StorageKey(key)
	if err != nil {
		s.logger.Warn("redisstore: invalid key", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	ctx, cancel := s.context(context.Background())
	defer cancel()

	data, err := s.client.Get(ctx, storageKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("redisstore: get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	value, err := wire.Unmarshal(data)
	if err != nil {
		s.logger.Warn("redisstore: undecodable value", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return value, value != nil
}

// Set stores value under key. A nil value removes key.
func (s *Store) Set(key string, value any) {
	if value == nil {
		s.Remove(key)
		return
	}
	storageKey, err := s.ref.StorageKey(key)
	if err != nil {
		s.logger.Warn("redisstore: invalid key", zap.String("key", key), zap.Error(err))
		return
	}
	data, err := wire.Marshal(value)
	if err != nil {
		s.logger.Warn("redisstore: unencodable value", zap.String("key", key), zap.Error(err))
		return
	}
	ctx, cancel := s.context(context.Background())
	defer cancel()
	if err := s.client.Set(ctx, storageKey, data, 0).Err(); err != nil {
		s.logger.Warn("redisstore: set failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) Remove(key string) {
	storageKey, err := s.ref.StorageKey(key)
	if err != nil {
		s.logger.Warn("redisstore: invalid key", zap.String("key", key), zap.Error(err))
		return
	}
	ctx, cancel := s.context(context.Background())
	defer cancel()
	if err := s.client.Del(ctx, storageKey).Err(); err != nil {
		s.logger.Warn("redisstore: del failed", zap.String("key", key), zap.Error(err))
	}
}

// Keys scans the keys under the ref, sorted.
func (s *Store) Keys() []string {
	ctx, cancel := s.context(context.Background())
	defer cancel()

	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(s.prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		if key, ok := s.ref.KeyFromStorage(iter.Val()); ok {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn("redisstore: scan failed", zap.Error(err))
	}
	return sortedUnique(keys)
}

// Observe reports changes to key made by any client. The first call
// subscribes to the ref's keyspace channels.
func (s *Store) Observe(key string, fn func(pref.Change)) (cancel func()) {
	s.subOnce.Do(s.subscribe)
	return s.observers.Add(key, fn)
}

// Close stops observation. The client is left open.
func (s *Store) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.done)
		// Wait out a concurrent first Observe.
		s.subOnce.Do(func() {})
		if s.sub != nil {
			err = s.sub.Close()
		}
		s.wg.Wait()
	})
	return err
}

func (s *Store) subscribe() {
	select {
	case <-s.done:
		return
	default:
	}
	channelPrefix := fmt.Sprintf("__keyspace@%d__:", s.db)
	s.sub = s.client.PSubscribe(context.Background(), channelPrefix+escapeGlob(s.prefix)+"*")

	s.wg.Add(1)
	go s.listen(channelPrefix)
}

func (s *Store) listen(channelPrefix string) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.sub.Channel():
			if !ok {
				return
			}
			key, ok := s.ref.KeyFromStorage(strings.TrimPrefix(msg.Channel, channelPrefix))
			if !ok || !s.observers.Observed(key) {
				continue
			}
			// The event names the command, not the value; read the value the
			// key holds now so late events never regress an observer.
			value, found := s.Get(key)
			s.observers.Notify(pref.Change{Key: key, Value: value, Removed: !found})
		}
	}
}

func (s *Store) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

func escapeGlob(value string) string {
	var b strings.Builder
	for _, r := range value {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sortedUnique(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	slices.Sort(out)
	return out
}
