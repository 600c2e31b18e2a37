package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	pref "github.com/goliatone/go-preference"
	"github.com/goliatone/go-preference/internal/config"
	"github.com/goliatone/go-preference/pkg/state"
	"github.com/goliatone/go-preference/pkg/state/filestore"
	"github.com/goliatone/go-preference/pkg/state/natsstore"
	"github.com/goliatone/go-preference/pkg/state/redisstore"
	"github.com/goliatone/go-preference/pkg/state/sqlitestore"
)

// openBackend connects the configured application store. The returned
// closer releases the store and any client it owns.
func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (pref.Store, func() error, error) {
	logger = logger.With(zap.String("backend", cfg.Backend))

	switch cfg.Backend {
	case config.BackendMemory:
		return state.NewMemoryStore(nil), func() error { return nil }, nil

	case config.BackendFile:
		if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("prepare %s: %w", cfg.File.Path, err)
		}
		store, err := filestore.Open(cfg.File.Path, filestore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		opts := []redisstore.Option{redisstore.WithLogger(logger), redisstore.WithDB(cfg.Redis.DB)}
		if cfg.Redis.KeyspaceEvents {
			opts = append(opts, redisstore.WithKeyspaceEvents())
		}
		store, err := redisstore.New(ctx, client, cfg.Ref.State(), opts...)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, func() error { return errors.Join(store.Close(), client.Close()) }, nil

	case config.BackendNATS:
		conn, err := nats.Connect(cfg.NATS.URL, nats.Name("prefctl"))
		if err != nil {
			return nil, nil, fmt.Errorf("connect %s: %w", cfg.NATS.URL, err)
		}
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("jetstream: %w", err)
		}
		store, err := natsstore.New(ctx, js, cfg.Ref.State(),
			natsstore.WithLogger(logger),
			natsstore.WithBucket(cfg.NATS.Bucket),
		)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return store, func() error {
			err := store.Close()
			conn.Close()
			return err
		}, nil

	case config.BackendSQLite:
		store, err := sqlitestore.Open(cfg.SQLite.Path, cfg.Ref.State(), sqlitestore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return nil, nil, fmt.Errorf("%w %q", config.ErrUnknownBackend, cfg.Backend)
}
