// Package sqlitestore keeps preferences in a SQLite database.
//
// SQLite has no change feed, so the store does not implement pref.Observer.
// Bindings over it update on their own writes only; edits by other
// processes are seen by bindings created afterwards.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	pref "github.com/goliatone/go-preference"
	"github.com/goliatone/go-preference/pkg/state"
	"github.com/goliatone/go-preference/pkg/wire"
)

//go:embed schema.sql
var schemaSQL string

const defaultTimeout = 5 * time.Second

// Store is a pref.Store backed by one SQLite table shared by every ref.
// Backend failures are logged and read as absence.
type Store struct {
	db       *sql.DB
	ref      state.Ref
	refID    string
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time
	ownsConn bool
}

var (
	_ pref.Store  = (*Store)(nil)
	_ pref.Lister = (*Store)(nil)
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

// WithTimeout bounds every statement.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Open creates or opens the database at path (":memory:" works) and
// applies the schema.
func Open(path string, ref state.Ref, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: connect %s: %w", path, err)
	}
	// One writer at a time avoids SQLITE_BUSY; it also keeps ":memory:" on
	// a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	s, err := New(db, ref, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsConn = true
	return s, nil
}

// New wraps an existing database. The schema is applied; db stays owned by
// the caller.
func New(db *sql.DB, ref state.Ref, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlitestore: db is required")
	}
	refID, err := ref.Identifier()
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, fmt.Errorf("sqlitestore: apply schema: %w", err)
	}
	s := &Store{
		db:      db,
		ref:     ref,
		refID:   refID,
		logger:  zap.NewNop(),
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = s.logger.With(zap.String("ref", refID))
	return s, nil
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) Get(key string) (any, bool) {
	if !s.valid(key) {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE ref = ? AND key = ?`, s.refID, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("sqlitestore: get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	value, err := wire.Unmarshal(data)
	if err != nil {
		s.logger.Warn("sqlitestore: undecodable value", zap.String("key", key), zap.Error(err))
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
	if !s.valid(key) {
		return
	}
	data, err := wire.Marshal(value)
	if err != nil {
		s.logger.Warn("sqlitestore: unencodable value", zap.String("key", key), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preferences (ref, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (ref, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.refID, key, data, s.now().UnixNano(),
	)
	if err != nil {
		s.logger.Warn("sqlitestore: set failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) Remove(key string) {
	if !s.valid(key) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE ref = ? AND key = ?`, s.refID, key); err != nil {
		s.logger.Warn("sqlitestore: remove failed", zap.String("key", key), zap.Error(err))
	}
}

// Keys returns the keys stored for the ref, sorted.
func (s *Store) Keys() []string {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM preferences WHERE ref = ? ORDER BY key`, s.refID)
	if err != nil {
		s.logger.Warn("sqlitestore: keys failed", zap.Error(err))
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			s.logger.Warn("sqlitestore: scan key", zap.Error(err))
			return keys
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("sqlitestore: iterate keys", zap.Error(err))
	}
	return keys
}

// UpdatedAt reports when key was last written.
func (s *Store) UpdatedAt(key string) (time.Time, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	var nanos int64
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at FROM preferences WHERE ref = ? AND key = ?`, s.refID, key,
	).Scan(&nanos)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if !s.ownsConn {
		return nil
	}
	return s.db.Close()
}

func (s *Store) valid(key string) bool {
	if _, err := s.ref.StorageKey(key); err != nil {
		s.logger.Warn("sqlitestore: invalid key", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
