// Package sqlite implements store.Store on a local SQLite file using the
// pure-Go modernc.org/sqlite driver. A single connection serializes all
// access, matching SQLite's single-writer model and avoiding SQLITE_BUSY
// from concurrent writers opening independent connections.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/hiboss/hiboss/internal/model"
)

// bindingCacheSize bounds the in-memory (adapterType, adapterToken) →
// AgentBinding lookup cache the router consults on every inbound message.
const bindingCacheSize = 256

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger attaches a structured logger. Nil (the default) emits nothing.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements store.Store backed by a SQLite file.
type Store struct {
	db       *sqlx.DB
	logger   *slog.Logger
	bindings *lru.Cache[string, model.AgentBinding]
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool   { return false }
func (discardHandler) Handle(context.Context, slog.Record) error  { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler       { return d }
func (d discardHandler) WithGroup(string) slog.Handler            { return d }

// Open opens (creating if absent) the SQLite file at path, creates any
// missing tables, and returns a ready Store. path may be ":memory:" for
// tests, in which case the caller must keep the returned Store's single
// connection alive for the database's lifetime (a fresh connection would
// see an empty in-memory DB).
func Open(path string, opts ...Option) (*Store, error) {
	dsn := path
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	cache, err := lru.New[string, model.AgentBinding](bindingCacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create binding cache: %w", err)
	}

	s := &Store{db: db, logger: nopLogger, bindings: cache}
	for _, o := range opts {
		o(s)
	}

	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	s.logger.Debug("sqlite: store opened", "path", path)
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	return s.db.Close()
}

// invalidateBindingCache drops every cached binding lookup. Called after any
// write to agent_bindings; the table is small and writes rare (agent.set /
// agent.delete), so a full flush is simpler than targeted invalidation and
// never serves a stale binding.
func (s *Store) invalidateBindingCache() {
	s.bindings.Purge()
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
