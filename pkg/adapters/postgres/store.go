// Package postgres stores session records as JSONB rows so saves survive
// process and cache restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/tapestry/pkg/domain"
	"github.com/aretw0/tapestry/pkg/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "tapestry_sessions"

const (
	createTableQuery = `CREATE TABLE IF NOT EXISTS %s (
	key        TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	upsertQuery = `INSERT INTO %s (key, record, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET record = EXCLUDED.record, updated_at = NOW()`
	selectQuery = `SELECT record FROM %s WHERE key = $1`
	deleteQuery = `DELETE FROM %s WHERE key = $1`
	listQuery   = `SELECT key FROM %s ORDER BY key`
)

// Querier is the subset of pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store implements ports.SessionStore on PostgreSQL.
type Store struct {
	db    Querier
	table string
	pool  *pgxpool.Pool
}

var _ ports.SessionStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTable overrides the table name. The name is quoted as an identifier.
func WithTable(table string) Option {
	return func(s *Store) {
		s.table = table
	}
}

// Open connects a pool to dsn and returns a store that owns it.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	s := New(pool, opts...)
	s.pool = pool
	return s, nil
}

// New wraps an existing pool or connection. The caller keeps ownership.
func New(db Querier, opts ...Option) *Store {
	s := &Store{db: db, table: DefaultTable}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) query(format string) string {
	return fmt.Sprintf(format, pgx.Identifier{s.table}.Sanitize())
}

// EnsureSchema creates the sessions table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, s.query(createTableQuery)); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	return nil
}

// Save upserts the record under key.
func (s *Store) Save(ctx context.Context, key string, session *domain.Session) error {
	data, err := domain.MarshalRecord(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if _, err := s.db.Exec(ctx, s.query(upsertQuery), key, data); err != nil {
		return fmt.Errorf("failed to save session %q: %w", key, err)
	}
	return nil
}

// Load reads and validates the record under key.
func (s *Store) Load(ctx context.Context, key string) (*domain.Session, error) {
	var data []byte
	err := s.db.QueryRow(ctx, s.query(selectQuery), key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session %q: %w", key, err)
	}
	return domain.UnmarshalRecord(data)
}

// Delete removes the record. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, s.query(deleteQuery), key); err != nil {
		return fmt.Errorf("failed to delete session %q: %w", key, err)
	}
	return nil
}

// List returns all saved keys in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, s.query(listQuery))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan session keys: %w", err)
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// Close releases the pool when the store opened it.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
