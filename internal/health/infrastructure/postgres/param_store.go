package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const defaultParamTable = "sync_params"

// ParamStore persists sync state as key-value rows so the auth block and
// frequency hold survive process restarts.
type ParamStore struct {
	db    *sql.DB
	table string
}

// StoreOption configures the store.
type StoreOption func(*ParamStore)

// WithTable overrides the default table name.
func WithTable(table string) StoreOption {
	return func(store *ParamStore) {
		if table != "" {
			store.table = table
		}
	}
}

// NewParamStore constructs a store with the default table name.
func NewParamStore(db *sql.DB, opts ...StoreOption) *ParamStore {
	store := &ParamStore{db: db, table: defaultParamTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Get returns the value for key, or "" when the key does not exist.
func (s *ParamStore) Get(ctx context.Context, key string) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("param store: nil db")
	}
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = $1", s.table)
	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// Set upserts one key-value pair.
func (s *ParamStore) Set(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return errors.New("param store: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (key, value, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`, s.table)
	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}
