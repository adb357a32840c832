package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists the activity name cache in the name_cache table.
// It satisfies namecache.Store.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT label, short_name FROM name_cache`)
	if err != nil {
		return nil, fmt.Errorf("query name cache: %w", err)
	}
	defer rows.Close()

	entries := map[string]string{}
	for rows.Next() {
		var label, short string
		if err := rows.Scan(&label, &short); err != nil {
			return nil, fmt.Errorf("scan name cache: %w", err)
		}
		entries[label] = short
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate name cache: %w", err)
	}
	return entries, nil
}

// Save upserts every entry in one transaction. Rows are never deleted
// because cache entries are never evicted.
func (s *PostgresStore) Save(ctx context.Context, entries map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin name cache tx: %w", err)
	}

	const upsert = `
		INSERT INTO name_cache (label, short_name)
		VALUES ($1, $2)
		ON CONFLICT (label) DO UPDATE
		SET short_name = EXCLUDED.short_name, updated_at = NOW()
		WHERE name_cache.short_name <> EXCLUDED.short_name
	`
	for label, short := range entries {
		if _, err := tx.ExecContext(ctx, upsert, label, short); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert %q: %w", label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit name cache: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
