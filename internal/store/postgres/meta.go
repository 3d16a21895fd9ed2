package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jilt-connector/internal/platform"
)

// Meta tables.
const (
	OrderMetaTable = "order_meta"
	UserMetaTable  = "user_meta"
)

// MetaStore keeps key/value metadata for numbered objects in one table.
type MetaStore struct {
	pool    *pgxpool.Pool
	table   string
	queries metaQueries
}

type metaQueries struct {
	get, set, del, find string
}

var _ platform.MetaStore = (*MetaStore)(nil)

// NewOrderMetaStore returns the MetaStore for storefront orders.
func NewOrderMetaStore(pool *pgxpool.Pool) *MetaStore {
	return newMetaStore(pool, OrderMetaTable)
}

// NewUserMetaStore returns the MetaStore for storefront users.
func NewUserMetaStore(pool *pgxpool.Pool) *MetaStore {
	return newMetaStore(pool, UserMetaTable)
}

// table is always one of the package constants, never caller input.
func newMetaStore(pool *pgxpool.Pool, table string) *MetaStore {
	return &MetaStore{
		pool:  pool,
		table: table,
		queries: metaQueries{
			get: fmt.Sprintf(`SELECT meta_value FROM %s WHERE object_id = $1 AND meta_key = $2`, table),
			set: fmt.Sprintf(`
INSERT INTO %s (object_id, meta_key, meta_value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (object_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value, updated_at = now()
`, table),
			del:  fmt.Sprintf(`DELETE FROM %s WHERE object_id = $1 AND meta_key = $2`, table),
			find: fmt.Sprintf(`SELECT object_id FROM %s WHERE meta_key = $1 AND meta_value = $2 ORDER BY object_id LIMIT 1`, table),
		},
	}
}

// GetMeta returns the value, or "" when the key is unset.
func (s *MetaStore) GetMeta(ctx context.Context, objectID int64, key string) (string, error) {
	var value string
	if err := s.pool.QueryRow(ctx, s.queries.get, objectID, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s %d/%s: %w", s.table, objectID, key, err)
	}
	return value, nil
}

func (s *MetaStore) SetMeta(ctx context.Context, objectID int64, key, value string) error {
	if _, err := s.pool.Exec(ctx, s.queries.set, objectID, key, value); err != nil {
		return fmt.Errorf("writing %s %d/%s: %w", s.table, objectID, key, err)
	}
	return nil
}

func (s *MetaStore) DeleteMeta(ctx context.Context, objectID int64, key string) error {
	if _, err := s.pool.Exec(ctx, s.queries.del, objectID, key); err != nil {
		return fmt.Errorf("deleting %s %d/%s: %w", s.table, objectID, key, err)
	}
	return nil
}

// FindByMeta returns the lowest object id holding key=value, or 0.
func (s *MetaStore) FindByMeta(ctx context.Context, key, value string) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, s.queries.find, key, value).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("searching %s for %s: %w", s.table, key, err)
	}
	return id, nil
}
