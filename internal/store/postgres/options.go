package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jilt-connector/internal/platform"
)

// OptionStore keeps named options in the options table.
type OptionStore struct {
	pool *pgxpool.Pool
}

var _ platform.OptionStore = (*OptionStore)(nil)

// NewOptionStore returns an OptionStore backed by pool.
func NewOptionStore(pool *pgxpool.Pool) *OptionStore {
	return &OptionStore{pool: pool}
}

// GetOption returns the stored value, or "" when the option is unset.
func (s *OptionStore) GetOption(ctx context.Context, name string) (string, error) {
	const q = `SELECT value FROM options WHERE name = $1`
	var value string
	if err := s.pool.QueryRow(ctx, q, name).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("reading option %s: %w", name, err)
	}
	return value, nil
}

func (s *OptionStore) SetOption(ctx context.Context, name, value string) error {
	const q = `
INSERT INTO options (name, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
`
	if _, err := s.pool.Exec(ctx, q, name, value); err != nil {
		return fmt.Errorf("writing option %s: %w", name, err)
	}
	return nil
}
