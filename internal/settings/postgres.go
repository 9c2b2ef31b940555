package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/cory-johannsen/dmscreen/internal/storage/postgres"
)

// Postgres adapts the postgres settings repository to Store.
type Postgres struct {
	pool *postgres.Pool
	repo *postgres.SettingsRepository
}

// NewPostgres takes ownership of pool; Close closes it.
//
// Precondition: the settings table must exist (cmd/migrate).
func NewPostgres(pool *postgres.Pool) *Postgres {
	return &Postgres{pool: pool, repo: pool.Settings()}
}

// Get implements Store.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	s, err := p.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, postgres.ErrSettingNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
		}
		return nil, err
	}
	return s.Value, nil
}

// Set implements Store.
func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	return p.repo.Put(ctx, key, value)
}

// Close implements Store.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
