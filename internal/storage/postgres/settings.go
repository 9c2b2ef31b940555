package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSettingNotFound is returned when a settings lookup yields no results.
var ErrSettingNotFound = errors.New("setting not found")

// Setting is one stored key/value pair.
type Setting struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

// SettingsRepository provides key/value settings persistence.
type SettingsRepository struct {
	db *pgxpool.Pool
}

// NewSettingsRepository creates a SettingsRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool and the settings
// table must exist (see migrations/).
func NewSettingsRepository(db *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get retrieves the setting stored under key.
//
// Postcondition: Returns the Setting or ErrSettingNotFound.
func (r *SettingsRepository) Get(ctx context.Context, key string) (Setting, error) {
	var s Setting
	err := r.db.QueryRow(ctx,
		`SELECT key, value, updated_at FROM settings WHERE key = $1`,
		key,
	).Scan(&s.Key, &s.Value, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Setting{}, ErrSettingNotFound
		}
		return Setting{}, fmt.Errorf("querying setting: %w", err)
	}
	return s, nil
}

// Put inserts or replaces the value stored under key.
//
// Precondition: key must be non-empty.
// Postcondition: A subsequent Get(key) returns value.
func (r *SettingsRepository) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO settings (key, value, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("upserting setting: %w", err)
	}
	return nil
}

// Delete removes key.
//
// Postcondition: Returns ErrSettingNotFound when key was absent.
func (r *SettingsRepository) Delete(ctx context.Context, key string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM settings WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("deleting setting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSettingNotFound
	}
	return nil
}
