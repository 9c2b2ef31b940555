// Package settings persists opaque key/value blobs such as the combat
// tracker's panel state.
package settings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/dmscreen/internal/config"
	"github.com/cory-johannsen/dmscreen/internal/storage/postgres"
)

// ErrNotFound is returned by Get when key has never been set.
var ErrNotFound = errors.New("setting not found")

// Store is a key/value settings backend. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Close releases the backend.
	Close() error
}

// Open builds the backend selected by cfg.Settings.
//
// Precondition: cfg must have passed Validate.
// Postcondition: Returns an open Store or a non-nil error.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Settings.Backend {
	case "file":
		return OpenFile(cfg.Settings.Path)
	case "sqlite":
		return OpenSQLite(ctx, cfg.Settings.Path)
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("opening settings database: %w", err)
		}
		return NewPostgres(pool), nil
	default:
		logger.Error("unknown settings backend", zap.String("backend", cfg.Settings.Backend))
		return nil, fmt.Errorf("unknown settings backend %q", cfg.Settings.Backend)
	}
}
