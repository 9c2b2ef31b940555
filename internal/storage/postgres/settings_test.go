package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/dmscreen/internal/storage/postgres"
	"github.com/cory-johannsen/dmscreen/internal/testutil"
)

func setupSettings(t *testing.T) *postgres.SettingsRepository {
	t.Helper()
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return postgres.NewSettingsRepository(pc.RawPool)
}

func TestSettingsRepository_RoundTrip(t *testing.T) {
	repo := setupSettings(t)
	ctx := context.Background()

	_, err := repo.Get(ctx, "combat_tracker_state")
	assert.ErrorIs(t, err, postgres.ErrSettingNotFound)

	require.NoError(t, repo.Put(ctx, "combat_tracker_state", []byte(`{"round":1}`)))
	got, err := repo.Get(ctx, "combat_tracker_state")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"round":1}`), got.Value)
	assert.WithinDuration(t, time.Now(), got.UpdatedAt, time.Minute)

	require.NoError(t, repo.Put(ctx, "combat_tracker_state", []byte(`{"round":2}`)))
	got, err = repo.Get(ctx, "combat_tracker_state")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"round":2}`), got.Value)

	require.NoError(t, repo.Delete(ctx, "combat_tracker_state"))
	assert.ErrorIs(t, repo.Delete(ctx, "combat_tracker_state"), postgres.ErrSettingNotFound)
}

func TestPool_Health(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	assert.NoError(t, pc.Pool.Health(context.Background(), 5*time.Second))
}
