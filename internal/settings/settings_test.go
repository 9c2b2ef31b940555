package settings_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/dmscreen/internal/config"
	"github.com/cory-johannsen/dmscreen/internal/settings"
	"github.com/cory-johannsen/dmscreen/internal/testutil"
)

// exerciseStore runs the shared Store contract against s.
func exerciseStore(t *testing.T, s settings.Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "combat_tracker_state")
	assert.ErrorIs(t, err, settings.ErrNotFound)

	require.NoError(t, s.Set(ctx, "combat_tracker_state", []byte(`{"round":3}`)))
	got, err := s.Get(ctx, "combat_tracker_state")
	require.NoError(t, err)
	assert.Equal(t, `{"round":3}`, string(got))

	require.NoError(t, s.Set(ctx, "combat_tracker_state", []byte(`{"round":4}`)))
	require.NoError(t, s.Set(ctx, "other", []byte("x")))
	got, err = s.Get(ctx, "combat_tracker_state")
	require.NoError(t, err)
	assert.Equal(t, `{"round":4}`, string(got))

	require.NoError(t, s.Set(ctx, "empty", nil))
	got, err = s.Get(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFile_Contract(t *testing.T) {
	f, err := settings.OpenFile(filepath.Join(t.TempDir(), "nested", "settings.yaml"))
	require.NoError(t, err)
	exerciseStore(t, f)
	assert.NoError(t, f.Close())
}

func TestFile_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	f, err := settings.OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Set(context.Background(), "k", []byte("line one\nline two")))

	again, err := settings.OpenFile(path)
	require.NoError(t, err)
	got, err := again.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", string(got))
}

func TestFile_RejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- not\n- a map\n"), 0o644))
	_, err := settings.OpenFile(path)
	assert.Error(t, err)
}

func TestFile_ConcurrentSets(t *testing.T) {
	f, err := settings.OpenFile(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, f.Set(context.Background(), string(rune('a'+i)), []byte{byte('0' + i)}))
		}(i)
	}
	wg.Wait()
	for i := 0; i < 8; i++ {
		got, err := f.Get(context.Background(), string(rune('a'+i)))
		require.NoError(t, err)
		assert.Equal(t, []byte{byte('0' + i)}, got)
	}
}

func TestSQLite_Contract(t *testing.T) {
	s, err := settings.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestSQLite_InMemory(t *testing.T) {
	s, err := settings.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestSQLite_RequiresPath(t *testing.T) {
	_, err := settings.OpenSQLite(context.Background(), " ")
	assert.Error(t, err)
}

func TestSQLite_Property_LastWriteWins(t *testing.T) {
	s, err := settings.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	rapid.Check(t, func(rt *rapid.T) {
		key := rapid.StringMatching(`[a-z_]{1,12}`).Draw(rt, "key")
		values := rapid.SliceOfN(rapid.SliceOf(rapid.Byte()), 1, 5).Draw(rt, "values")
		for _, v := range values {
			if err := s.Set(context.Background(), key, v); err != nil {
				rt.Fatalf("set: %v", err)
			}
		}
		got, err := s.Get(context.Background(), key)
		if err != nil {
			rt.Fatalf("get: %v", err)
		}
		want := values[len(values)-1]
		if string(got) != string(want) {
			rt.Fatalf("got %v, want %v", got, want)
		}
	})
}

func TestPostgres_Contract(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	exerciseStore(t, settings.NewPostgres(pc.Pool))
}

func TestOpen_SelectsBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{Settings: config.SettingsConfig{Backend: "file", Path: filepath.Join(dir, "s.yaml"), Key: "k"}}
	s, err := settings.Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &settings.File{}, s)

	cfg.Settings = config.SettingsConfig{Backend: "sqlite", Path: filepath.Join(dir, "s.db"), Key: "k"}
	s, err = settings.Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &settings.SQLite{}, s)
	assert.NoError(t, s.Close())

	cfg.Settings.Backend = "etcd"
	_, err = settings.Open(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
