package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/keep/config"
	"go.trai.ch/keep/entity"
	"go.trai.ch/keep/store/memstore"
	"go.trai.ch/keep/store/sqlite"
)

func write(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, config.FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, config.DriverMemory, cfg.Driver)
	assert.Empty(t, cfg.DSN)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLevel(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    slog.Level
		wantErr bool
	}{
		{name: "empty means info", in: "", want: slog.LevelInfo},
		{name: "debug", in: "debug", want: slog.LevelDebug},
		{name: "uppercase", in: "WARN", want: slog.LevelWarn},
		{name: "error", in: "error", want: slog.LevelError},
		{name: "unknown", in: "shouty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lvl, err := config.Config{LogLevel: tt.in}.Level()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, lvl)
		})
	}
}

func TestLoad(t *testing.T) {
	loader := config.NewLoader(nil)

	t.Run("file values", func(t *testing.T) {
		path := write(t, t.TempDir(), "driver: sqlite\ndsn: /tmp/keep.db\nlog_level: debug\n")
		cfg, err := loader.Load(path)
		require.NoError(t, err)
		assert.Equal(t, config.DriverSQLite, cfg.Driver)
		assert.Equal(t, "/tmp/keep.db", cfg.DSN)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("empty path loads defaults", func(t *testing.T) {
		cfg, err := loader.Load("")
		require.NoError(t, err)
		assert.Equal(t, config.Default(), cfg)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := write(t, t.TempDir(), "driver: memory\nlog_level: info\n")
		t.Setenv("KEEP_DRIVER", "sqlite")
		t.Setenv("KEEP_DSN", "/elsewhere/keep.db")

		cfg, err := loader.Load(path)
		require.NoError(t, err)
		assert.Equal(t, config.DriverSQLite, cfg.Driver)
		assert.Equal(t, "/elsewhere/keep.db", cfg.DSN)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("environment without file", func(t *testing.T) {
		t.Setenv("KEEP_LOG_LEVEL", "warn")

		cfg, err := loader.Load("")
		require.NoError(t, err)
		assert.Equal(t, config.DriverMemory, cfg.Driver)
		assert.Equal(t, "warn", cfg.LogLevel)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loader.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.ErrorIs(t, err, entity.ErrConfigNotFound)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := write(t, t.TempDir(), "driver: [\n")
		_, err := loader.Load(path)
		require.ErrorIs(t, err, entity.ErrDecodeFailed)
	})
}

func TestFind(t *testing.T) {
	loader := config.NewLoader(nil)

	t.Run("walks up to an ancestor", func(t *testing.T) {
		root := t.TempDir()
		path := write(t, root, "driver: memory\n")
		nested := filepath.Join(root, "sub", "deeper")
		require.NoError(t, os.MkdirAll(nested, 0o755))

		found, err := loader.Find(nested)
		require.NoError(t, err)
		assert.Equal(t, path, found)
	})

	t.Run("stops in the starting dir", func(t *testing.T) {
		dir := t.TempDir()
		path := write(t, dir, "driver: memory\n")

		found, err := loader.Find(dir)
		require.NoError(t, err)
		assert.Equal(t, path, found)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := loader.Find(t.TempDir())
		require.ErrorIs(t, err, entity.ErrConfigNotFound)
	})
}

func TestOpen(t *testing.T) {
	reg := entity.NewRegistry()
	log := slog.New(slog.DiscardHandler)

	t.Run("memory", func(t *testing.T) {
		st, err := config.Open(config.Config{Driver: config.DriverMemory}, reg, log)
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		assert.IsType(t, &memstore.Store{}, st)
	})

	t.Run("empty driver means memory", func(t *testing.T) {
		st, err := config.Open(config.Config{}, reg, log)
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		assert.IsType(t, &memstore.Store{}, st)
	})

	t.Run("sqlite without dsn runs in memory", func(t *testing.T) {
		st, err := config.Open(config.Config{Driver: config.DriverSQLite}, reg, log)
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		assert.IsType(t, &sqlite.Store{}, st)
	})

	t.Run("sqlite with file dsn", func(t *testing.T) {
		dsn := filepath.Join(t.TempDir(), "keep.db")
		st, err := config.Open(config.Config{Driver: config.DriverSQLite, DSN: dsn}, reg, log)
		require.NoError(t, err)
		require.NoError(t, st.Close())

		_, err = os.Stat(dsn)
		require.NoError(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := config.Open(config.Config{Driver: "postgres"}, reg, log)
		require.ErrorIs(t, err, entity.ErrUnknownDriver)
	})
}
