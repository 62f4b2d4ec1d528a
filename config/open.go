package config

import (
	"log/slog"

	"go.trai.ch/keep/entity"
	"go.trai.ch/keep/store"
	"go.trai.ch/keep/store/memstore"
	"go.trai.ch/keep/store/sqlite"
)

// Open builds the store the configuration selects. The caller owns the
// returned store and closes it; sessions opened over it do not.
func Open(cfg Config, reg *entity.Registry, log *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return memstore.New(reg, memstore.WithLogger(log)), nil
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		return sqlite.Open(dsn, reg, sqlite.WithLogger(log))
	default:
		return nil, entity.Annotate(entity.ErrUnknownDriver, "driver", cfg.Driver)
	}
}
