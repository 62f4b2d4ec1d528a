// Package app implements the application layer for the keep command.
package app

import (
	"errors"
	"log/slog"

	"go.trai.ch/keep/config"
	"go.trai.ch/keep/entity"
	"go.trai.ch/keep/internal/logging"
	"go.trai.ch/keep/store"
)

// Components contains all the initialized application components.
// This struct provides controlled access to components needed by the CLI layer.
type Components struct {
	App    *App
	Log    *slog.Logger
	Loader *config.Loader
}

// App represents the main application logic.
type App struct {
	loader *config.Loader
	log    *slog.Logger
}

// New creates a new App instance.
func New(loader *config.Loader, log *slog.Logger) *App {
	return &App{
		loader: loader,
		log:    log,
	}
}

// openStore resolves the configuration and opens the store it names.
// An empty path searches for keep.yaml upward from the working directory;
// no file at all falls back to the defaults plus environment overrides.
func (a *App) openStore(path string, reg *entity.Registry) (store.Store, config.Config, error) {
	if path == "" {
		found, err := a.loader.Find(".")
		switch {
		case err == nil:
			path = found
		case errors.Is(err, entity.ErrConfigNotFound):
			a.log.Debug("no config file found, using defaults")
		default:
			return nil, config.Config{}, err
		}
	}

	cfg, err := a.loader.Load(path)
	if err != nil {
		return nil, config.Config{}, err
	}

	lvl, err := cfg.Level()
	if err != nil {
		return nil, config.Config{}, err
	}
	logging.SetLevel(lvl)

	st, err := config.Open(cfg, reg, a.log)
	if err != nil {
		return nil, config.Config{}, err
	}
	return st, cfg, nil
}
