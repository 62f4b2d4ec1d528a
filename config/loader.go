package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"go.trai.ch/keep/entity"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// Loader reads configuration files.
type Loader struct {
	Log *slog.Logger
}

// NewLoader creates a Loader with the given logger.
func NewLoader(log *slog.Logger) *Loader {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Loader{Log: log}
}

// Find walks up from dir looking for a keep.yaml, returning its path. Fails
// with ErrConfigNotFound when no ancestor carries one.
func (l *Loader) Find(dir string) (string, error) {
	current := dir
	for {
		candidate := filepath.Join(current, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", entity.Annotate(entity.ErrConfigNotFound, "dir", dir, "file", FileName)
		}
		current = parent
	}
}

// Load reads the file at path, then applies environment overrides. An empty
// path skips the file and loads defaults plus environment only.
func (l *Loader) Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, entity.Annotate(entity.ErrConfigNotFound, "path", path)
		}
		if err != nil {
			return cfg, zerr.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, entity.Annotate(entity.ErrDecodeFailed, "path", path, "cause", err.Error())
		}
		l.Log.Debug("config file loaded", "path", path)
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, zerr.Wrap(err, "failed to parse environment overrides")
	}
	return cfg, nil
}
