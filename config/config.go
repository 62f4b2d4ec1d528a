// Package config loads runtime configuration from a YAML file with
// KEEP_-prefixed environment overrides, and opens the store it describes.
package config

import (
	"log/slog"

	"go.trai.ch/zerr"
)

// FileName is the configuration file Find looks for.
const FileName = "keep.yaml"

// Config describes a runtime: which store driver to open and how chatty to
// be. Environment variables override file values.
type Config struct {
	// Driver selects the store adapter: "memory" or "sqlite".
	Driver string `yaml:"driver" env:"KEEP_DRIVER"`
	// DSN locates the sqlite database. Empty means an in-memory database.
	DSN string `yaml:"dsn" env:"KEEP_DSN"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"KEEP_LOG_LEVEL"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() Config {
	return Config{
		Driver:   DriverMemory,
		LogLevel: "info",
	}
}

// Supported driver names.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Level parses the configured log level. Empty means info.
func (c Config) Level() (slog.Level, error) {
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, zerr.Wrap(err, "invalid log level")
	}
	return l, nil
}
