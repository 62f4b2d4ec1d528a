// Package logging builds the slog logger shared by the runtime and the CLI.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// level backs every handler built here, so verbosity can follow the
// configuration after the loggers are already wired.
var level = new(slog.LevelVar)

// New returns a text logger writing to stderr, keeping stdout free for
// command output.
func New() *slog.Logger {
	return NewWithWriter(os.Stderr)
}

// NewWithWriter returns a text logger writing to w. Tests use it to capture
// log output.
func NewWithWriter(w io.Writer) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetLevel adjusts the verbosity of every logger built by New.
func SetLevel(l slog.Level) {
	level.Set(l)
}
