// Package keep is a generic data-access runtime. A Session tracks every
// entity instance it hands out in an identity map with a lifecycle state
// machine, queries are described by immutable specifications evaluated
// against a pluggable store, and all pending changes commit as one atomic
// batch.
//
// Entity types are described once with entity.Bind and collected in an
// entity.Registry; a Session then serves one cached Repository per bound
// type via RepositoryFor.
package keep

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Option configures a Session.
type Option func(*Session)

// WithLogger routes session debug logging to the given logger. Sessions log
// nothing by default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTracer emits a span per store round-trip on the given tracer. Sessions
// trace nothing by default.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Session) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}
