package keep

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.trai.ch/keep/entity"
	"go.trai.ch/keep/internal/track"
	"go.trai.ch/keep/store"
)

// Session is a unit of work: it owns one change tracker and a cache of one
// repository per entity type, and commits every pending change as a single
// atomic store batch.
//
// A Session maps to one logical transaction and is not safe for concurrent
// use. The store handle it wraps is shared and stays open after Close; its
// lifecycle belongs to whoever opened it.
type Session struct {
	st      store.Store
	reg     *entity.Registry
	tracker *track.Tracker
	repos   map[string]any
	log     *slog.Logger
	tracer  trace.Tracer
	id      string
	closed  bool
}

// NewSession opens a unit of work over the given store and registry.
func NewSession(st store.Store, reg *entity.Registry, opts ...Option) *Session {
	s := &Session{
		st:     st,
		reg:    reg,
		repos:  make(map[string]any),
		log:    slog.New(slog.DiscardHandler),
		tracer: noop.NewTracerProvider().Tracer("keep"),
		id:     uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracker = track.New(reg, s.log)
	return s
}

// ID returns the session identifier carried on every committed batch.
func (s *Session) ID() string {
	return s.id
}

// Registry returns the entity registry the session was opened with.
func (s *Session) Registry() *entity.Registry {
	return s.reg
}

// Tracked returns the number of entries in the identity map.
func (s *Session) Tracked() int {
	return s.tracker.Len()
}

// Commit collects every pending change, submits them to the store as one
// all-or-nothing batch, and on success advances each entry's state: inserts
// and updates become Unchanged with a refreshed snapshot, deletes detach.
//
// On failure the store rolls the whole batch back and no entry changes
// state; the session may be retried or abandoned.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.ready("commit"); err != nil {
		return err
	}
	ctx, span := s.tracer.Start(ctx, "keep.commit",
		trace.WithAttributes(attribute.String("session", s.id)))
	defer span.End()

	entries, err := s.tracker.EntriesForCommit()
	if err != nil {
		return s.fail(span, err)
	}
	if len(entries) == 0 {
		s.log.Debug("commit empty", "session", s.id)
		return nil
	}

	batch := store.Batch{
		ID:      uuid.NewString(),
		Session: s.id,
		Writes:  make([]store.Write, 0, len(entries)),
	}
	for _, entry := range entries {
		batch.Writes = append(batch.Writes, writeFor(entry))
	}

	if err := s.st.ExecuteBatch(ctx, batch); err != nil {
		return s.fail(span, err)
	}
	if err := s.tracker.Finalize(entries); err != nil {
		return s.fail(span, err)
	}

	span.SetAttributes(attribute.Int("writes", len(batch.Writes)))
	s.log.Debug("commit applied", "session", s.id, "batch", batch.ID, "writes", len(batch.Writes))
	return nil
}

func writeFor(entry *track.Entry) store.Write {
	w := store.Write{
		TypeName: entry.Type.Name(),
		Key:      entry.Key,
		Entity:   entry.Entity,
	}
	switch entry.State {
	case entity.StateAdded:
		w.Op = store.OpInsert
	case entity.StateModified:
		w.Op = store.OpUpdate
		w.Changed = entry.Changed()
	case entity.StateDeleted:
		w.Op = store.OpDelete
	}
	return w
}

// Close ends the unit of work. Every repository and tracked entry becomes
// unusable; further operations fail with ErrSessionDisposed. The underlying
// store is not closed. Close is idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.repos = nil
	s.log.Debug("session closed", "session", s.id, "tracked", s.tracker.Len())
	return nil
}

func (s *Session) ready(op string) error {
	if s.closed {
		return entity.Annotate(entity.ErrSessionDisposed, "session", s.id, "op", op)
	}
	return nil
}

func (s *Session) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
