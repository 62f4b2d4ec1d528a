package keep

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.trai.ch/keep/entity"
	"go.trai.ch/keep/query"
	"go.trai.ch/zerr"
)

// Repository is the per-type facade of a session: lookups and queries flow
// through the identity map before they touch the store, mutations are
// recorded on the tracker and persisted by Session.Commit.
type Repository[T any] struct {
	s    *Session
	desc entity.Type
}

// RepositoryFor returns the session's repository for T, constructing it on
// first request. Every later call with the same type parameter returns the
// same instance for the life of the session.
func RepositoryFor[T any](s *Session) (*Repository[T], error) {
	if err := s.ready("repository"); err != nil {
		return nil, err
	}
	desc, err := entity.TypeFor[T](s.reg)
	if err != nil {
		return nil, err
	}
	if cached, ok := s.repos[desc.Name()]; ok {
		return cached.(*Repository[T]), nil
	}
	repo := &Repository[T]{s: s, desc: desc}
	s.repos[desc.Name()] = repo
	s.log.Debug("repository created", "entity", desc.Name(), "session", s.id)
	return repo, nil
}

// GetByID resolves one record by primary key. An identity-map hit returns
// the tracked instance without a store round-trip; a miss reads the store
// and tracks the result as Unchanged. An instance already marked deleted in
// this session reports ErrNotFound.
func (r *Repository[T]) GetByID(ctx context.Context, key entity.Key) (*T, error) {
	if err := r.s.ready("get_by_id"); err != nil {
		return nil, err
	}
	if entry, ok := r.s.tracker.ByKey(r.desc.Name(), key); ok {
		if entry.State == entity.StateDeleted {
			return nil, entity.Annotate(entity.ErrNotFound,
				"entity", r.desc.Name(), "key", key.String(), "state", entry.State.String())
		}
		return entry.Entity.(*T), nil
	}

	ctx, span := r.s.tracer.Start(ctx, "keep.get", trace.WithAttributes(
		attribute.String("entity", r.desc.Name()),
		attribute.String("key", key.String())))
	defer span.End()

	rec, err := r.s.st.Get(ctx, r.desc.Name(), key)
	if err != nil {
		return nil, r.s.fail(span, err)
	}
	e, err := r.record(rec)
	if err != nil {
		return nil, r.s.fail(span, err)
	}
	if _, err := r.s.tracker.Track(r.desc, e, entity.StateUnchanged); err != nil {
		return nil, r.s.fail(span, err)
	}
	return e, nil
}

// Query evaluates a specification against the store. Results are tracked as
// Unchanged; a key the session already tracks yields the tracked instance,
// not the store copy. With NoTracking set the results bypass the identity
// map entirely and come back as detached copies.
//
// A zero Specification matches every record of the type.
func (r *Repository[T]) Query(ctx context.Context, spec query.Specification[T]) ([]*T, error) {
	if err := r.s.ready("query"); err != nil {
		return nil, err
	}
	plan, err := query.Evaluate(query.Base(r.desc), spec)
	if err != nil {
		return nil, err
	}

	ctx, span := r.s.tracer.Start(ctx, "keep.query", trace.WithAttributes(
		attribute.String("entity", r.desc.Name()),
		attribute.String("plan", plan.String())))
	defer span.End()

	recs, err := r.s.st.Query(ctx, plan)
	if err != nil {
		return nil, r.s.fail(span, err)
	}

	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		e, err := r.record(rec)
		if err != nil {
			return nil, r.s.fail(span, err)
		}
		if plan.NoTracking() {
			out = append(out, e)
			continue
		}
		key, err := r.desc.KeyOf(e)
		if err != nil {
			return nil, r.s.fail(span, err)
		}
		if entry, ok := r.s.tracker.ByKey(r.desc.Name(), key); ok {
			out = append(out, entry.Entity.(*T))
			continue
		}
		if _, err := r.s.tracker.Track(r.desc, e, entity.StateUnchanged); err != nil {
			return nil, r.s.fail(span, err)
		}
		out = append(out, e)
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	return out, nil
}

// Add registers a new instance for insertion on the next commit. A key the
// session already tracks fails with ErrDuplicateKey.
func (r *Repository[T]) Add(e *T) error {
	if err := r.s.ready("add"); err != nil {
		return err
	}
	_, err := r.s.tracker.Track(r.desc, e, entity.StateAdded)
	return err
}

// Update records an instance for persistence on the next commit. A tracked
// instance transitions to Modified; an untracked one is attached with every
// field considered changed, so the commit writes the full row whether or
// not individual fields diverge.
func (r *Repository[T]) Update(e *T) error {
	if err := r.s.ready("update"); err != nil {
		return err
	}
	if r.s.tracker.StateOf(r.desc, e) == entity.StateDetached {
		_, err := r.s.tracker.Attach(r.desc, e, false)
		return err
	}
	return r.s.tracker.MarkModified(r.desc, e)
}

// AttachUnchanged registers a caller-constructed instance as a clean read,
// as if it had been loaded from the store.
func (r *Repository[T]) AttachUnchanged(e *T) error {
	if err := r.s.ready("attach"); err != nil {
		return err
	}
	_, err := r.s.tracker.Attach(r.desc, e, true)
	return err
}

// Remove marks an instance deleted. An untracked instance is resolved by
// key, reading the store if the session does not know it yet.
func (r *Repository[T]) Remove(ctx context.Context, e *T) error {
	if err := r.s.ready("remove"); err != nil {
		return err
	}
	key, err := r.desc.KeyOf(e)
	if err != nil {
		return err
	}
	if entry, ok := r.s.tracker.ByKey(r.desc.Name(), key); ok && entry.Entity == e {
		return r.s.tracker.MarkDeleted(r.desc, e)
	}
	return r.RemoveByKey(ctx, key)
}

// RemoveByKey marks the record under the given key deleted, fetching it
// first when the session does not track it.
func (r *Repository[T]) RemoveByKey(ctx context.Context, key entity.Key) error {
	if err := r.s.ready("remove"); err != nil {
		return err
	}
	if entry, ok := r.s.tracker.ByKey(r.desc.Name(), key); ok {
		return r.s.tracker.MarkDeleted(r.desc, entry.Entity)
	}
	e, err := r.GetByID(ctx, key)
	if err != nil {
		return err
	}
	return r.s.tracker.MarkDeleted(r.desc, e)
}

// Detach drops an instance from the identity map in any state. Detaching an
// untracked instance is a no-op.
func (r *Repository[T]) Detach(e *T) error {
	if err := r.s.ready("detach"); err != nil {
		return err
	}
	return r.s.tracker.Detach(r.desc, e)
}

// StateOf reports the session's lifecycle state for an instance. Untracked
// instances are StateDetached.
func (r *Repository[T]) StateOf(e *T) entity.State {
	return r.s.tracker.StateOf(r.desc, e)
}

func (r *Repository[T]) record(rec any) (*T, error) {
	e, ok := rec.(*T)
	if !ok {
		return nil, zerr.Wrap(entity.ErrStoreFailure,
			fmt.Sprintf("store returned %T for %s", rec, r.desc.Name()))
	}
	return e, nil
}
