package app

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"go.trai.ch/keep"
	"go.trai.ch/keep/entity"
	"go.trai.ch/keep/query"
	"go.trai.ch/keep/store"
	"go.trai.ch/zerr"
)

var errProbeMismatch = zerr.New("probe record came back changed")

// probe is the throwaway record Verify round-trips through the store.
type probe struct {
	ID    string
	Note  string
	Count int
}

func probeBinding() *entity.Binding[probe] {
	return entity.Bind[probe]("keep_probes").
		Key(func(p *probe) entity.Key { return entity.NewKey(p.ID) }).
		Field("id", func(p *probe) any { return p.ID }, func(p *probe, v any) { p.ID = v.(string) }).
		Field("note", func(p *probe) any { return p.Note }, func(p *probe, v any) { p.Note = v.(string) }).
		Field("count", func(p *probe) any { return p.Count }, func(p *probe, v any) { p.Count = v.(int) })
}

// Verify round-trips a probe record through the configured store: insert,
// reload in a fresh session, update, query, delete. Every step runs the
// full session machinery, so a pass means driver, codec, and commit path
// all work. The probe is removed again before Verify returns.
func (a *App) Verify(ctx context.Context, w io.Writer, configPath string) error {
	reg := entity.NewRegistry()
	if err := reg.Register(probeBinding()); err != nil {
		return err
	}

	st, cfg, err := a.openStore(configPath, reg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	id := "probe-" + uuid.NewString()

	if err := a.writeProbe(ctx, st, reg, id); err != nil {
		return zerr.Wrap(err, "probe insert failed")
	}
	fmt.Fprintln(w, "insert ok")

	if err := a.reloadProbe(ctx, st, reg, id, w); err != nil {
		return err
	}

	fmt.Fprintf(w, "store verified (driver %s)\n", cfg.Driver)
	return nil
}

func (a *App) writeProbe(ctx context.Context, st store.Store, reg *entity.Registry, id string) error {
	s := keep.NewSession(st, reg, keep.WithLogger(a.log))
	defer func() { _ = s.Close() }()

	repo, err := keep.RepositoryFor[probe](s)
	if err != nil {
		return err
	}
	if err := repo.Add(&probe{ID: id, Note: "verify", Count: 1}); err != nil {
		return err
	}
	return s.Commit(ctx)
}

func (a *App) reloadProbe(ctx context.Context, st store.Store, reg *entity.Registry, id string, w io.Writer) error {
	s := keep.NewSession(st, reg, keep.WithLogger(a.log))
	defer func() { _ = s.Close() }()

	repo, err := keep.RepositoryFor[probe](s)
	if err != nil {
		return err
	}

	p, err := repo.GetByID(ctx, entity.NewKey(id))
	if err != nil {
		return zerr.Wrap(err, "probe reload failed")
	}
	if p.Note != "verify" || p.Count != 1 {
		return entity.Annotate(errProbeMismatch, "note", p.Note, "count", p.Count)
	}
	fmt.Fprintln(w, "reload ok")

	// Divergence alone must be enough, the commit promotes it to an update.
	p.Count = 2
	if err := s.Commit(ctx); err != nil {
		return zerr.Wrap(err, "probe update failed")
	}
	fmt.Fprintln(w, "update ok")

	spec := query.All[probe]().
		WhereExpr(fmt.Sprintf("id == %q and count == 2", id)).
		OrderBy("id", query.Asc)
	hits, err := repo.Query(ctx, spec)
	if err != nil {
		return zerr.Wrap(err, "probe query failed")
	}
	if len(hits) != 1 {
		return entity.Annotate(errProbeMismatch, "hits", len(hits))
	}
	fmt.Fprintln(w, "query ok")

	if err := repo.Remove(ctx, p); err != nil {
		return err
	}
	if err := s.Commit(ctx); err != nil {
		return zerr.Wrap(err, "probe cleanup failed")
	}
	fmt.Fprintln(w, "cleanup ok")
	return nil
}
