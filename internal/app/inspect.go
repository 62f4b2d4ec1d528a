package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"

	"go.trai.ch/keep/entity"
	"go.trai.ch/keep/store"
	"go.trai.ch/zerr"
)

var errNotInspectable = zerr.New("store does not support inspection")

// listing pairs one record type with its keys.
type listing struct {
	name string
	keys []entity.Key
}

// Inspect lists the record types in the configured store, with per-type
// record counts or, when showKeys is set, every key. Inspection reads the
// raw type and key columns, so it needs no bindings for the stored types.
func (a *App) Inspect(ctx context.Context, w io.Writer, configPath string, showKeys bool) error {
	st, cfg, err := a.openStore(configPath, entity.NewRegistry())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	insp, ok := st.(store.Inspector)
	if !ok {
		return entity.Annotate(errNotInspectable, "driver", cfg.Driver)
	}

	names, err := insp.TypeNames(ctx)
	if err != nil {
		return zerr.Wrap(err, "failed to list record types")
	}
	if len(names) == 0 {
		fmt.Fprintf(w, "store is empty (driver %s)\n", cfg.Driver)
		return nil
	}

	// One key listing per type, fetched concurrently. The slice is indexed
	// by position so the output order stays the sorted type order.
	listings := make([]listing, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			keys, err := insp.Keys(gctx, name)
			if err != nil {
				return zerr.Wrap(err, "failed to list keys of "+name)
			}
			listings[i] = listing{name: name, keys: keys}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if showKeys {
		fmt.Fprintln(tw, "TYPE\tKEY")
		for _, l := range listings {
			for _, k := range l.keys {
				fmt.Fprintf(tw, "%s\t%s\n", l.name, k)
			}
		}
	} else {
		fmt.Fprintln(tw, "TYPE\tRECORDS")
		for _, l := range listings {
			fmt.Fprintf(tw, "%s\t%d\n", l.name, len(l.keys))
		}
	}
	return tw.Flush()
}
