// Package memstore is the in-memory store adapter: a concurrency-safe record
// table per entity type, mainly for tests, examples, and ephemeral runs.
package memstore

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"go.trai.ch/keep/entity"
	"go.trai.ch/keep/query"
	"go.trai.ch/keep/store"
	"go.trai.ch/zerr"
)

var _ store.Store = (*Store)(nil)
var _ store.Inspector = (*Store)(nil)
var _ query.Source = (*Store)(nil)

// Store keeps every record as a detached clone guarded by one lock. Reads
// hand out fresh clones, so no caller ever aliases the stored instance.
type Store struct {
	reg *entity.Registry
	log *slog.Logger

	mu   sync.RWMutex
	recs map[string]map[entity.Key]any
}

// Option configures a Store.
type Option func(*Store)

// WithLogger routes batch logging to the given logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// New returns an empty in-memory store over the given registry.
func New(reg *entity.Registry, opts ...Option) *Store {
	s := &Store{
		reg:  reg,
		log:  slog.New(slog.DiscardHandler),
		recs: make(map[string]map[entity.Key]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed inserts records directly, bypassing batch semantics. Existing keys
// are overwritten. Meant for test and example setup.
func (s *Store) Seed(typeName string, recs ...any) error {
	desc, err := s.reg.Lookup(typeName)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		key, err := desc.KeyOf(rec)
		if err != nil {
			return err
		}
		clone, err := desc.Clone(rec)
		if err != nil {
			return err
		}
		s.table(typeName)[key] = clone
	}
	return nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, typeName string, key entity.Key) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, entity.Annotate(err, "store", "memory", "op", "get")
	}
	desc, err := s.reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	rec, ok := s.recs[typeName][key]
	s.mu.RUnlock()
	if !ok {
		return nil, entity.Annotate(entity.ErrNotFound, "entity", typeName, "key", key.String())
	}
	return desc.Clone(rec)
}

// Query implements store.Store: it snapshots the type's records, refines
// them against the plan, and hydrates requested relation paths.
func (s *Store) Query(ctx context.Context, p query.Plan) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, entity.Annotate(err, "store", "memory", "op", "query")
	}
	recs, err := s.All(ctx, p.TypeName())
	if err != nil {
		return nil, err
	}
	refined, err := query.Refine(p, recs)
	if err != nil {
		return nil, err
	}
	if err := query.Hydrate(ctx, s.reg, p, refined, s); err != nil {
		return nil, err
	}
	return refined, nil
}

// ExecuteBatch implements store.Store. Every write is validated against the
// current table state before the first one is applied, so a failing batch
// changes nothing.
func (s *Store) ExecuteBatch(ctx context.Context, batch store.Batch) error {
	if err := ctx.Err(); err != nil {
		return entity.Annotate(err, "store", "memory", "op", "execute_batch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Stage every write against the current tables first. Nothing is applied
	// until the whole batch staged cleanly, so a failing write leaves the
	// earlier ones unapplied and the stored records untouched.
	staged := make([]any, len(batch.Writes))
	for i, w := range batch.Writes {
		desc, err := s.reg.Lookup(w.TypeName)
		if err != nil {
			return err
		}
		stored, exists := s.recs[w.TypeName][w.Key]
		switch w.Op {
		case store.OpInsert:
			if exists {
				return entity.Annotate(entity.ErrDuplicateKey,
					"entity", w.TypeName, "key", w.Key.String(), "batch", batch.ID)
			}
			clone, err := desc.Clone(w.Entity)
			if err != nil {
				return zerr.Wrap(entity.ErrStoreFailure, err.Error())
			}
			staged[i] = clone
		case store.OpUpdate:
			if !exists {
				return entity.Annotate(entity.ErrNotFound,
					"entity", w.TypeName, "key", w.Key.String(), "batch", batch.ID)
			}
			patched, err := patch(desc, stored, w)
			if err != nil {
				return zerr.Wrap(entity.ErrStoreFailure, err.Error())
			}
			staged[i] = patched
		case store.OpDelete:
			if !exists {
				return entity.Annotate(entity.ErrNotFound,
					"entity", w.TypeName, "key", w.Key.String(), "batch", batch.ID)
			}
		}
	}

	for i, w := range batch.Writes {
		if w.Op == store.OpDelete {
			delete(s.recs[w.TypeName], w.Key)
			continue
		}
		s.table(w.TypeName)[w.Key] = staged[i]
	}

	s.log.Debug("batch applied",
		"store", "memory", "batch", batch.ID, "session", batch.Session, "writes", len(batch.Writes))
	return nil
}

// patch builds the updated record for an update write: a clone of the stored
// record with the changed fields copied over. The stored record itself is
// never touched.
func patch(desc entity.Type, stored any, w store.Write) (any, error) {
	patched, err := desc.Clone(stored)
	if err != nil {
		return nil, err
	}
	for _, field := range w.Changed {
		v, err := desc.Value(w.Entity, field)
		if err != nil {
			return nil, err
		}
		if err := desc.Apply(patched, entity.Values{field: v}); err != nil {
			return nil, err
		}
	}
	return patched, nil
}

// Close implements store.Store. The tables live in process memory; there is
// nothing to release.
func (s *Store) Close() error {
	return nil
}

// All implements query.Source, returning clones of every record of one type
// in key order.
func (s *Store) All(_ context.Context, typeName string) ([]any, error) {
	desc, err := s.reg.Lookup(typeName)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	table := s.recs[typeName]
	keys := make([]entity.Key, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	out := make([]any, 0, len(keys))
	for _, key := range keys {
		clone, err := desc.Clone(table[key])
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

// TypeNames implements store.Inspector.
func (s *Store) TypeNames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.recs))
	for name, table := range s.recs {
		if len(table) == 0 {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Keys implements store.Inspector.
func (s *Store) Keys(_ context.Context, typeName string) ([]entity.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table := s.recs[typeName]
	keys := make([]entity.Key, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

func (s *Store) table(typeName string) map[entity.Key]any {
	table := s.recs[typeName]
	if table == nil {
		table = make(map[entity.Key]any)
		s.recs[typeName] = table
	}
	return table
}
