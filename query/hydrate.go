package query

import (
	"context"
	"errors"
	"sort"

	"go.trai.ch/keep/entity"
)

// Source is the record access a store must provide for include hydration.
// Both methods return detached copies; hydration never aliases store-owned
// instances.
type Source interface {
	// Get returns the record of the given type under key, or ErrNotFound.
	Get(ctx context.Context, typeName string, key entity.Key) (any, error)

	// All returns every record of the given type.
	All(ctx context.Context, typeName string) ([]any, error)
}

// Hydrate attaches the plan's include paths to the given records, fetching
// related records through src. Nested path segments resolve against the
// records attached by their prefix. A dangling reference (target record
// missing) leaves the relation unset rather than failing the query.
func Hydrate(ctx context.Context, reg *entity.Registry, p Plan, recs []any, src Source) error {
	return hydrate(ctx, reg, p.desc, p.includes, recs, src)
}

func hydrate(ctx context.Context, reg *entity.Registry, desc entity.Type, paths [][]string, recs []any, src Source) error {
	if len(paths) == 0 || len(recs) == 0 {
		return nil
	}

	// Group paths by head segment so each relation loads once per level.
	heads := make([]string, 0, len(paths))
	tails := make(map[string][][]string)
	for _, path := range paths {
		head := path[0]
		if _, seen := tails[head]; !seen {
			heads = append(heads, head)
		}
		if len(path) > 1 {
			tails[head] = append(tails[head], path[1:])
		} else if _, seen := tails[head]; !seen {
			tails[head] = nil
		}
	}

	for _, head := range heads {
		rel, ok := desc.Relation(head)
		if !ok {
			return entity.Annotate(entity.ErrUnknownRelation, "entity", desc.Name(), "relation", head)
		}
		related, err := attachRelation(ctx, reg, desc, rel, recs, src)
		if err != nil {
			return err
		}
		if rest := tails[head]; len(rest) > 0 && len(related) > 0 {
			childDesc, err := reg.Lookup(rel.Target)
			if err != nil {
				return err
			}
			if err := hydrate(ctx, reg, childDesc, rest, related, src); err != nil {
				return err
			}
		}
	}
	return nil
}

func attachRelation(ctx context.Context, reg *entity.Registry, desc entity.Type, rel entity.Relation, recs []any, src Source) ([]any, error) {
	switch rel.Kind {
	case entity.RelationHasOne:
		if rel.Ref == nil || rel.AttachOne == nil {
			return nil, entity.Annotate(entity.ErrUnknownRelation,
				"entity", desc.Name(), "relation", rel.Name, "reason", "relation is not loadable")
		}
		return attachOne(ctx, rel, recs, src)
	case entity.RelationHasMany:
		if rel.ChildKey == nil || rel.AttachMany == nil {
			return nil, entity.Annotate(entity.ErrUnknownRelation,
				"entity", desc.Name(), "relation", rel.Name, "reason", "relation is not loadable")
		}
		return attachMany(ctx, reg, desc, rel, recs, src)
	default:
		return nil, entity.Annotate(entity.ErrUnknownRelation, "entity", desc.Name(), "relation", rel.Name)
	}
}

func attachOne(ctx context.Context, rel entity.Relation, recs []any, src Source) ([]any, error) {
	var related []any
	for _, rec := range recs {
		key, ok := rel.Ref(rec)
		if !ok || key.IsZero() {
			continue
		}
		target, err := src.Get(ctx, rel.Target, key)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				continue
			}
			return nil, err
		}
		rel.AttachOne(rec, target)
		related = append(related, target)
	}
	return related, nil
}

func attachMany(ctx context.Context, reg *entity.Registry, desc entity.Type, rel entity.Relation, recs []any, src Source) ([]any, error) {
	all, err := src.All(ctx, rel.Target)
	if err != nil {
		return nil, err
	}

	childDesc, err := reg.Lookup(rel.Target)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		ki, erri := childDesc.KeyOf(all[i])
		kj, errj := childDesc.KeyOf(all[j])
		if erri != nil || errj != nil {
			return false
		}
		return ki.String() < kj.String()
	})

	byOwner := make(map[entity.Key][]any)
	for _, child := range all {
		owner, ok := rel.ChildKey(child)
		if !ok || owner.IsZero() {
			continue
		}
		byOwner[owner] = append(byOwner[owner], child)
	}

	var related []any
	for _, rec := range recs {
		key, err := desc.KeyOf(rec)
		if err != nil {
			return nil, err
		}
		children := byOwner[key]
		rel.AttachMany(rec, children)
		related = append(related, children...)
	}
	return related, nil
}
