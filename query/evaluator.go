package query

import (
	"slices"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
	"go.trai.ch/keep/entity"
	"go.trai.ch/zerr"
)

// Evaluate applies a specification to a base plan and returns the refined
// plan. It is a pure transformation: no I/O, no mutation of either input,
// and the same inputs always produce an equivalent plan.
//
// Evaluation order follows the specification contract: criteria first, then
// include collapse, then ordering, then paging. Paging without an ordering
// fails with ErrAmbiguousPaging before any store is involved.
func Evaluate[T any](base Plan, s Specification[T]) (Plan, error) {
	p := Plan{
		desc:       base.desc,
		filters:    slices.Clone(base.filters),
		includes:   slices.Clone(base.includes),
		ordering:   slices.Clone(base.ordering),
		page:       base.page,
		noTracking: base.noTracking || s.noTracking,
	}
	name := p.TypeName()

	for _, pred := range s.preds {
		pred := pred
		p.filters = append(p.filters, func(e any) (bool, error) {
			t, ok := e.(*T)
			if !ok {
				return false, matchError(name, "record is not of the specified type")
			}
			return pred(t), nil
		})
	}

	for _, src := range s.exprs {
		prog, err := compileCriteria(src)
		if err != nil {
			return Plan{}, entity.Annotate(err, "entity", name)
		}
		desc := p.desc
		p.filters = append(p.filters, func(e any) (bool, error) {
			return runCriteria(desc, prog, e)
		})
	}

	for _, raw := range s.includes {
		path, err := splitIncludePath(p.desc, raw)
		if err != nil {
			return Plan{}, err
		}
		if !containsPath(p.includes, path) {
			p.includes = append(p.includes, path)
		}
	}

	if len(s.ordering) > 0 {
		known := make(map[string]struct{})
		for _, f := range p.desc.Fields() {
			known[f] = struct{}{}
		}
		for _, o := range s.ordering {
			if _, ok := known[o.Field]; !ok {
				return Plan{}, entity.Annotate(entity.ErrUnknownField, "entity", name, "field", o.Field)
			}
		}
		p.ordering = append(p.ordering, s.ordering...)
	}

	if s.page != nil {
		if s.page.Skip < 0 || s.page.Take < 0 {
			return Plan{}, entity.Annotate(entity.ErrInvalidPage, "entity", name, "skip", s.page.Skip, "take", s.page.Take)
		}
		if len(p.ordering) == 0 {
			return Plan{}, entity.Annotate(entity.ErrAmbiguousPaging, "entity", name)
		}
		window := *s.page
		p.page = &window
	}

	return p, nil
}

func compileCriteria(src string) (*exprvm.Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, entity.Annotate(entity.ErrInvalidCriteria, "reason", "empty expression")
	}
	prog, err := exprlang.Compile(src,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, zerr.Wrap(err, entity.ErrInvalidCriteria.Error())
	}
	return prog, nil
}

func runCriteria(desc entity.Type, prog *exprvm.Program, e any) (bool, error) {
	snap, err := desc.Snapshot(e)
	if err != nil {
		return false, err
	}
	out, err := exprlang.Run(prog, map[string]any(snap))
	if err != nil {
		return false, zerr.Wrap(err, entity.ErrInvalidCriteria.Error())
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, entity.Annotate(entity.ErrInvalidCriteria, "entity", desc.Name(), "reason", "expression did not evaluate to a boolean")
	}
	return ok, nil
}

func splitIncludePath(desc entity.Type, raw string) ([]string, error) {
	path := strings.Split(raw, ".")
	for _, seg := range path {
		if strings.TrimSpace(seg) == "" {
			return nil, entity.Annotate(entity.ErrUnknownRelation, "entity", desc.Name(), "path", raw)
		}
	}
	if _, ok := desc.Relation(path[0]); !ok {
		return nil, entity.Annotate(entity.ErrUnknownRelation, "entity", desc.Name(), "relation", path[0])
	}
	return path, nil
}

func containsPath(paths [][]string, path []string) bool {
	for _, p := range paths {
		if slices.Equal(p, path) {
			return true
		}
	}
	return false
}
