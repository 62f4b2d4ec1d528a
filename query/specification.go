// Package query implements the specification side of the runtime: immutable
// query descriptions, the pure evaluator that turns them into executable
// plans, and the in-memory plan executor store adapters share.
package query

import "slices"

// Direction orders a sort key ascending or descending.
type Direction uint8

const (
	// Asc sorts smallest first.
	Asc Direction = iota
	// Desc sorts largest first.
	Desc
)

// String returns "asc" or "desc".
func (d Direction) String() string {
	if d == Desc {
		return "desc"
	}
	return "asc"
}

// Order is one sort key of a specification.
type Order struct {
	Field     string
	Direction Direction
}

// Page is an optional skip/take window. It is only legal on an ordered
// specification.
type Page struct {
	Skip int
	Take int
}

// Specification is an immutable description of a desired subset and shape of
// one entity type's records: criteria, relations to attach eagerly, an
// ordering, and optional paging. The zero value matches all records.
//
// Builder methods return a modified copy; a Specification is never mutated
// after construction and is safe to reuse across calls.
type Specification[T any] struct {
	preds      []func(*T) bool
	exprs      []string
	includes   []string
	ordering   []Order
	page       *Page
	noTracking bool
}

// All returns the empty specification for T, matching every record.
func All[T any]() Specification[T] {
	return Specification[T]{}
}

// Where restricts the result to records the predicate accepts. Multiple
// criteria combine as a conjunction.
func (s Specification[T]) Where(pred func(*T) bool) Specification[T] {
	s.preds = append(slices.Clip(slices.Clone(s.preds)), pred)
	return s
}

// WhereExpr restricts the result with a compiled expression over the bound
// field names, for criteria assembled at runtime. `age > 30 && name != ""`
// selects on the fields declared by the binding.
func (s Specification[T]) WhereExpr(src string) Specification[T] {
	s.exprs = append(slices.Clip(slices.Clone(s.exprs)), src)
	return s
}

// Include requests eager loading of the named relation paths. Nested paths
// use dots: "lines.product" attaches each line's product under every loaded
// line. Duplicate paths collapse during evaluation.
func (s Specification[T]) Include(paths ...string) Specification[T] {
	s.includes = append(slices.Clip(slices.Clone(s.includes)), paths...)
	return s
}

// OrderBy appends a sort key. The first key is the primary sort; later keys
// break ties.
func (s Specification[T]) OrderBy(field string, d Direction) Specification[T] {
	s.ordering = append(slices.Clip(slices.Clone(s.ordering)), Order{Field: field, Direction: d})
	return s
}

// Page sets the skip/take window. Evaluation rejects paging on an unordered
// specification with ErrAmbiguousPaging.
func (s Specification[T]) Page(skip, take int) Specification[T] {
	s.page = &Page{Skip: skip, Take: take}
	return s
}

// NoTracking marks the query read-only: results are detached copies and the
// session tracker is bypassed entirely.
func (s Specification[T]) NoTracking() Specification[T] {
	s.noTracking = true
	return s
}
