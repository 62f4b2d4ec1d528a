package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.trai.ch/keep/entity"
)

// Plan is the evaluated, executable form of a specification: a lazy
// description of which records of one type to return and how to shape them.
// Building a plan performs no I/O; a store executes it.
type Plan struct {
	desc       entity.Type
	filters    []func(any) (bool, error)
	includes   [][]string
	ordering   []Order
	page       *Page
	noTracking bool
}

// Base returns the unrefined plan for a type: every record, store order,
// nothing attached.
func Base(desc entity.Type) Plan {
	return Plan{desc: desc}
}

// Type returns the entity type the plan ranges over.
func (p Plan) Type() entity.Type {
	return p.desc
}

// TypeName returns the bound name of the plan's entity type.
func (p Plan) TypeName() string {
	if p.desc == nil {
		return ""
	}
	return p.desc.Name()
}

// Match reports whether a record satisfies every criterion of the plan.
func (p Plan) Match(e any) (bool, error) {
	for _, f := range p.filters {
		ok, err := f(e)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Includes returns the collapsed relation paths to attach, each split into
// its segments.
func (p Plan) Includes() [][]string {
	return p.includes
}

// Ordering returns the sort keys, primary first.
func (p Plan) Ordering() []Order {
	return p.ordering
}

// Window returns the paging window, if any.
func (p Plan) Window() (Page, bool) {
	if p.page == nil {
		return Page{}, false
	}
	return *p.page, true
}

// NoTracking reports whether results bypass the session tracker.
func (p Plan) NoTracking() bool {
	return p.noTracking
}

// String renders the plan for logs and inspection output.
func (p Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "plan(%s", p.TypeName())
	if n := len(p.filters); n > 0 {
		fmt.Fprintf(&b, ", criteria=%d", n)
	}
	for _, path := range p.includes {
		fmt.Fprintf(&b, ", include=%s", strings.Join(path, "."))
	}
	for _, o := range p.ordering {
		fmt.Fprintf(&b, ", order=%s %s", o.Field, o.Direction)
	}
	if p.page != nil {
		fmt.Fprintf(&b, ", skip=%d take=%d", p.page.Skip, p.page.Take)
	}
	if p.noTracking {
		b.WriteString(", no-tracking")
	}
	b.WriteString(")")
	return b.String()
}

// Refine executes the plan's criteria, ordering, and paging against records
// already in memory. Stores that cannot push these down call it after
// loading; include attachment is separate (see Hydrate).
func Refine(p Plan, recs []any) ([]any, error) {
	out := make([]any, 0, len(recs))
	for _, r := range recs {
		ok, err := p.Match(r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}

	if len(p.ordering) > 0 {
		var sortErr error
		sort.SliceStable(out, func(i, j int) bool {
			less, err := orderLess(p.desc, p.ordering, out[i], out[j])
			if err != nil && sortErr == nil {
				sortErr = err
			}
			return less
		})
		if sortErr != nil {
			return nil, sortErr
		}
	}

	if p.page != nil {
		skip, take := p.page.Skip, p.page.Take
		if skip >= len(out) {
			return []any{}, nil
		}
		out = out[skip:]
		if take < len(out) {
			out = out[:take]
		}
	}
	return out, nil
}

func orderLess(desc entity.Type, ordering []Order, a, b any) (bool, error) {
	for _, o := range ordering {
		av, err := desc.Value(a, o.Field)
		if err != nil {
			return false, err
		}
		bv, err := desc.Value(b, o.Field)
		if err != nil {
			return false, err
		}
		c := compareValues(av, bv)
		if c == 0 {
			continue
		}
		if o.Direction == Desc {
			return c > 0, nil
		}
		return c < 0, nil
	}
	return false, nil
}

// compareValues orders two field values of the same scalar kind. Mixed or
// unrecognized kinds fall back to their printed form.
func compareValues(a, b any) int {
	switch av := a.(type) {
	case nil:
		if b == nil {
			return 0
		}
		return -1
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case int:
		if bv, ok := b.(int); ok {
			return cmpOrdered(av, bv)
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return cmpOrdered(av, bv)
		}
	case uint64:
		if bv, ok := b.(uint64); ok {
			return cmpOrdered(av, bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return cmpOrdered(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func cmpOrdered[T int | int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func matchError(typeName, reason string) error {
	return entity.Annotate(entity.ErrInvalidCriteria, "entity", typeName, "reason", reason)
}
