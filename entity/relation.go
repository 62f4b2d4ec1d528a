package entity

// RelationKind distinguishes the two navigable relation shapes a binding can declare.
type RelationKind uint8

const (
	// RelationHasOne is a reference to a single record of the target type.
	// The declaring side holds the target's key.
	RelationHasOne RelationKind = iota + 1

	// RelationHasMany is an owning collection of target records. Each child
	// holds the declaring side's key.
	RelationHasMany
)

// String returns the relation kind name.
func (k RelationKind) String() string {
	switch k {
	case RelationHasOne:
		return "has_one"
	case RelationHasMany:
		return "has_many"
	default:
		return "unknown"
	}
}

// CascadePolicy governs what deleting a record does to the dependents of its
// owning relations.
type CascadePolicy uint8

const (
	// CascadeRestrict blocks the delete while dependents exist. The default.
	CascadeRestrict CascadePolicy = iota

	// CascadeDelete marks all dependents deleted along with the owner.
	CascadeDelete
)

// String returns the policy name.
func (p CascadePolicy) String() string {
	if p == CascadeDelete {
		return "cascade"
	}
	return "restrict"
}

// Relation describes one named relation of a bound entity type. The accessor
// funcs are type-erased; the Binding builder fills them from typed callbacks
// so application code never handles `any` directly.
type Relation struct {
	// Name is the include-path segment for this relation.
	Name string

	// Target is the binding name of the related entity type.
	Target string

	// Kind is the relation shape.
	Kind RelationKind

	// OnDelete applies to RelationHasMany only.
	OnDelete CascadePolicy

	// Ref returns the key of the referenced target record for a RelationHasOne.
	// The bool is false when the reference is unset.
	Ref func(e any) (Key, bool)

	// ChildKey returns the owner key held by a candidate child record for a
	// RelationHasMany. The bool is false when the record is not of the child
	// type or holds no owner key.
	ChildKey func(child any) (Key, bool)

	// AttachOne sets the loaded target record on the declaring record.
	AttachOne func(e, related any)

	// AttachMany sets the loaded child records on the declaring record.
	AttachMany func(e any, related []any)
}

// RelationOption customizes a relation at binding time.
type RelationOption func(*Relation)

// OnDelete sets the cascade policy of an owning relation.
func OnDelete(p CascadePolicy) RelationOption {
	return func(r *Relation) {
		r.OnDelete = p
	}
}

// ChildRef adapts a typed owner-key extractor into the type-erased form a
// RelationHasMany needs. Records of other types report no owner.
func ChildRef[C any](fn func(*C) (Key, bool)) func(any) (Key, bool) {
	return func(e any) (Key, bool) {
		c, ok := e.(*C)
		if !ok {
			return Key{}, false
		}
		return fn(c)
	}
}

// AttachMany adapts a typed collection setter into the type-erased form a
// RelationHasMany needs. Children that are not of the expected type are skipped.
func AttachMany[T, C any](fn func(*T, []*C)) func(any, []any) {
	return func(e any, related []any) {
		owner, ok := e.(*T)
		if !ok {
			return
		}
		children := make([]*C, 0, len(related))
		for _, r := range related {
			if c, ok := r.(*C); ok {
				children = append(children, c)
			}
		}
		fn(owner, children)
	}
}

// AttachOne adapts a typed reference setter into the type-erased form a
// RelationHasOne needs.
func AttachOne[T, R any](fn func(*T, *R)) func(any, any) {
	return func(e, related any) {
		owner, ok := e.(*T)
		if !ok {
			return
		}
		if r, ok := related.(*R); ok {
			fn(owner, r)
		}
	}
}
