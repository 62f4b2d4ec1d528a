package entity

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Type is the type-erased view of a Binding. Sessions, stores, and query
// plans operate on entities exclusively through this interface; no component
// of the runtime reflects over entity structs.
type Type interface {
	// Name is the binding name, unique within a Registry.
	Name() string

	// KeyOf extracts the primary key of an instance.
	KeyOf(e any) (Key, error)

	// Fields returns the declared scalar field names in declaration order.
	Fields() []string

	// Value returns one scalar field of an instance.
	Value(e any, field string) (any, error)

	// Snapshot captures all scalar fields of an instance.
	Snapshot(e any) (Values, error)

	// Apply writes the given field values onto an instance.
	Apply(e any, v Values) error

	// Clone returns a fresh instance carrying the same scalar fields.
	// Relation references are not copied.
	Clone(e any) (any, error)

	// New returns a zero instance of the bound type.
	New() any

	// Relations returns the declared relations in declaration order.
	Relations() []Relation

	// Relation looks up one relation by name.
	Relation(name string) (Relation, bool)

	// Fingerprint hashes a snapshot into a 64-bit value. Equal snapshots
	// produce equal fingerprints, so an unchanged fingerprint skips the
	// field-by-field diff.
	Fingerprint(v Values) uint64
}

type fieldBinding[T any] struct {
	name string
	get  func(*T) any
	set  func(*T, any)
}

// Binding describes one entity type: its name, key extraction, scalar
// fields, and relations. Build one with Bind and register it in a Registry.
type Binding[T any] struct {
	name      string
	newFn     func() *T
	keyFn     func(*T) Key
	fields    []fieldBinding[T]
	fieldIdx  map[string]int
	relations []Relation
	relIdx    map[string]int
}

// Bind starts a binding for T under the given name.
func Bind[T any](name string) *Binding[T] {
	return &Binding[T]{
		name:     name,
		fieldIdx: make(map[string]int),
		relIdx:   make(map[string]int),
	}
}

// Key sets the primary key extractor. Required.
func (b *Binding[T]) Key(fn func(*T) Key) *Binding[T] {
	b.keyFn = fn
	return b
}

// Constructor sets the instance constructor stores use when decoding.
// Optional; defaults to the zero value.
func (b *Binding[T]) Constructor(fn func() *T) *Binding[T] {
	b.newFn = fn
	return b
}

// Field declares one scalar field with its getter and setter.
func (b *Binding[T]) Field(name string, get func(*T) any, set func(*T, any)) *Binding[T] {
	if _, dup := b.fieldIdx[name]; dup {
		return b
	}
	b.fieldIdx[name] = len(b.fields)
	b.fields = append(b.fields, fieldBinding[T]{name: name, get: get, set: set})
	return b
}

// HasOne declares a reference to a single target record whose key the bound
// type holds. ref reports the referenced key, attach receives the loaded record.
func (b *Binding[T]) HasOne(name, target string, ref func(*T) (Key, bool), attach func(any, any)) *Binding[T] {
	r := Relation{
		Name:      name,
		Target:    target,
		Kind:      RelationHasOne,
		AttachOne: attach,
	}
	if ref != nil {
		r.Ref = func(e any) (Key, bool) {
			t, ok := e.(*T)
			if !ok {
				return Key{}, false
			}
			return ref(t)
		}
	}
	return b.addRelation(r)
}

// HasMany declares an owning collection of target records. childKey reports
// the owner key a candidate child holds (use ChildRef), attach receives the
// loaded children (use AttachMany). The delete policy defaults to restrict.
func (b *Binding[T]) HasMany(name, target string, childKey func(any) (Key, bool), attach func(any, []any), opts ...RelationOption) *Binding[T] {
	r := Relation{
		Name:       name,
		Target:     target,
		Kind:       RelationHasMany,
		OnDelete:   CascadeRestrict,
		ChildKey:   childKey,
		AttachMany: attach,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return b.addRelation(r)
}

func (b *Binding[T]) addRelation(r Relation) *Binding[T] {
	if _, dup := b.relIdx[r.Name]; dup {
		return b
	}
	b.relIdx[r.Name] = len(b.relations)
	b.relations = append(b.relations, r)
	return b
}

func (b *Binding[T]) validate() error {
	if b.name == "" {
		return Annotate(ErrTypeNotBound, "reason", "empty binding name")
	}
	if b.keyFn == nil {
		return Annotate(ErrMissingKey, "entity", b.name)
	}
	for _, r := range b.relations {
		switch r.Kind {
		case RelationHasOne:
			if r.Ref == nil {
				return Annotate(ErrUnknownRelation,
					"entity", b.name, "relation", r.Name, "reason", "has-one without a ref callback")
			}
		case RelationHasMany:
			if r.ChildKey == nil {
				return Annotate(ErrUnknownRelation,
					"entity", b.name, "relation", r.Name, "reason", "has-many without a child key callback")
			}
		}
	}
	return nil
}

// Name implements Type.
func (b *Binding[T]) Name() string {
	return b.name
}

// New implements Type.
func (b *Binding[T]) New() any {
	if b.newFn != nil {
		return b.newFn()
	}
	return new(T)
}

func (b *Binding[T]) instance(e any) (*T, error) {
	t, ok := e.(*T)
	if !ok {
		return nil, Annotate(ErrTypeNotBound, "entity", b.name, "got", fmt.Sprintf("%T", e))
	}
	return t, nil
}

// KeyOf implements Type.
func (b *Binding[T]) KeyOf(e any) (Key, error) {
	t, err := b.instance(e)
	if err != nil {
		return Key{}, err
	}
	k := b.keyFn(t)
	if k.IsZero() {
		return Key{}, Annotate(ErrMissingKey, "entity", b.name)
	}
	return k, nil
}

// Fields implements Type.
func (b *Binding[T]) Fields() []string {
	names := make([]string, len(b.fields))
	for i, f := range b.fields {
		names[i] = f.name
	}
	return names
}

// Value implements Type.
func (b *Binding[T]) Value(e any, field string) (any, error) {
	t, err := b.instance(e)
	if err != nil {
		return nil, err
	}
	i, ok := b.fieldIdx[field]
	if !ok {
		return nil, Annotate(ErrUnknownField, "entity", b.name, "field", field)
	}
	return b.fields[i].get(t), nil
}

// Snapshot implements Type.
func (b *Binding[T]) Snapshot(e any) (Values, error) {
	t, err := b.instance(e)
	if err != nil {
		return nil, err
	}
	v := make(Values, len(b.fields))
	for _, f := range b.fields {
		v[f.name] = f.get(t)
	}
	return v, nil
}

// Apply implements Type.
func (b *Binding[T]) Apply(e any, v Values) error {
	t, err := b.instance(e)
	if err != nil {
		return err
	}
	for name, val := range v {
		i, ok := b.fieldIdx[name]
		if !ok {
			return Annotate(ErrUnknownField, "entity", b.name, "field", name)
		}
		b.fields[i].set(t, val)
	}
	return nil
}

// Clone implements Type.
func (b *Binding[T]) Clone(e any) (any, error) {
	v, err := b.Snapshot(e)
	if err != nil {
		return nil, err
	}
	fresh := b.New()
	if err := b.Apply(fresh, v); err != nil {
		return nil, err
	}
	return fresh, nil
}

// Relations implements Type.
func (b *Binding[T]) Relations() []Relation {
	return b.relations
}

// Relation implements Type.
func (b *Binding[T]) Relation(name string) (Relation, bool) {
	i, ok := b.relIdx[name]
	if !ok {
		return Relation{}, false
	}
	return b.relations[i], true
}

// Fingerprint implements Type. Fields are hashed in sorted name order so the
// result does not depend on map iteration.
func (b *Binding[T]) Fingerprint(v Values) uint64 {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)

	h := xxhash.New()
	for _, name := range names {
		_, _ = h.WriteString(name)
		_, _ = h.Write([]byte{0x1f})
		_, _ = h.WriteString(fmt.Sprintf("%v", v[name]))
		_, _ = h.Write([]byte{0x1e})
	}
	return h.Sum64()
}
