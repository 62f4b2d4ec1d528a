package entity

import (
	"fmt"
	"sort"
)

// validator is implemented by bindings that can check themselves at
// registration time.
type validator interface {
	validate() error
}

// Registry is the type-indexed set of entity bindings a store and its
// sessions share. Register every binding once at startup; lookups after that
// are read-only and safe for concurrent use.
type Registry struct {
	byName map[string]Type
	order  []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Type)}
}

// Register adds a binding. Registering the same name twice fails with
// ErrTypeAlreadyBound.
func (r *Registry) Register(t Type) error {
	if v, ok := t.(validator); ok {
		if err := v.validate(); err != nil {
			return err
		}
	}
	name := t.Name()
	if _, exists := r.byName[name]; exists {
		return Annotate(ErrTypeAlreadyBound, "entity", name)
	}
	r.byName[name] = t
	r.order = append(r.order, name)
	return nil
}

// Lookup returns the binding registered under name.
func (r *Registry) Lookup(name string) (Type, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, Annotate(ErrTypeNotBound, "entity", name)
	}
	return t, nil
}

// Types returns all registered bindings sorted by name.
func (r *Registry) Types() []Type {
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	out := make([]Type, len(names))
	for i, n := range names {
		out[i] = r.byName[n]
	}
	return out
}

// TypeFor finds the binding for the Go type T by probing registered
// bindings with a type assertion. At most one binding per Go type may be
// registered; the first match wins. Fails with ErrTypeNotBound when T has no
// binding.
func TypeFor[T any](r *Registry) (Type, error) {
	for _, name := range r.order {
		if b, ok := r.byName[name].(*Binding[T]); ok {
			return b, nil
		}
	}
	var zero T
	return nil, Annotate(ErrTypeNotBound, "got", fmt.Sprintf("%T", zero))
}
