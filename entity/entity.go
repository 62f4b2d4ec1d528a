// Package entity defines the domain model of the runtime: keys, field value
// snapshots, lifecycle states, and the descriptor registry that binds plain
// Go record types into it. Everything else in the module builds on this
// package.
//
// Entities are plain structs with no tracking logic of their own. A Binding
// describes one entity type once (key extraction, scalar fields, relations)
// and is registered in a Registry; sessions, stores, and specifications all
// operate through that description instead of reflecting over the struct.
package entity

import (
	"fmt"
	"sort"
	"strings"
)

// keySep separates the parts of a composite key in its canonical encoding.
const keySep = "\x1f"

// Key is the canonical, comparable form of an entity's primary key.
// Keys are usable as map keys and stable across processes for the same parts.
type Key struct {
	id string
}

// NewKey builds a Key from one or more scalar parts. Composite keys encode
// their parts in order.
func NewKey(parts ...any) Key {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteString(keySep)
		}
		fmt.Fprintf(&b, "%v", p)
	}
	return Key{id: b.String()}
}

// String returns the canonical encoding. Composite parts are joined with a
// unit separator, so single-part keys render as their plain value.
func (k Key) String() string {
	return strings.ReplaceAll(k.id, keySep, "/")
}

// Raw returns the key's internal encoding. Unlike String it is lossless for
// composite keys, so store adapters persist it as the key column.
func (k Key) Raw() string {
	return k.id
}

// RawKey reconstructs a key from its Raw encoding.
func RawKey(raw string) Key {
	return Key{id: raw}
}

// IsZero reports whether the key has no parts.
func (k Key) IsZero() bool {
	return k.id == ""
}

// Values is a snapshot of an entity's scalar fields, keyed by field name.
type Values map[string]any

// Clone returns an independent copy of the snapshot.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Fields returns the snapshot's field names in sorted order.
func (v Values) Fields() []string {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
