// Package track implements the per-session change tracker: the identity map
// of every entity instance a session knows, the lifecycle state machine, and
// the dependency-ordered collection of pending writes for commit.
package track

import "go.trai.ch/keep/entity"

// Entry is the tracker's record of one entity instance: its lifecycle state
// and the snapshot of field values it was loaded with.
type Entry struct {
	// Type is the binding of the tracked entity.
	Type entity.Type

	// Key is the extracted primary key. Immutable for the entry's lifetime.
	Key entity.Key

	// Entity is the tracked instance itself. The identity map guarantees at
	// most one entry per (type, key), so this instance is the session's
	// canonical view of the record.
	Entity any

	// State is the current lifecycle state.
	State entity.State

	original    entity.Values
	fingerprint uint64

	// overwrite marks an attached entry whose diff reports every field
	// changed regardless of actual divergence.
	overwrite bool

	// seq is the insertion order, used to keep iteration deterministic.
	seq int

	changed []string
}

// Original returns a copy of the snapshot the entry was registered with.
func (e *Entry) Original() entity.Values {
	if e.original == nil {
		return nil
	}
	return e.original.Clone()
}

// Changed returns the field names the last commit collection diffed for this
// entry. Nil for inserts and deletes.
func (e *Entry) Changed() []string {
	return e.changed
}

func (e *Entry) refreshSnapshot() error {
	snap, err := e.Type.Snapshot(e.Entity)
	if err != nil {
		return err
	}
	e.original = snap
	e.fingerprint = e.Type.Fingerprint(snap)
	e.overwrite = false
	e.changed = nil
	return nil
}
