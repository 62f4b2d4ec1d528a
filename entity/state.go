package entity

// State is the lifecycle state of a tracked entity within one session.
//
// The zero value is StateDetached: an entity the session does not know.
type State uint8

const (
	// StateDetached marks an entity unknown to the session. Entries reaching
	// this state are removed from the tracker.
	StateDetached State = iota

	// StateUnchanged marks an entity loaded from the store with no pending changes.
	StateUnchanged

	// StateAdded marks an entity scheduled for insertion. It has never been persisted.
	StateAdded

	// StateModified marks an entity whose fields diverge from its loaded snapshot.
	StateModified

	// StateDeleted marks an entity scheduled for deletion.
	StateDeleted
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateUnchanged:
		return "unchanged"
	case StateAdded:
		return "added"
	case StateModified:
		return "modified"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Pending reports whether the state requires a store write on commit.
func (s State) Pending() bool {
	return s == StateAdded || s == StateModified || s == StateDeleted
}
