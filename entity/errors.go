package entity

import "go.trai.ch/zerr"

var (
	// ErrNotFound is returned when a lookup by key finds no record,
	// either in the session or at the store.
	ErrNotFound = zerr.New("record not found")

	// ErrDuplicateKey is returned when a second instance is registered under a
	// key that is already tracked, or when a batch insert collides at the store.
	ErrDuplicateKey = zerr.New("duplicate key")

	// ErrInvalidState is returned when an operation requests a lifecycle
	// transition the state machine does not allow.
	ErrInvalidState = zerr.New("invalid state transition")

	// ErrCascadeViolation is returned when deleting a record is blocked by
	// dependent records under a restrict policy.
	ErrCascadeViolation = zerr.New("delete restricted by dependents")

	// ErrAmbiguousPaging is returned when a specification requests paging
	// without an ordering. Paging an unordered stream is non-deterministic.
	ErrAmbiguousPaging = zerr.New("paging requires an ordering")

	// ErrSessionDisposed is returned when a session is used after Close.
	ErrSessionDisposed = zerr.New("session is disposed")

	// ErrStoreFailure wraps any underlying store error, including a rolled
	// back commit batch.
	ErrStoreFailure = zerr.New("store operation failed")

	// ErrTypeNotBound is returned when an entity type has no registered binding.
	ErrTypeNotBound = zerr.New("entity type not bound")

	// ErrTypeAlreadyBound is returned when a binding name is registered twice.
	ErrTypeAlreadyBound = zerr.New("entity type already bound")

	// ErrMissingKey is returned when a binding has no key function or an
	// instance yields a zero key.
	ErrMissingKey = zerr.New("missing primary key")

	// ErrUnknownField is returned when a specification references a field the
	// binding does not declare.
	ErrUnknownField = zerr.New("unknown field")

	// ErrUnknownRelation is returned when an include path references a
	// relation the binding does not declare.
	ErrUnknownRelation = zerr.New("unknown relation")

	// ErrInvalidCriteria is returned when a criteria expression fails to
	// compile or does not evaluate to a boolean.
	ErrInvalidCriteria = zerr.New("invalid criteria expression")

	// ErrInvalidPage is returned when paging bounds are negative.
	ErrInvalidPage = zerr.New("invalid paging bounds")

	// ErrRelationCycle is returned when pending entries form a cycle over
	// owning relations and no valid write order exists.
	ErrRelationCycle = zerr.New("relation cycle detected")

	// ErrConfigNotFound is returned when the configuration file cannot be read.
	ErrConfigNotFound = zerr.New("config file not found")

	// ErrUnknownDriver is returned when the configured store driver is not recognized.
	ErrUnknownDriver = zerr.New("unknown store driver, expected 'memory' or 'sqlite'")

	// ErrDecodeFailed is returned when a stored record cannot be decoded.
	ErrDecodeFailed = zerr.New("failed to decode record")

	// ErrEncodeFailed is returned when a record cannot be encoded for storage.
	ErrEncodeFailed = zerr.New("failed to encode record")
)

// Annotate attaches key/value metadata to an error. The error is wrapped
// first so it stays in the cause chain and errors.Is keeps matching it;
// zerr.With on a bare sentinel returns a copy outside the sentinel's chain.
// Keys must be strings; a trailing value without a key is ignored.
func Annotate(err error, kv ...any) error {
	if err == nil {
		return nil
	}
	out := zerr.Wrap(err, "")
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = zerr.With(out, key, kv[i+1])
	}
	return out
}
