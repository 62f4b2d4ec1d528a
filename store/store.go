// Package store defines the boundary contract between the session runtime
// and a record store. Adapters under store/ implement it; everything above
// consumes it.
package store

import (
	"context"

	"go.trai.ch/keep/entity"
	"go.trai.ch/keep/query"
)

//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

// Op is the kind of one batched write.
type Op uint8

const (
	// OpInsert creates a record that must not exist yet.
	OpInsert Op = iota + 1
	// OpUpdate replaces the fields of an existing record.
	OpUpdate
	// OpDelete removes an existing record.
	OpDelete
)

// String returns the op name.
func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Write is one record mutation within a batch.
type Write struct {
	Op       Op
	TypeName string
	Key      entity.Key

	// Entity is the full record for inserts and updates, nil for deletes.
	Entity any

	// Changed lists the diffed field names for updates. Document stores may
	// apply the full record instead; the diff travels for stores that can
	// write minimally and for observability.
	Changed []string
}

// Batch is an atomic group of writes. A store applies all of them or none.
type Batch struct {
	// ID identifies the batch in logs and traces.
	ID string

	// Session is the id of the session that produced the batch.
	Session string

	Writes []Write
}

// Store is a keyed, queryable record source with atomic batched writes.
// Implementations must be safe for concurrent use by multiple sessions and
// must return detached copies, never instances the store retains.
type Store interface {
	// Get returns the record of the given type under key.
	// A miss fails with entity.ErrNotFound.
	Get(ctx context.Context, typeName string, key entity.Key) (any, error)

	// Query executes a plan: criteria, ordering, paging, and include
	// attachment. The plan's type names the record set.
	Query(ctx context.Context, plan query.Plan) ([]any, error)

	// ExecuteBatch applies every write or none. Inserting an existing key
	// fails with entity.ErrDuplicateKey, updating or deleting a missing key
	// with entity.ErrNotFound, and infrastructure failures with
	// entity.ErrStoreFailure.
	ExecuteBatch(ctx context.Context, batch Batch) error

	// Close releases the underlying resources.
	Close() error
}

// Inspector is the optional read-only surface dev tooling uses to look into
// a store without bindings for its record types.
type Inspector interface {
	// TypeNames returns the names of all record types present, sorted.
	TypeNames(ctx context.Context) ([]string, error)

	// Keys returns the keys of all records of one type, sorted by their
	// canonical encoding.
	Keys(ctx context.Context, typeName string) ([]entity.Key, error)
}
