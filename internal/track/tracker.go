package track

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.trai.ch/keep/entity"
)

// Tracker owns the identity map and state machine of one session. It is not
// safe for concurrent use; a session is a single-writer scope and takes no
// locks of its own.
type Tracker struct {
	reg     *entity.Registry
	log     *slog.Logger
	entries map[string]map[entity.Key]*Entry
	seq     int
}

// New returns an empty tracker over the given registry.
func New(reg *entity.Registry, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Tracker{
		reg:     reg,
		log:     log,
		entries: make(map[string]map[entity.Key]*Entry),
	}
}

// Track registers an instance under the given state. Only StateUnchanged
// (store read) and StateAdded (explicit add) start an entry.
//
// Tracking the exact same instance again returns its existing entry; a
// distinct instance under an already-tracked key fails with ErrDuplicateKey.
func (t *Tracker) Track(desc entity.Type, e any, state entity.State) (*Entry, error) {
	if state != entity.StateUnchanged && state != entity.StateAdded {
		return nil, entity.Annotate(entity.ErrInvalidState,
			"entity", desc.Name(), "op", "track", "state", state.String())
	}
	key, err := desc.KeyOf(e)
	if err != nil {
		return nil, err
	}

	if existing, ok := t.lookup(desc.Name(), key); ok {
		if existing.Entity != e {
			return nil, entity.Annotate(entity.ErrDuplicateKey,
				"entity", desc.Name(), "key", key.String())
		}
		if state == entity.StateAdded && existing.State != entity.StateAdded {
			return nil, entity.Annotate(entity.ErrDuplicateKey,
				"entity", desc.Name(), "key", key.String(), "state", existing.State.String())
		}
		return existing, nil
	}

	entry := &Entry{
		Type:   desc,
		Key:    key,
		Entity: e,
		State:  state,
		seq:    t.seq,
	}
	t.seq++
	if err := entry.refreshSnapshot(); err != nil {
		return nil, err
	}
	entry.State = state

	byKey := t.entries[desc.Name()]
	if byKey == nil {
		byKey = make(map[entity.Key]*Entry)
		t.entries[desc.Name()] = byKey
	}
	byKey[key] = entry

	t.log.Debug("entry tracked", "entity", desc.Name(), "key", key.String(), "state", state.String())
	return entry, nil
}

// MarkModified transitions an entry from Unchanged to Modified. Already
// Modified is a no-op; any other state is illegal.
func (t *Tracker) MarkModified(desc entity.Type, e any) error {
	entry, err := t.entryOf(desc, e, "mark_modified")
	if err != nil {
		return err
	}
	switch entry.State {
	case entity.StateUnchanged:
		entry.State = entity.StateModified
		return nil
	case entity.StateModified:
		return nil
	default:
		return entity.Annotate(entity.ErrInvalidState,
			"entity", desc.Name(), "key", entry.Key.String(),
			"op", "mark_modified", "state", entry.State.String())
	}
}

// MarkDeleted transitions a tracked entry to Deleted. An Added entry is
// removed immediately since it was never persisted. Owned dependents are
// handled per the relation's cascade policy: restrict fails with
// ErrCascadeViolation before any state changes, cascade marks every
// dependent deleted as well.
func (t *Tracker) MarkDeleted(desc entity.Type, e any) error {
	entry, err := t.entryOf(desc, e, "mark_deleted")
	if err != nil {
		return err
	}
	if entry.State == entity.StateDeleted {
		return nil
	}

	// Restrict checks run over the whole cascade closure first so a blocked
	// delete leaves every entry untouched.
	if err := t.checkRestrict(entry, make(map[*Entry]bool)); err != nil {
		return err
	}
	t.delete(entry, make(map[*Entry]bool))
	return nil
}

func (t *Tracker) checkRestrict(entry *Entry, seen map[*Entry]bool) error {
	if seen[entry] {
		return nil
	}
	seen[entry] = true

	for _, rel := range entry.Type.Relations() {
		if rel.Kind != entity.RelationHasMany {
			continue
		}
		deps := t.dependents(rel, entry.Key)
		if len(deps) == 0 {
			continue
		}
		if rel.OnDelete == entity.CascadeRestrict {
			return entity.Annotate(entity.ErrCascadeViolation,
				"entity", entry.Type.Name(), "key", entry.Key.String(),
				"relation", rel.Name, "dependents", len(deps))
		}
		for _, dep := range deps {
			if err := t.checkRestrict(dep, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Tracker) delete(entry *Entry, seen map[*Entry]bool) {
	if seen[entry] || entry.State == entity.StateDeleted {
		return
	}
	seen[entry] = true

	for _, rel := range entry.Type.Relations() {
		if rel.Kind != entity.RelationHasMany || rel.OnDelete != entity.CascadeDelete {
			continue
		}
		for _, dep := range t.dependents(rel, entry.Key) {
			t.delete(dep, seen)
		}
	}

	if entry.State == entity.StateAdded {
		t.remove(entry)
		t.log.Debug("added entry dropped", "entity", entry.Type.Name(), "key", entry.Key.String())
		return
	}
	entry.State = entity.StateDeleted
	t.log.Debug("entry deleted", "entity", entry.Type.Name(), "key", entry.Key.String())
}

// dependents returns the tracked, not yet deleted children an owning
// relation currently holds for the given owner key. Cascade evaluation sees
// only tracked entries; store-side referential enforcement stays with the store.
func (t *Tracker) dependents(rel entity.Relation, owner entity.Key) []*Entry {
	if rel.ChildKey == nil {
		return nil
	}
	var deps []*Entry
	for _, child := range t.typeEntries(rel.Target) {
		if child.State == entity.StateDeleted {
			continue
		}
		key, ok := rel.ChildKey(child.Entity)
		if ok && key == owner {
			deps = append(deps, child)
		}
	}
	return deps
}

// Diff returns the field names whose current values diverge from the entry's
// snapshot, in declaration order. An attached entry reports every field. The
// fingerprint short-circuits the comparison when nothing changed.
func (t *Tracker) Diff(desc entity.Type, e any) ([]string, error) {
	entry, err := t.entryOf(desc, e, "diff")
	if err != nil {
		return nil, err
	}
	return t.diff(entry)
}

func (t *Tracker) diff(entry *Entry) ([]string, error) {
	if entry.overwrite {
		return entry.Type.Fields(), nil
	}
	current, err := entry.Type.Snapshot(entry.Entity)
	if err != nil {
		return nil, err
	}
	if entry.Type.Fingerprint(current) == entry.fingerprint {
		return nil, nil
	}
	var changed []string
	for _, field := range entry.Type.Fields() {
		if !sameValue(entry.original[field], current[field]) {
			changed = append(changed, field)
		}
	}
	return changed, nil
}

// Attach registers a caller-constructed instance that did not originate from
// this session. It lands as Modified with every field considered changed,
// the documented full-row-overwrite semantics: a later commit writes all
// fields whether or not they actually diverge. Pass asUnchanged to register
// the instance as a clean read instead.
func (t *Tracker) Attach(desc entity.Type, e any, asUnchanged bool) (*Entry, error) {
	entry, err := t.Track(desc, e, entity.StateUnchanged)
	if err != nil {
		return nil, err
	}
	if asUnchanged {
		return entry, nil
	}
	if entry.State == entity.StateUnchanged {
		entry.State = entity.StateModified
	}
	entry.overwrite = true
	return entry, nil
}

// Detach removes an entry in any state. Detaching an untracked instance is a no-op.
func (t *Tracker) Detach(desc entity.Type, e any) error {
	key, err := desc.KeyOf(e)
	if err != nil {
		return err
	}
	if entry, ok := t.lookup(desc.Name(), key); ok && entry.Entity == e {
		t.remove(entry)
	}
	return nil
}

// ByKey returns the tracked entry for (type, key), if any. This is the
// identity-map lookup a repository consults before touching the store.
func (t *Tracker) ByKey(typeName string, key entity.Key) (*Entry, bool) {
	return t.lookup(typeName, key)
}

// StateOf reports the lifecycle state of an instance. Untracked instances
// are StateDetached.
func (t *Tracker) StateOf(desc entity.Type, e any) entity.State {
	key, err := desc.KeyOf(e)
	if err != nil {
		return entity.StateDetached
	}
	if entry, ok := t.lookup(desc.Name(), key); ok && entry.Entity == e {
		return entry.State
	}
	return entity.StateDetached
}

// Entries returns every tracked entry in insertion order.
func (t *Tracker) Entries() []*Entry {
	var all []*Entry
	for _, byKey := range t.entries {
		for _, entry := range byKey {
			all = append(all, entry)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	return all
}

// Len returns the number of tracked entries.
func (t *Tracker) Len() int {
	n := 0
	for _, byKey := range t.entries {
		n += len(byKey)
	}
	return n
}

// EntriesForCommit collects every entry needing a store write, in an order
// that satisfies referential constraints: inserts and updates first with
// owners before their dependents, then deletes with dependents before their
// owners. Unchanged entries whose fields diverged from their snapshot are
// promoted to Modified here; each Modified entry's changed field set is
// cached on the entry for the write builder.
func (t *Tracker) EntriesForCommit() ([]*Entry, error) {
	var upserts, deletes []*Entry
	for _, entry := range t.Entries() {
		switch entry.State {
		case entity.StateUnchanged, entity.StateModified:
			changed, err := t.diff(entry)
			if err != nil {
				return nil, err
			}
			if entry.State == entity.StateUnchanged {
				if len(changed) == 0 {
					continue
				}
				entry.State = entity.StateModified
			}
			entry.changed = changed
			upserts = append(upserts, entry)
		case entity.StateAdded:
			upserts = append(upserts, entry)
		case entity.StateDeleted:
			deletes = append(deletes, entry)
		}
	}

	upserts, err := orderOwnersFirst(upserts)
	if err != nil {
		return nil, err
	}
	deletes, err = orderOwnersFirst(deletes)
	if err != nil {
		return nil, err
	}
	reverse(deletes)

	return append(upserts, deletes...), nil
}

// Finalize advances the state of successfully committed entries: inserts and
// updates become Unchanged with a refreshed snapshot, deletes detach.
func (t *Tracker) Finalize(entries []*Entry) error {
	for _, entry := range entries {
		switch entry.State {
		case entity.StateAdded, entity.StateModified:
			if err := entry.refreshSnapshot(); err != nil {
				return err
			}
			entry.State = entity.StateUnchanged
		case entity.StateDeleted:
			t.remove(entry)
		}
	}
	return nil
}

func (t *Tracker) entryOf(desc entity.Type, e any, op string) (*Entry, error) {
	key, err := desc.KeyOf(e)
	if err != nil {
		return nil, err
	}
	entry, ok := t.lookup(desc.Name(), key)
	if !ok {
		return nil, entity.Annotate(entity.ErrInvalidState,
			"entity", desc.Name(), "key", key.String(), "op", op, "state", entity.StateDetached.String())
	}
	if entry.Entity != e {
		return nil, entity.Annotate(entity.ErrDuplicateKey,
			"entity", desc.Name(), "key", key.String(), "op", op)
	}
	return entry, nil
}

func (t *Tracker) lookup(typeName string, key entity.Key) (*Entry, bool) {
	entry, ok := t.entries[typeName][key]
	return entry, ok
}

func (t *Tracker) typeEntries(typeName string) []*Entry {
	byKey := t.entries[typeName]
	entries := make([]*Entry, 0, len(byKey))
	for _, entry := range byKey {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	return entries
}

func (t *Tracker) remove(entry *Entry) {
	entry.State = entity.StateDetached
	byKey := t.entries[entry.Type.Name()]
	delete(byKey, entry.Key)
	if len(byKey) == 0 {
		delete(t.entries, entry.Type.Name())
	}
}

// sameValue compares two snapshot values without assuming comparability.
// Common scalar kinds compare directly; anything else falls back to its
// printed form, matching how fingerprints are computed.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case int:
		bv, ok := b.(int)
		return ok && av == bv
	case int64:
		bv, ok := b.(int64)
		return ok && av == bv
	case uint64:
		bv, ok := b.(uint64)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func reverse(entries []*Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}
