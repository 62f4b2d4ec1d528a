package track

import (
	"strings"

	"go.trai.ch/keep/entity"
)

// orderOwnersFirst topologically sorts pending entries so every owner
// precedes the entries that reference it, ties broken by insertion order.
// Owner edges come from both relation sides: a HasOne reference names the
// entry's owner directly, a HasMany collection names the entries it owns.
func orderOwnersFirst(entries []*Entry) ([]*Entry, error) {
	if len(entries) < 2 {
		return entries, nil
	}

	pos := make(map[string]map[entity.Key]int, len(entries))
	for i, e := range entries {
		byKey := pos[e.Type.Name()]
		if byKey == nil {
			byKey = make(map[entity.Key]int)
			pos[e.Type.Name()] = byKey
		}
		byKey[e.Key] = i
	}

	owners := make([][]int, len(entries))
	addOwner := func(dependent, owner int) {
		for _, o := range owners[dependent] {
			if o == owner {
				return
			}
		}
		owners[dependent] = append(owners[dependent], owner)
	}

	for i, e := range entries {
		for _, rel := range e.Type.Relations() {
			switch rel.Kind {
			case entity.RelationHasOne:
				if rel.Ref == nil {
					continue
				}
				key, ok := rel.Ref(e.Entity)
				if !ok || key.IsZero() {
					continue
				}
				if j, found := pos[rel.Target][key]; found && j != i {
					addOwner(i, j)
				}
			case entity.RelationHasMany:
				if rel.ChildKey == nil {
					continue
				}
				for j, c := range entries {
					if j == i || c.Type.Name() != rel.Target {
						continue
					}
					if key, ok := rel.ChildKey(c.Entity); ok && key == e.Key {
						addOwner(j, i)
					}
				}
			}
		}
	}

	ordered := make([]*Entry, 0, len(entries))
	visited := make([]int, len(entries)) // 0: unvisited, 1: visiting, 2: visited
	var path []int

	var visit func(i int) error
	visit = func(i int) error {
		visited[i] = 1
		path = append(path, i)

		for _, o := range owners[i] {
			if visited[o] == 1 {
				return cycleError(entries, path, o)
			}
			if visited[o] == 0 {
				if err := visit(o); err != nil {
					return err
				}
			}
		}

		visited[i] = 2
		path = path[:len(path)-1]
		ordered = append(ordered, entries[i])
		return nil
	}

	for i := range entries {
		if visited[i] == 0 {
			if err := visit(i); err != nil {
				return nil, err
			}
		}
	}
	return ordered, nil
}

func cycleError(entries []*Entry, path []int, start int) error {
	var b strings.Builder
	startIdx := 0
	for i, n := range path {
		if n == start {
			startIdx = i
			break
		}
	}
	for _, n := range path[startIdx:] {
		b.WriteString(entryLabel(entries[n]))
		b.WriteString(" -> ")
	}
	b.WriteString(entryLabel(entries[start]))
	return entity.Annotate(entity.ErrRelationCycle, "cycle", b.String())
}

func entryLabel(e *Entry) string {
	return e.Type.Name() + "[" + e.Key.String() + "]"
}
