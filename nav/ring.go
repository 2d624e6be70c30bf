// Package nav implements the navigation order: the fixed cyclic sequence of
// camera identifiers behind next/previous traversal and neighbor-based
// warm-set selection. Cameras outside the order stay playable but are
// excluded from traversal and warming.
package nav

import "fmt"

// Ring is an ordered, cyclic, duplicate-free sequence of camera identifiers.
// A Ring is immutable after construction.
type Ring struct {
	ids   []string
	index map[string]int
}

// New builds a Ring from ids. Duplicate identifiers are rejected.
func New(ids []string) (*Ring, error) {
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("navigation order: duplicate camera id %q", id)
		}
		index[id] = i
	}
	return &Ring{ids: append([]string(nil), ids...), index: index}, nil
}

// Len returns the number of identifiers in the order.
func (r *Ring) Len() int { return len(r.ids) }

// Contains reports whether id participates in traversal.
func (r *Ring) Contains(id string) bool {
	_, ok := r.index[id]
	return ok
}

// IDs returns the order as a copy.
func (r *Ring) IDs() []string {
	return append([]string(nil), r.ids...)
}

// Next returns the successor of id in the cycle. ok is false when id is not
// part of the order.
func (r *Ring) Next(id string) (string, bool) {
	i, ok := r.index[id]
	if !ok || len(r.ids) == 0 {
		return "", false
	}
	return r.ids[(i+1)%len(r.ids)], true
}

// Prev returns the predecessor of id in the cycle. ok is false when id is
// not part of the order.
func (r *Ring) Prev(id string) (string, bool) {
	i, ok := r.index[id]
	if !ok || len(r.ids) == 0 {
		return "", false
	}
	return r.ids[(i-1+len(r.ids))%len(r.ids)], true
}

// Neighbors returns up to n identifiers to keep warm around id: id itself,
// then its successor, predecessor, second successor, and so on, truncated
// once the whole ring is covered. An id outside the order yields only
// itself, since neighbor warming is defined by ring position.
func (r *Ring) Neighbors(id string, n int) []string {
	if n <= 0 {
		return nil
	}
	out := []string{id}
	i, ok := r.index[id]
	if !ok {
		return out
	}

	size := len(r.ids)
	for step := 1; len(out) < n && len(out) < size; step++ {
		next := r.ids[(i+step)%size]
		if len(out) < n && !contains(out, next) {
			out = append(out, next)
		}
		prev := r.ids[(i-step%size+size)%size]
		if len(out) < n && !contains(out, prev) {
			out = append(out, prev)
		}
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
