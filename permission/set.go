package permission

import "sort"

// IDSet is a set of permission ids.
type IDSet map[int]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...int) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s IDSet) Add(id int) { s[id] = struct{}{} }

func (s IDSet) Remove(id int) { delete(s, id) }

func (s IDSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Clone returns an independent copy.
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out.Add(id)
	}
	return out
}

// Union returns s ∪ other without modifying either.
func (s IDSet) Union(other IDSet) IDSet {
	out := s.Clone()
	for id := range other {
		out.Add(id)
	}
	return out
}

// Difference returns s \ other without modifying either.
func (s IDSet) Difference(other IDSet) IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		if !other.Has(id) {
			out.Add(id)
		}
	}
	return out
}

// ContainsAll reports whether every id of other is in s.
func (s IDSet) ContainsAll(other IDSet) bool {
	for id := range other {
		if !s.Has(id) {
			return false
		}
	}
	return true
}

func (s IDSet) Equal(other IDSet) bool {
	return len(s) == len(other) && s.ContainsAll(other)
}

// Sorted returns the ids in ascending order, the shape the assignment endpoint takes.
func (s IDSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// ToggleCategory applies a "select all" (union) or "deselect all" (difference) of
// the category's ids to current. Applying the same direction twice is a no-op.
func ToggleCategory(current IDSet, category Category, selectAll bool) IDSet {
	if selectAll {
		return current.Union(category.IDs())
	}
	return current.Difference(category.IDs())
}

// CategorySelected reports whether every permission of the category is in current,
// which is how the "all" checkbox of a category renders.
func CategorySelected(current IDSet, category Category) bool {
	return len(category.Permissions) > 0 && current.ContainsAll(category.IDs())
}
