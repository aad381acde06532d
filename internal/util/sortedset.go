package util

import "slices"

// A SortedSet represents a set of strings sorted in lexicographical order.
// The zero value represents an empty set.
type SortedSet struct {
	elems  []string // invariant: sorted
	maxLen int
}

// Add adds e to set.
func (set *SortedSet) Add(e string) {
	i, found := slices.BinarySearch(set.elems, e)
	if found {
		return
	}
	set.elems = slices.Insert(set.elems, i, e)
	set.maxLen = max(set.maxLen, len(e))
}

// Size returns the cardinality of set.
func (set SortedSet) Size() int {
	return len(set.elems)
}

// Contains reports whether e is an element of set.
func (set SortedSet) Contains(e string) bool {
	if set.maxLen < len(e) {
		return false
	}
	_, found := slices.BinarySearch(set.elems, e)
	return found
}

// ToSlice returns a slice of set's elements sorted in lexicographical order.
func (set SortedSet) ToSlice() []string {
	// Clients may mutate the result.
	return slices.Clone(set.elems)
}
