package headers

import (
	"slices"
	"strings"
)

const (
	MaxOWSBytes      = 1  // number of leading/trailing OWS bytes tolerated
	MaxEmptyElements = 16 // number of empty list elements tolerated
)

// A SortedSet represents a set of byte-lowercase header names sorted in
// lexicographical order. Each element has a unique position ranging
// from 0 (inclusive) to the set's cardinality (exclusive).
// The zero value represents an empty set.
type SortedSet struct {
	m      map[string]int
	maxLen int
}

// NewSortedSet returns a SortedSet that contains all of elems,
// but no other elements.
func NewSortedSet(elems ...string) SortedSet {
	elems = slices.Clone(elems)
	slices.Sort(elems)
	elems = slices.Compact(elems)
	m := make(map[string]int, len(elems))
	var maxLen int
	for i, s := range elems {
		maxLen = max(maxLen, len(s))
		m[s] = i
	}
	return SortedSet{m: m, maxLen: maxLen}
}

// Size returns the cardinality of set.
func (set SortedSet) Size() int {
	return len(set.m)
}

// ToSlice returns the elements of set in lexicographical order.
func (set SortedSet) ToSlice() []string {
	elems := make([]string, len(set.m))
	for elem, i := range set.m {
		elems[i] = elem // safe indexing, by construction of SortedSet
	}
	return elems
}

// String joins the elements of set with a comma.
func (set SortedSet) String() string {
	return strings.Join(set.ToSlice(), ValueSep)
}

// Accepts reports whether values is a sequence of [list-based field values]
// whose elements are all members of set, sorted in lexicographical order,
// and unique.
//
// Browsers send a single Access-Control-Request-Headers field line whose
// elements are byte-lowercase, sorted, and free of whitespace, but
// intermediaries may split it into several field lines and sprinkle some
// optional whitespace (OWS) around its elements.
// Accepts tolerates up to MaxOWSBytes bytes of OWS around each element
// and up to MaxEmptyElements empty elements overall, which bounds the
// amount of work that a spoofed preflight request can cause.
//
// [list-based field values]: https://httpwg.org/specs/rfc9110.html#abnf.extension
func (set SortedSet) Accepts(values []string) bool {
	maxLen := MaxOWSBytes + set.maxLen + MaxOWSBytes + 1 // +1 for comma
	var (
		posOfLastNameSeen = -1
		name              string
		commaFound        bool
		emptyElements     int
		ok                bool
	)
	for _, s := range values {
		for {
			// Only process a bounded number of leading bytes per iteration,
			// so that maliciously long names get rejected early.
			name, s, commaFound = cutAtComma(s, maxLen)
			name, ok = TrimOWS(name, MaxOWSBytes)
			if !ok {
				return false
			}
			if name == "" {
				emptyElements++
				if emptyElements > MaxEmptyElements {
					return false
				}
				if !commaFound {
					break
				}
				continue
			}
			pos, found := set.m[name]
			// The positions of the names should form
			// a strictly increasing sequence.
			if !found || pos <= posOfLastNameSeen {
				return false
			}
			posOfLastNameSeen = pos
			if !commaFound {
				break
			}
		}
	}
	return true
}

// cutAtComma slices s around the first comma that appears among (up to) the
// first n bytes of s, returning the parts of s before and after the comma.
// If no comma appears in that portion of s, cutAtComma returns s, "", false.
func cutAtComma(s string, n int) (before, after string, found bool) {
	end := min(len(s), n)
	if i := strings.IndexByte(s[:end], ','); i >= 0 {
		return s[:i], s[i+1:], true
	}
	return s, "", false
}

// TrimOWS trims up to n bytes of [optional whitespace (OWS)]
// from the start of and/or the end of s.
// If no more than n bytes of OWS are found at either end of s,
// it returns the trimmed result and true.
// Otherwise, it returns the original string and false.
//
// [optional whitespace (OWS)]: https://httpwg.org/specs/rfc9110.html#whitespace
func TrimOWS(s string, n int) (string, bool) {
	trimmed := strings.TrimRight(s, ows)
	if len(s)-len(trimmed) > n {
		return s, false
	}
	untrimmed := trimmed
	trimmed = strings.TrimLeft(trimmed, ows)
	if len(untrimmed)-len(trimmed) > n {
		return s, false
	}
	return trimmed, true
}

const ows = "\t "
