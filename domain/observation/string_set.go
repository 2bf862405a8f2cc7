package observation

import "sort"

// StringSet is an unordered set of names (field names, header names, query
// parameter names or status codes). A nil StringSet is a valid empty set.
type StringSet map[string]struct{}

// NewStringSet creates a set holding the given items
func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	s.Add(items...)
	return s
}

// Add inserts items into the set
func (s StringSet) Add(items ...string) {
	for _, item := range items {
		s[item] = struct{}{}
	}
}

// Union adds every member of other into s
func (s StringSet) Union(other StringSet) {
	for item := range other {
		s[item] = struct{}{}
	}
}

// Has reports whether item is a member
func (s StringSet) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Len returns the number of members
func (s StringSet) Len() int {
	return len(s)
}

// Clone returns an independent copy. The copy is never nil.
func (s StringSet) Clone() StringSet {
	out := make(StringSet, len(s))
	out.Union(s)
	return out
}

// Sorted returns the members in ascending order
func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for item := range s {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

// Equal reports whether both sets hold the same members
func (s StringSet) Equal(other StringSet) bool {
	if len(s) != len(other) {
		return false
	}
	for item := range s {
		if !other.Has(item) {
			return false
		}
	}
	return true
}
