// Package selection keeps the reviewer's row selection in step with the
// selectable rows of the current dataset view.
//
// Row ids are stable across table pages, so a selection may span rows that
// are not currently rendered. Everything here runs on the UI event loop and
// is not safe for concurrent use.
package selection

import "slices"

// RowID identifies a logical data row. It does not change with paging.
type RowID int64

// Set is an ascending, duplicate-free collection of row ids.
type Set struct {
	ids []RowID
}

// NewSet builds a set from ids in any order.
func NewSet(ids ...RowID) *Set {
	s := &Set{ids: slices.Clone(ids)}
	slices.Sort(s.ids)
	s.ids = slices.Compact(s.ids)
	return s
}

// Add merges ids into the set and returns how many were new.
// ids must be ascending.
func (s *Set) Add(ids []RowID) int {
	if len(ids) == 0 {
		return 0
	}
	merged := make([]RowID, 0, len(s.ids)+len(ids))
	added := 0
	i, j := 0, 0
	for i < len(s.ids) || j < len(ids) {
		switch {
		case j >= len(ids) || (i < len(s.ids) && s.ids[i] < ids[j]):
			merged = append(merged, s.ids[i])
			i++
		case i >= len(s.ids) || ids[j] < s.ids[i]:
			if n := len(merged); n == 0 || merged[n-1] != ids[j] {
				merged = append(merged, ids[j])
				added++
			}
			j++
		default:
			// present on both sides
			merged = append(merged, s.ids[i])
			i++
			j++
		}
	}
	s.ids = merged
	return added
}

// Remove drops every id in ids that is present and returns how many went.
// ids must be ascending; ids not in the set are ignored.
func (s *Set) Remove(ids []RowID) int {
	if len(ids) == 0 || len(s.ids) == 0 {
		return 0
	}
	kept := make([]RowID, 0, len(s.ids))
	removed := 0
	j := 0
	for _, id := range s.ids {
		for j < len(ids) && ids[j] < id {
			j++
		}
		if j < len(ids) && ids[j] == id {
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.ids = kept
	return removed
}

func (s *Set) Clear() { s.ids = nil }

// Contains is a binary search.
func (s *Set) Contains(id RowID) bool {
	_, ok := slices.BinarySearch(s.ids, id)
	return ok
}

func (s *Set) Len() int { return len(s.ids) }

// IDs returns a copy of the members in ascending order.
func (s *Set) IDs() []RowID { return slices.Clone(s.ids) }
