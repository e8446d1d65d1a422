package selection

import "slices"

// Index is the ascending list of rows that may take part in a selection for
// the current view. Structural rows (gaps, headers) are never in it.
// It is rebuilt wholesale when the view changes.
type Index struct {
	rows []RowID
}

func NewIndex(rows []RowID) *Index {
	x := &Index{rows: slices.Clone(rows)}
	if !slices.IsSorted(x.rows) {
		slices.Sort(x.rows)
	}
	x.rows = slices.Compact(x.rows)
	return x
}

// IndexOf returns the position of id, or -1.
func (x *Index) IndexOf(id RowID) int {
	if x == nil {
		return -1
	}
	i, ok := slices.BinarySearch(x.rows, id)
	if !ok {
		return -1
	}
	return i
}

func (x *Index) Contains(id RowID) bool { return x.IndexOf(id) >= 0 }

func (x *Index) At(i int) RowID { return x.rows[i] }

func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.rows)
}

// Rows returns a copy of the selectable ids.
func (x *Index) Rows() []RowID {
	if x == nil {
		return nil
	}
	return slices.Clone(x.rows)
}
