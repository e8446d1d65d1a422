package selection

import (
	"errors"
	"fmt"
	"slices"
)

// ErrRangeResolution means a range endpoint is not in the selectable index,
// typically a stale anchor left over from before a reload.
var ErrRangeResolution = errors.New("range endpoint not selectable")

type RangeResolutionError struct {
	From, To RowID
}

func (e *RangeResolutionError) Error() string {
	return fmt.Sprintf("resolve range %d..%d: %v", e.From, e.To, ErrRangeResolution)
}

func (e *RangeResolutionError) Unwrap() error { return ErrRangeResolution }

// ResolveRange returns every selectable id between from and to inclusive,
// walking the index from one endpoint toward the other. The result is always
// ascending, whichever direction the walk went.
func ResolveRange(idx *Index, from, to RowID) ([]RowID, error) {
	fi, ti := idx.IndexOf(from), idx.IndexOf(to)
	if fi < 0 || ti < 0 {
		return nil, &RangeResolutionError{From: from, To: to}
	}
	step := 1
	if ti < fi {
		step = -1
	}
	out := make([]RowID, 0, (ti-fi)*step+1)
	for i := fi; ; i += step {
		out = append(out, idx.At(i))
		if i == ti {
			break
		}
	}
	if step < 0 {
		slices.Reverse(out)
	}
	return out, nil
}
