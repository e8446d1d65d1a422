package selection

import "errors"

// Action is what a click did to the rows it touched.
type Action int

const (
	Deselect Action = iota
	Select
)

func (a Action) String() string {
	if a == Select {
		return "select"
	}
	return "deselect"
}

// Anchor is the last plain or range click. The zero value means no click has
// happened yet in this view, so a shift-click has nothing to extend from.
type Anchor struct {
	id     RowID
	action Action
	set    bool
}

// ID returns the anchored row and whether there is one.
func (a Anchor) ID() (RowID, bool) { return a.id, a.set }

func (a Anchor) Action() Action { return a.action }

// Change describes one selection mutation for renderers and counters.
type Change struct {
	Selection []RowID // full selection after the change, ascending
	Affected  []RowID // rows the click applied Action to, ascending
	Action    Action
	Range     bool
}

// Interpreter turns row clicks into selection mutations.
type Interpreter struct {
	index     *Index
	selection *Set
	anchor    Anchor

	// OnSelectionChanged, when set, is called after every mutation.
	OnSelectionChanged func(Change)
}

func NewInterpreter(selectable []RowID) *Interpreter {
	return &Interpreter{
		index:     NewIndex(selectable),
		selection: NewSet(),
	}
}

// Reload swaps in a new selectable index and drops the selection and anchor
// in the same step, so no stale id survives a view change.
func (in *Interpreter) Reload(selectable []RowID) {
	in.index = NewIndex(selectable)
	in.selection = NewSet()
	in.anchor = Anchor{}
	in.notify(Change{Action: Deselect})
}

// Click applies a click on id. It reports false when id is not selectable,
// in which case nothing changes.
func (in *Interpreter) Click(id RowID, shift bool) (Change, bool) {
	if !in.index.Contains(id) {
		return Change{}, false
	}

	action := Select
	if in.selection.Contains(id) {
		action = Deselect
	}
	affected := []RowID{id}
	ranged := false

	if from, ok := in.anchor.ID(); shift && ok {
		ids, err := ResolveRange(in.index, from, id)
		switch {
		case err == nil:
			action = in.anchor.Action()
			affected = ids
			ranged = true
		case errors.Is(err, ErrRangeResolution):
			// stale anchor: treat as a plain click
		default:
			return Change{}, false
		}
	}

	if action == Select {
		in.selection.Add(affected)
	} else {
		in.selection.Remove(affected)
	}
	in.anchor = Anchor{id: id, action: action, set: true}

	ch := Change{
		Selection: in.selection.IDs(),
		Affected:  affected,
		Action:    action,
		Range:     ranged,
	}
	in.notify(ch)
	return ch, true
}

// Clear empties the selection and forgets the anchor.
func (in *Interpreter) Clear() {
	prev := in.selection.IDs()
	in.selection.Clear()
	in.anchor = Anchor{}
	in.notify(Change{Affected: prev, Action: Deselect})
}

// Selected answers the renderer's "is this row selected?".
func (in *Interpreter) Selected(id RowID) bool { return in.selection.Contains(id) }

func (in *Interpreter) Selection() []RowID { return in.selection.IDs() }

func (in *Interpreter) Len() int { return in.selection.Len() }

func (in *Interpreter) Anchor() Anchor { return in.anchor }

// Selectable reports whether id is in the current index.
func (in *Interpreter) Selectable(id RowID) bool { return in.index.Contains(id) }

func (in *Interpreter) notify(ch Change) {
	if in.OnSelectionChanged != nil {
		in.OnSelectionChanged(ch)
	}
}
