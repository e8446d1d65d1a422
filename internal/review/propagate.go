package review

import (
	"github.com/jask/fluxqc/internal/qcflag"
	"github.com/jask/fluxqc/internal/selection"
)

// RowFlagState is the QC state of one row. The automatic pair comes from
// upstream processing and is never changed here; the override pair holds
// the reviewer's WOCE decision.
type RowFlagState struct {
	ID              selection.RowID
	Selectable      bool
	AutoFlag        qcflag.Flag
	AutoMessage     string
	OverrideFlag    qcflag.Flag
	OverrideMessage string
}

// Propagator applies flag decisions to the rows of one dataset view.
type Propagator struct {
	states map[selection.RowID]*RowFlagState
	dirty  bool

	// RequireCommentForGood makes a comment mandatory for Good decisions too.
	RequireCommentForGood bool
}

func NewPropagator(rows []RowFlagState) *Propagator {
	p := &Propagator{}
	p.Load(rows)
	return p
}

// Load replaces the row states. The dirty marker survives; it belongs to
// the review session, not the view.
func (p *Propagator) Load(rows []RowFlagState) {
	p.states = make(map[selection.RowID]*RowFlagState, len(rows))
	for i := range rows {
		r := rows[i]
		p.states[r.ID] = &r
	}
}

// Merge adds or overwrites states without dropping the others.
func (p *Propagator) Merge(rows []RowFlagState) {
	if p.states == nil {
		p.states = make(map[selection.RowID]*RowFlagState, len(rows))
	}
	for i := range rows {
		r := rows[i]
		p.states[r.ID] = &r
	}
}

// State returns a copy of the row's flags.
func (p *Propagator) State(id selection.RowID) (RowFlagState, bool) {
	s, ok := p.states[id]
	if !ok {
		return RowFlagState{}, false
	}
	return *s, true
}

func (p *Propagator) Dirty() bool { return p.dirty }

// MarkClean is called after the dataset has been saved.
func (p *Propagator) MarkClean() { p.dirty = false }

// WorstFlag reduces the automatic flags of the selected rows.
func (p *Propagator) WorstFlag(ids []selection.RowID) qcflag.Flag {
	flags := make([]qcflag.Flag, 0, len(ids))
	for _, id := range ids {
		if s, ok := p.states[id]; ok {
			flags = append(flags, s.AutoFlag)
		}
	}
	return qcflag.Worst(flags)
}

// DefaultComments collects the automatic QC messages of the selected rows.
func (p *Propagator) DefaultComments(ids []selection.RowID) []qcflag.CommentCount {
	msgs := make([]string, 0, len(ids))
	for _, id := range ids {
		if s, ok := p.states[id]; ok {
			msgs = append(msgs, s.AutoMessage)
		}
	}
	return qcflag.DefaultComments(msgs)
}

// ApplyFlag sets the override flag and message on every selected row.
// Validation happens first, so a rejected decision leaves every row as it
// was. Ids with no loaded state are skipped. It returns the number of rows
// updated.
func (p *Propagator) ApplyFlag(ids []selection.RowID, flag qcflag.Flag, comment string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := qcflag.ValidateDecision(flag, comment, p.RequireCommentForGood); err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		s, ok := p.states[id]
		if !ok {
			continue
		}
		s.OverrideFlag = flag
		s.OverrideMessage = comment
		n++
	}
	if n > 0 {
		p.dirty = true
	}
	return n, nil
}

// AcceptAutomatic copies each selected row's automatic flag and message into
// its override fields unchanged.
func (p *Propagator) AcceptAutomatic(ids []selection.RowID) int {
	n := 0
	for _, id := range ids {
		s, ok := p.states[id]
		if !ok {
			continue
		}
		s.OverrideFlag = s.AutoFlag
		s.OverrideMessage = s.AutoMessage
		n++
	}
	if n > 0 {
		p.dirty = true
	}
	return n
}
