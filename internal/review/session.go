// Package review holds the per-view state of a QC review: which rows are
// selectable, which are selected, and the flag decisions made on them.
//
// A Session is created when a dataset view opens and dropped when the
// reviewer leaves it. All methods must be called from the UI event loop.
// Only the Job returned by a submission request runs elsewhere, and it
// touches nothing but its own copy of the request.
package review

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/jask/fluxqc/internal/qcflag"
	"github.com/jask/fluxqc/internal/selection"
)

type SubmissionKind int

const (
	SubmitFlag SubmissionKind = iota
	SubmitAcceptAutomatic
)

func (k SubmissionKind) String() string {
	if k == SubmitAcceptAutomatic {
		return "accept-automatic"
	}
	return "flag"
}

// Submission is a flag decision on its way to the store.
type Submission struct {
	DatasetID string
	Kind      SubmissionKind
	IDs       []selection.RowID
	Flag      qcflag.Flag
	Comment   string
}

// Submitter persists submissions. Implementations may block.
type Submitter interface {
	Submit(ctx context.Context, sub Submission) error
}

// Result is delivered back to the session once a submission resolves.
// Session and Generation identify the view the submission was made from.
type Result struct {
	Submission Submission
	Session    uint64
	Generation uint64
	Err        error
}

// Job performs a submission off the event loop.
type Job func(ctx context.Context) Result

// Decision pre-populates the flag dialog for the current selection.
type Decision struct {
	Count          int
	Worst          qcflag.Flag
	Comments       []qcflag.CommentCount
	DefaultComment string
}

// sessionSeq numbers sessions so a result can find the one that issued it.
var sessionSeq atomic.Uint64

type Session struct {
	DatasetID string

	id         uint64
	clicks     *selection.Interpreter
	flags      *Propagator
	submitter  Submitter
	log        *zap.Logger
	generation uint64
	inFlight   int

	OnSelectionChanged func(selection.Change)
	OnFlagsApplied     func(Result)
}

func NewSession(datasetID string, submitter Submitter, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		DatasetID: datasetID,
		id:        sessionSeq.Add(1),
		clicks:    selection.NewInterpreter(nil),
		flags:     NewPropagator(nil),
		submitter: submitter,
		log:       log.With(zap.String("dataset", datasetID)),
	}
	s.clicks.OnSelectionChanged = func(ch selection.Change) {
		if s.OnSelectionChanged != nil {
			s.OnSelectionChanged(ch)
		}
	}
	return s
}

// SetRequireCommentForGood mirrors the review.require_comment_for_good setting.
func (s *Session) SetRequireCommentForGood(v bool) { s.flags.RequireCommentForGood = v }

// Load installs a view whose rows are all loaded at once: the selectable
// index is taken from rows.
func (s *Session) Load(rows []RowFlagState) {
	selectable := make([]selection.RowID, 0, len(rows))
	for _, r := range rows {
		if r.Selectable {
			selectable = append(selectable, r.ID)
		}
	}
	s.Reload(selectable, rows)
}

// Reload installs a new view. selectable lists every selectable row of the
// view, rendered or not; rows are the states loaded so far. The selectable
// index and the selection are replaced together.
func (s *Session) Reload(selectable []selection.RowID, rows []RowFlagState) {
	s.generation++
	s.flags.Load(rows)
	s.clicks.Reload(selectable)
	s.log.Debug("view loaded",
		zap.Uint64("generation", s.generation),
		zap.Int("rows", len(rows)),
		zap.Int("selectable", len(selectable)))
}

// LoadPage adds the states of another page of the same view. The index,
// the selection and the anchor are kept, so a range may span pages.
func (s *Session) LoadPage(rows []RowFlagState) {
	s.flags.Merge(rows)
	s.log.Debug("page loaded", zap.Uint64("generation", s.generation), zap.Int("rows", len(rows)))
}

func (s *Session) Click(id selection.RowID, shift bool) (selection.Change, bool) {
	return s.clicks.Click(id, shift)
}

func (s *Session) Selected(id selection.RowID) bool   { return s.clicks.Selected(id) }
func (s *Session) Selectable(id selection.RowID) bool { return s.clicks.Selectable(id) }
func (s *Session) Selection() []selection.RowID       { return s.clicks.Selection() }
func (s *Session) Len() int                           { return s.clicks.Len() }
func (s *Session) ClearSelection()                    { s.clicks.Clear() }
func (s *Session) Dirty() bool                        { return s.flags.Dirty() }
func (s *Session) MarkClean()                         { s.flags.MarkClean() }
func (s *Session) Generation() uint64                 { return s.generation }
func (s *Session) ID() uint64                         { return s.id }
func (s *Session) InFlight() int                      { return s.inFlight }

func (s *Session) State(id selection.RowID) (RowFlagState, bool) { return s.flags.State(id) }

// Decision summarises the selection for the flag dialog.
func (s *Session) Decision() Decision {
	ids := s.clicks.Selection()
	comments := s.flags.DefaultComments(ids)
	return Decision{
		Count:          len(ids),
		Worst:          s.flags.WorstFlag(ids),
		Comments:       comments,
		DefaultComment: qcflag.JoinComments(comments),
	}
}

// CanConfirm reports why a decision would be rejected, or nil.
func (s *Session) CanConfirm(flag qcflag.Flag, comment string) error {
	return qcflag.ValidateDecision(flag, comment, s.flags.RequireCommentForGood)
}

// RequestFlagSubmission validates a decision for the current selection and
// returns the job that persists it. A nil job with a nil error means the
// selection is empty.
func (s *Session) RequestFlagSubmission(flag qcflag.Flag, comment string) (Job, error) {
	ids := s.clicks.Selection()
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.CanConfirm(flag, comment); err != nil {
		return nil, err
	}
	return s.job(Submission{
		DatasetID: s.DatasetID,
		Kind:      SubmitFlag,
		IDs:       ids,
		Flag:      flag,
		Comment:   comment,
	}), nil
}

// RequestAcceptAutomatic returns the job that copies automatic QC into the
// override fields of the selected rows, or nil for an empty selection.
func (s *Session) RequestAcceptAutomatic() Job {
	ids := s.clicks.Selection()
	if len(ids) == 0 {
		return nil
	}
	return s.job(Submission{
		DatasetID: s.DatasetID,
		Kind:      SubmitAcceptAutomatic,
		IDs:       ids,
	})
}

func (s *Session) job(sub Submission) Job {
	s.inFlight++
	gen, id := s.generation, s.id
	submitter := s.submitter
	s.log.Info("submitting flags",
		zap.Stringer("kind", sub.Kind),
		zap.Int("rows", len(sub.IDs)),
		zap.Stringer("flag", sub.Flag))
	return func(ctx context.Context) Result {
		res := Result{Submission: sub, Session: id, Generation: gen}
		if submitter != nil {
			res.Err = submitter.Submit(ctx, sub)
		}
		return res
	}
}

// FlagsApplied takes the outcome of a submission. On success the decision
// is mirrored into the loaded row states and, if the view has not been
// reloaded meanwhile, the selection is cleared. A failed submission leaves
// the selection in place so the reviewer can retry. A result issued by
// another session only updates row states.
func (s *Session) FlagsApplied(res Result) {
	own := res.Session == s.id
	if own && s.inFlight > 0 {
		s.inFlight--
	}
	if res.Err != nil {
		s.log.Warn("flag submission failed", zap.Error(res.Err))
		if s.OnFlagsApplied != nil {
			s.OnFlagsApplied(res)
		}
		return
	}

	sub := res.Submission
	switch sub.Kind {
	case SubmitAcceptAutomatic:
		s.flags.AcceptAutomatic(sub.IDs)
	default:
		if _, err := s.flags.ApplyFlag(sub.IDs, sub.Flag, sub.Comment); err != nil {
			s.log.Error("apply submitted flag", zap.Error(err))
		}
	}
	current := own && res.Generation == s.generation
	if current {
		s.clicks.Clear()
	}
	s.log.Info("flags applied",
		zap.Stringer("kind", sub.Kind),
		zap.Int("rows", len(sub.IDs)),
		zap.Bool("stale_view", !current))
	if s.OnFlagsApplied != nil {
		s.OnFlagsApplied(res)
	}
}
