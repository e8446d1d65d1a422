package tui

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jask/fluxqc/internal/config"
	"github.com/jask/fluxqc/internal/database/repository"
	"github.com/jask/fluxqc/internal/qcflag"
	"github.com/jask/fluxqc/internal/review"
	"github.com/jask/fluxqc/internal/selection"
	"github.com/jask/fluxqc/internal/service"
)

// App ties together views.
type App struct {
	ctx      context.Context
	repos    Repos
	services Services
	cfg      config.Config
	log      *zap.Logger
	keys     *KeyRegistry
	tz       *time.Location

	state  appState
	modal  modalState
	status string

	datasets []repository.DatasetSummary
	dsCursor int

	view        service.View
	session     *review.Session
	onlyPending bool
	rowCursor   int
	scroll      int
	lastChange  *selection.Change

	dialog  flagDialog
	message string
	history []repository.MessageUse

	width, height int
	startDataset  string
}

type Repos struct {
	Datasets *repository.DatasetRepo
}

type Services struct {
	Review *service.ReviewService
}

type appState string

const (
	viewDatasets appState = "datasets"
	viewRows     appState = "rows"
)

type modalState string

const (
	modalNone    modalState = ""
	modalFlag    modalState = "flag"
	modalMessage modalState = "message"
)

// flagDialog collects a flag decision for the current selection.
type flagDialog struct {
	decision    review.Decision
	flags       []qcflag.Flag
	flagIdx     int
	input       textinput.Model
	suggestions []string
	suggestIdx  int
	err         error
}

func (d flagDialog) flag() qcflag.Flag { return d.flags[d.flagIdx] }

type datasetsMsg []repository.DatasetSummary

// viewMsg carries a loaded page. page marks n/p paging within the view on
// screen, which keeps the selection.
type viewMsg struct {
	view service.View
	page bool
}

// loadFailedMsg blocks the UI with a message dialog.
type loadFailedMsg struct{ err error }

type flagsAppliedMsg struct{ result review.Result }

type historyMsg []repository.MessageUse

type reviewedMsg struct{ datasetID string }

type acceptedAllMsg struct {
	name string
	rows int64
}

type errMsg struct{ error }

// New builds the app. dataset, when set, is opened straight away.
func New(ctx context.Context, cfg config.Config, repos Repos, services Services, log *zap.Logger, dataset string) *App {
	tz, err := time.LoadLocation(cfg.UI.Timezone)
	if err != nil {
		tz = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &App{
		ctx:          ctx,
		repos:        repos,
		services:     services,
		cfg:          cfg,
		log:          log,
		keys:         DefaultKeys(),
		tz:           tz,
		state:        viewDatasets,
		startDataset: dataset,
	}
}

func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.loadDatasets()}
	if a.startDataset != "" {
		cmds = append(cmds, a.openDataset(a.startDataset, 0))
	}
	return tea.Batch(cmds...)
}

func (a *App) loadDatasets() tea.Cmd {
	return func() tea.Msg {
		list, err := a.repos.Datasets.List(a.ctx)
		if err != nil {
			return errMsg{err}
		}
		return datasetsMsg(list)
	}
}

func (a *App) openDataset(ref string, offset int) tea.Cmd {
	return a.loadView(ref, offset, false)
}

// turnPage loads another page of the dataset on screen.
func (a *App) turnPage(offset int) tea.Cmd {
	return a.loadView(a.view.Dataset.ID, offset, true)
}

func (a *App) loadView(ref string, offset int, page bool) tea.Cmd {
	q := service.ViewQuery{DatasetID: ref, Offset: offset, Limit: a.cfg.Review.PageSize}
	if a.onlyPending {
		q.WoceFlags = []qcflag.Flag{qcflag.NeedsFlag}
	}
	return func() tea.Msg {
		v, err := a.services.Review.LoadView(a.ctx, q)
		if err != nil {
			return loadFailedMsg{err}
		}
		return viewMsg{view: v, page: page}
	}
}

func (a *App) loadHistory() tea.Cmd {
	return func() tea.Msg {
		h, err := a.services.Review.MessageHistory(a.ctx)
		if err != nil {
			return errMsg{err}
		}
		return historyMsg(h)
	}
}

func (a *App) runJob(job review.Job) tea.Cmd {
	return func() tea.Msg {
		return flagsAppliedMsg{result: job(a.ctx)}
	}
}

func (a *App) acceptAllCmd(ds repository.DatasetSummary) tea.Cmd {
	return func() tea.Msg {
		n, err := a.services.Review.AcceptAllAutomatic(a.ctx, ds.ID)
		if err != nil {
			return errMsg{err}
		}
		return acceptedAllMsg{name: ds.Name, rows: n}
	}
}

func (a *App) markReviewedCmd(id string) tea.Cmd {
	return func() tea.Msg {
		if err := a.services.Review.MarkReviewed(a.ctx, id); err != nil {
			return errMsg{err}
		}
		return reviewedMsg{datasetID: id}
	}
}

func (a *App) scope() string {
	switch a.modal {
	case modalFlag:
		return scopeFlag
	case modalMessage:
		return scopeMessage
	}
	if a.state == viewRows {
		return scopeRows
	}
	return scopeDatasets
}

func (a *App) is(m tea.KeyMsg, action string) bool {
	return a.keys.IsAction(m, action, a.scope())
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = m.Width, m.Height
		a.ensureCursorVisible()
	case tea.KeyMsg:
		if a.is(m, actQuit) {
			return a, tea.Quit
		}
		switch a.modal {
		case modalFlag:
			return a.handleFlagKey(m)
		case modalMessage:
			if a.is(m, actConfirm) || a.is(m, actCancel) {
				a.modal = modalNone
				a.message = ""
				a.state = viewDatasets
				return a, a.loadDatasets()
			}
			return a, nil
		}
		if a.state == viewRows {
			return a.handleRowsKey(m)
		}
		return a.handleDatasetsKey(m)
	case tea.MouseMsg:
		if a.state == viewRows && a.modal == modalNone {
			a.handleMouse(m)
		}
	case datasetsMsg:
		a.datasets = []repository.DatasetSummary(m)
		if a.dsCursor >= len(a.datasets) {
			a.dsCursor = max(0, len(a.datasets)-1)
		}
	case viewMsg:
		a.installView(m.view, m.page)
	case loadFailedMsg:
		a.log.Warn("dataset load failed", zap.Error(m.err))
		a.modal = modalMessage
		a.message = m.err.Error()
	case flagsAppliedMsg:
		if a.session == nil || m.result.Submission.DatasetID != a.session.DatasetID {
			return a, nil
		}
		a.session.FlagsApplied(m.result)
		if m.result.Err != nil {
			a.status = "save failed: " + m.result.Err.Error()
			return a, nil
		}
		sub := m.result.Submission
		if sub.Kind == review.SubmitAcceptAutomatic {
			a.status = fmt.Sprintf("accepted automatic QC on %d rows", len(sub.IDs))
		} else {
			a.status = fmt.Sprintf("flagged %d rows %s", len(sub.IDs), sub.Flag)
		}
	case historyMsg:
		a.history = []repository.MessageUse(m)
		a.refreshSuggestions()
	case reviewedMsg:
		if a.session != nil && a.session.DatasetID == m.datasetID {
			a.session.MarkClean()
			a.view.Dataset.Dirty = false
		}
		a.status = "dataset marked reviewed"
	case acceptedAllMsg:
		a.status = fmt.Sprintf("accepted automatic QC on %d rows of %s", m.rows, m.name)
		return a, a.loadDatasets()
	case errMsg:
		a.status = "error: " + m.Error()
	}
	return a, nil
}

// installView replaces the page on screen. The session is kept across pages
// of one dataset so the dirty marker survives paging. Paging keeps the
// selection; opening the dataset or changing the filter rebuilds the
// selectable index and drops it.
func (a *App) installView(v service.View, page bool) {
	fresh := a.session == nil || a.session.DatasetID != v.Dataset.ID
	if fresh {
		a.session = review.NewSession(v.Dataset.ID, a.services.Review, a.log)
		a.session.SetRequireCommentForGood(a.cfg.Review.RequireCommentForGood)
		a.session.OnSelectionChanged = func(ch selection.Change) { a.lastChange = &ch }
	}
	if !fresh && page && a.state == viewRows && slices.Equal(a.view.Query.WoceFlags, v.Query.WoceFlags) {
		a.session.LoadPage(v.States())
	} else {
		a.session.Reload(v.Selectable, v.States())
		a.lastChange = nil
	}
	a.view = v
	a.state = viewRows
	if a.rowCursor >= len(v.Rows) {
		a.rowCursor = max(0, len(v.Rows)-1)
	}
	a.ensureCursorVisible()
}

func (a *App) handleDatasetsKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case a.is(m, actUp):
		if a.dsCursor > 0 {
			a.dsCursor--
		}
	case a.is(m, actDown):
		if a.dsCursor < len(a.datasets)-1 {
			a.dsCursor++
		}
	case a.is(m, actRefresh):
		return a, a.loadDatasets()
	case a.is(m, actOpen):
		if len(a.datasets) == 0 {
			return a, nil
		}
		a.rowCursor, a.scroll = 0, 0
		a.status = "loading..."
		return a, a.openDataset(a.datasets[a.dsCursor].ID, 0)
	case a.is(m, actAcceptAll):
		if len(a.datasets) == 0 {
			return a, nil
		}
		return a, a.acceptAllCmd(a.datasets[a.dsCursor])
	}
	return a, nil
}

func (a *App) handleRowsKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	rows := a.view.Rows
	switch {
	case a.is(m, actBack):
		a.state = viewDatasets
		a.session = nil
		a.status = ""
		return a, a.loadDatasets()
	case a.is(m, actUp):
		if a.rowCursor > 0 {
			a.rowCursor--
		}
		a.ensureCursorVisible()
	case a.is(m, actDown):
		if a.rowCursor < len(rows)-1 {
			a.rowCursor++
		}
		a.ensureCursorVisible()
	case a.is(m, actClick), a.is(m, actShiftClick):
		if len(rows) == 0 {
			return a, nil
		}
		a.click(selection.RowID(rows[a.rowCursor].ID), a.is(m, actShiftClick))
	case a.is(m, actClear):
		a.session.ClearSelection()
	case a.is(m, actFlag):
		if a.session.Len() == 0 {
			a.status = "select rows first"
			return a, nil
		}
		a.openFlagDialog()
		return a, a.loadHistory()
	case a.is(m, actAccept):
		job := a.session.RequestAcceptAutomatic()
		if job == nil {
			a.status = "select rows first"
			return a, nil
		}
		a.status = "saving..."
		return a, a.runJob(job)
	case a.is(m, actNextPage):
		if a.view.Page()+1 < a.view.Pages() {
			return a, a.turnPage(a.view.Query.Offset + a.view.Query.Limit)
		}
	case a.is(m, actPrevPage):
		if a.view.Query.Offset > 0 {
			return a, a.turnPage(max(0, a.view.Query.Offset-a.view.Query.Limit))
		}
	case a.is(m, actOnlyPending):
		a.onlyPending = !a.onlyPending
		a.rowCursor, a.scroll = 0, 0
		return a, a.openDataset(a.view.Dataset.ID, 0)
	case a.is(m, actMarkDone):
		return a, a.markReviewedCmd(a.view.Dataset.ID)
	}
	return a, nil
}

// rowsTop is the screen line of the first table row: title, then header.
const rowsTop = 2

func (a *App) handleMouse(m tea.MouseMsg) {
	if m.Action != tea.MouseActionPress || m.Button != tea.MouseButtonLeft {
		return
	}
	idx := m.Y - rowsTop + a.scroll
	if m.Y < rowsTop || idx < 0 || idx >= len(a.view.Rows) || idx >= a.scroll+a.visibleRows() {
		return
	}
	a.rowCursor = idx
	a.click(selection.RowID(a.view.Rows[idx].ID), m.Shift)
}

func (a *App) click(id selection.RowID, shift bool) {
	if !a.session.Selectable(id) {
		a.status = "row is not selectable"
		return
	}
	a.session.Click(id, shift)
	a.status = ""
}

func (a *App) openFlagDialog() {
	d := a.session.Decision()
	flags := qcflag.Assignable()
	idx := slices.Index(flags, assignableFor(d.Worst))
	if idx < 0 {
		idx = 0
	}
	in := textinput.New()
	in.Prompt = "Comment: "
	in.CharLimit = 500
	in.Width = 60
	in.Cursor.SetMode(cursor.CursorStatic)
	in.SetValue(d.DefaultComment)
	in.CursorEnd()
	in.Focus()
	a.dialog = flagDialog{decision: d, flags: flags, flagIdx: idx, input: in}
	a.modal = modalFlag
	a.refreshSuggestions()
}

// assignableFor maps a worst automatic flag onto the flag a reviewer would
// most likely choose.
func assignableFor(f qcflag.Flag) qcflag.Flag {
	switch f {
	case qcflag.Bad, qcflag.Fatal:
		return qcflag.Bad
	case qcflag.Questionable, qcflag.NeedsFlag:
		return qcflag.Questionable
	default:
		return qcflag.Good
	}
}

func (a *App) refreshSuggestions() {
	if a.modal != modalFlag {
		return
	}
	a.dialog.suggestions = service.RankComments(a.dialog.input.Value(), a.history, 3)
	a.dialog.suggestIdx = 0
}

func (a *App) handleFlagKey(m tea.KeyMsg) (tea.Model, tea.Cmd) {
	d := &a.dialog
	switch {
	case a.is(m, actCancel):
		a.modal = modalNone
		return a, nil
	case a.is(m, actNextFlag):
		d.flagIdx = (d.flagIdx + 1) % len(d.flags)
		d.err = nil
		return a, nil
	case a.is(m, actPrevFlag):
		d.flagIdx = (d.flagIdx - 1 + len(d.flags)) % len(d.flags)
		d.err = nil
		return a, nil
	case a.is(m, actSuggest):
		if len(d.suggestions) > 0 {
			d.input.SetValue(d.suggestions[d.suggestIdx%len(d.suggestions)])
			d.input.CursorEnd()
			d.suggestIdx++
		}
		return a, nil
	case a.is(m, actConfirm):
		job, err := a.session.RequestFlagSubmission(d.flag(), d.input.Value())
		if err != nil {
			d.err = err
			return a, nil
		}
		a.modal = modalNone
		if job == nil {
			return a, nil
		}
		a.status = "saving..."
		return a, a.runJob(job)
	}
	var cmd tea.Cmd
	d.input, cmd = d.input.Update(m)
	d.err = nil
	a.refreshSuggestions()
	return a, cmd
}

func (a *App) visibleRows() int {
	if a.height <= 0 {
		return len(a.view.Rows)
	}
	// title, header, help line, status line
	return max(1, a.height-rowsTop-2)
}

func (a *App) ensureCursorVisible() {
	n := a.visibleRows()
	if a.rowCursor < a.scroll {
		a.scroll = a.rowCursor
	}
	if a.rowCursor >= a.scroll+n {
		a.scroll = a.rowCursor - n + 1
	}
	if a.scroll < 0 {
		a.scroll = 0
	}
}
