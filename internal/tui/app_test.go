package tui

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/jask/fluxqc/internal/config"
	"github.com/jask/fluxqc/internal/database"
	"github.com/jask/fluxqc/internal/database/repository"
	"github.com/jask/fluxqc/internal/qcflag"
	"github.com/jask/fluxqc/internal/selection"
	"github.com/jask/fluxqc/internal/service"
)

const sampleCSV = `time,co2_ppm,flux,wind_speed,sst,qc_flag,qc_message
2026-03-01 00:00:00,410.2,-1.2,5.1,12.0,2,
2026-03-01 00:30:00,411.0,-1.1,5.3,12.1,3,CO2 spike
,,,,,,
2026-03-01 01:30:00,409.8,-0.9,4.9,12.0,2,
2026-03-01 02:00:00,455.0,3.5,4.8,,4,SST missing
2026-03-01 02:30:00,410.4,-1.0,5.0,11.9,3,CO2 spike
`

type harness struct {
	app          *App
	ctx          context.Context
	measurements *repository.MeasurementRepo
	datasetID    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	dbPath := filepath.Join(t.TempDir(), "tui.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.SeedDefaults(ctx, db))

	datasets := repository.NewDatasetRepo(db)
	measurements := repository.NewMeasurementRepo(db)
	ingest := &service.IngestService{Datasets: datasets}
	res, err := ingest.ImportReader(ctx, "cruise.csv", strings.NewReader(sampleCSV), service.ImportOptions{})
	require.NoError(t, err)

	cfg := config.Config{
		Review: config.ReviewConfig{Reviewer: "kat", PageSize: 50},
		UI:     config.UIConfig{Timezone: "UTC", DateFormat: "2006-01-02 15:04"},
	}
	reviewSvc := &service.ReviewService{Datasets: datasets, Measurements: measurements, Reviewer: "kat"}
	app := New(ctx, cfg, Repos{Datasets: datasets}, Services{Review: reviewSvc}, nil, "")
	h := &harness{app: app, ctx: ctx, measurements: measurements, datasetID: res.DatasetID}
	h.drain(t, app.Init())
	h.send(t, tea.WindowSizeMsg{Width: 160, Height: 30})
	return h
}

// drain runs cmd and every command its messages produce, synchronously.
func (h *harness) drain(t *testing.T, cmd tea.Cmd) {
	t.Helper()
	h.drainDepth(t, cmd, 0)
}

func (h *harness) drainDepth(t *testing.T, cmd tea.Cmd, depth int) {
	t.Helper()
	if cmd == nil {
		return
	}
	require.Less(t, depth, 20, "command chain too deep")
	msg := cmd()
	switch m := msg.(type) {
	case nil, tea.QuitMsg:
		return
	case tea.BatchMsg:
		for _, c := range m {
			h.drainDepth(t, c, depth+1)
		}
		return
	}
	_, next := h.app.Update(msg)
	h.drainDepth(t, next, depth+1)
}

func (h *harness) send(t *testing.T, msg tea.Msg) {
	t.Helper()
	_, cmd := h.app.Update(msg)
	h.drain(t, cmd)
}

func (h *harness) key(t *testing.T, k string) {
	t.Helper()
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "space":
		msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+u":
		msg = tea.KeyMsg{Type: tea.KeyCtrlU}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	h.send(t, msg)
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	require.Len(t, h.app.datasets, 1)
	h.key(t, "enter")
	require.Equal(t, viewRows, h.app.state)
	require.Len(t, h.app.view.Rows, 6)
}

func (h *harness) rowID(i int) selection.RowID {
	return selection.RowID(h.app.view.Rows[i].ID)
}

func (h *harness) stored(t *testing.T, i int) repository.Measurement {
	t.Helper()
	rows, err := h.measurements.ByIDs(h.ctx, []int64{h.app.view.Rows[i].ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func TestOpenDatasetRendersRows(t *testing.T) {
	h := newHarness(t)
	require.Contains(t, h.app.View(), "cruise.csv")

	h.open(t)
	out := h.app.View()
	require.Contains(t, out, "page 1/1")
	require.Contains(t, out, "CO2 spike")
	require.Contains(t, out, "(no data)")
	require.Contains(t, out, "0 selected")
}

func TestRangeSelectSkipsGap(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.key(t, "down")
	h.key(t, "space")
	for range 3 {
		h.key(t, "down")
	}
	h.key(t, "X")

	require.Equal(t, []selection.RowID{h.rowID(1), h.rowID(3), h.rowID(4)}, h.app.session.Selection())
	require.NotNil(t, h.app.lastChange)
	require.True(t, h.app.lastChange.Range)
	require.Contains(t, h.app.View(), "3 selected")

	h.key(t, "c")
	require.Zero(t, h.app.session.Len())
}

func TestGapRowIsNotSelectable(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.key(t, "down")
	h.key(t, "down")
	h.key(t, "space")
	require.Zero(t, h.app.session.Len())
	require.Equal(t, "row is not selectable", h.app.status)
}

func TestFlagDialogRequiresComment(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.key(t, "down")
	h.key(t, "space")
	h.key(t, "down")
	h.key(t, "down")
	h.key(t, "down")
	h.key(t, "X")
	h.key(t, "f")

	require.Equal(t, modalFlag, h.app.modal)
	d := h.app.dialog
	require.Equal(t, 3, d.decision.Count)
	require.Equal(t, qcflag.Bad, d.decision.Worst)
	require.Equal(t, qcflag.Bad, d.flag())
	require.Equal(t, "CO2 spike; SST missing", d.input.Value())

	h.key(t, "ctrl+u")
	require.Empty(t, h.app.dialog.input.Value())
	require.Contains(t, h.app.View(), "comment")

	h.key(t, "enter")
	require.Equal(t, modalFlag, h.app.modal)
	require.ErrorIs(t, h.app.dialog.err, qcflag.ErrEmptyComment)
	require.Equal(t, 3, h.app.session.Len())
	require.Equal(t, qcflag.NeedsFlag, h.stored(t, 1).WoceFlag)

	h.key(t, "sensor fouled")
	require.NoError(t, h.app.dialog.err)
	h.key(t, "enter")

	require.Equal(t, modalNone, h.app.modal)
	require.Zero(t, h.app.session.Len())
	require.Zero(t, h.app.session.InFlight())
	require.True(t, h.app.session.Dirty())
	require.Equal(t, "flagged 3 rows Bad", h.app.status)

	for _, i := range []int{1, 3, 4} {
		m := h.stored(t, i)
		require.Equal(t, qcflag.Bad, m.WoceFlag, "row %d", i)
		require.Equal(t, "sensor fouled", m.WoceMessage)
		require.NotNil(t, m.WoceUser)
		require.Equal(t, "kat", *m.WoceUser)
	}
	require.Equal(t, qcflag.AssumedGood, h.stored(t, 0).WoceFlag)
	require.Contains(t, h.app.View(), "[modified]")
}

func TestFlagDialogGoodWithoutComment(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.key(t, "space")
	h.key(t, "f")
	require.Equal(t, qcflag.Good, h.app.dialog.flag())
	require.Empty(t, h.app.dialog.input.Value())

	h.key(t, "enter")
	require.Equal(t, modalNone, h.app.modal)
	require.Equal(t, qcflag.Good, h.stored(t, 0).WoceFlag)
}

func TestFlagDialogCancelKeepsSelection(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.key(t, "down")
	h.key(t, "space")
	h.key(t, "f")
	h.key(t, "tab")
	require.Equal(t, qcflag.Bad, h.app.dialog.flag())
	h.key(t, "esc")

	require.Equal(t, modalNone, h.app.modal)
	require.Equal(t, viewRows, h.app.state)
	require.Equal(t, 1, h.app.session.Len())
	require.Equal(t, qcflag.NeedsFlag, h.stored(t, 1).WoceFlag)
}

func TestFlagWithoutSelection(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.key(t, "f")
	require.Equal(t, modalNone, h.app.modal)
	require.Equal(t, "select rows first", h.app.status)
}

func TestAcceptAutomaticCopiesQC(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.key(t, "down")
	h.key(t, "space")
	h.key(t, "a")

	m := h.stored(t, 1)
	require.Equal(t, qcflag.Questionable, m.WoceFlag)
	require.Equal(t, "CO2 spike", m.WoceMessage)
	require.Zero(t, h.app.session.Len())
	st, ok := h.app.session.State(h.rowID(1))
	require.True(t, ok)
	require.Equal(t, qcflag.Questionable, st.OverrideFlag)
}

func TestMouseShiftClick(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	press := func(y int, shift bool) {
		h.send(t, tea.MouseMsg{X: 5, Y: y, Shift: shift, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	}
	press(rowsTop+1, false)
	press(rowsTop+5, true)
	require.Equal(t, []selection.RowID{h.rowID(1), h.rowID(3), h.rowID(4), h.rowID(5)}, h.app.session.Selection())
	require.Equal(t, 5, h.app.rowCursor)

	press(rowsTop+4, false)
	require.Equal(t, []selection.RowID{h.rowID(1), h.rowID(3), h.rowID(5)}, h.app.session.Selection())

	press(rowsTop+5, true)
	require.Equal(t, []selection.RowID{h.rowID(1), h.rowID(3)}, h.app.session.Selection())

	press(0, false)
	require.Equal(t, 2, h.app.session.Len())
}

func TestUnreviewedOnlyFilter(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.key(t, "u")
	require.True(t, h.app.onlyPending)
	require.Len(t, h.app.view.Rows, 3)
	for _, m := range h.app.view.Rows {
		require.Equal(t, qcflag.NeedsFlag, m.WoceFlag)
	}
	require.Contains(t, h.app.View(), "unreviewed only")
}

func TestMarkReviewedClearsDirty(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.key(t, "space")
	h.key(t, "a")
	require.True(t, h.app.session.Dirty())

	h.key(t, "w")
	require.False(t, h.app.session.Dirty())
	require.Equal(t, "dataset marked reviewed", h.app.status)

	h.key(t, "esc")
	require.Equal(t, viewDatasets, h.app.state)
	require.NotNil(t, h.app.datasets[0].ReviewedAt)
	require.False(t, h.app.datasets[0].Dirty)
}

func TestAcceptAllFromDatasetList(t *testing.T) {
	h := newHarness(t)

	h.key(t, "A")
	require.Equal(t, "accepted automatic QC on 5 rows of cruise.csv", h.app.status)
	require.True(t, h.app.datasets[0].Dirty)
	require.Zero(t, h.app.datasets[0].NeedsFlag)
}

func TestLoadFailureShowsMessage(t *testing.T) {
	h := newHarness(t)

	h.drain(t, h.app.openDataset("no-such-dataset", 0))
	require.Equal(t, modalMessage, h.app.modal)
	require.Contains(t, h.app.View(), "Could not load dataset")
	require.Contains(t, h.app.message, "not found")

	h.key(t, "space")
	require.Equal(t, modalMessage, h.app.modal)

	h.key(t, "enter")
	require.Equal(t, modalNone, h.app.modal)
	require.Equal(t, viewDatasets, h.app.state)
}

func TestStartDatasetOpensDirectly(t *testing.T) {
	h := newHarness(t)
	app := New(h.ctx, h.app.cfg, h.app.repos, h.app.services, nil, "cruise.csv")
	h.app = app
	h.drain(t, app.Init())

	require.Equal(t, viewRows, app.state)
	require.Equal(t, h.datasetID, app.view.Dataset.ID)
}

func TestPagingKeepsSession(t *testing.T) {
	h := newHarness(t)
	h.app.cfg.Review.PageSize = 4
	h.key(t, "enter")
	require.Len(t, h.app.view.Rows, 4)
	require.Equal(t, 2, h.app.view.Pages())

	h.key(t, "space")
	h.key(t, "a")
	session := h.app.session

	h.key(t, "n")
	require.Equal(t, 1, h.app.view.Page())
	require.Len(t, h.app.view.Rows, 2)
	require.Same(t, session, h.app.session)
	require.True(t, h.app.session.Dirty())

	h.key(t, "n")
	require.Equal(t, 1, h.app.view.Page())
	h.key(t, "p")
	require.Equal(t, 0, h.app.view.Page())
}

func TestRangeSelectSpansPages(t *testing.T) {
	h := newHarness(t)
	h.app.cfg.Review.PageSize = 4
	h.key(t, "enter")
	require.Len(t, h.app.view.Rows, 4)

	h.key(t, "down")
	h.key(t, "space")
	first := []selection.RowID{h.rowID(1), h.rowID(3)}

	h.key(t, "n")
	require.Equal(t, 1, h.app.view.Page())
	require.Equal(t, []selection.RowID{first[0]}, h.app.session.Selection(), "paging keeps the selection")
	require.Equal(t, 1, h.app.rowCursor)

	h.key(t, "X")
	want := []selection.RowID{first[0], first[1], h.rowID(0), h.rowID(1)}
	require.Equal(t, want, h.app.session.Selection())
	require.True(t, h.app.lastChange.Range)

	h.key(t, "p")
	require.Equal(t, 0, h.app.view.Page())
	require.Equal(t, want, h.app.session.Selection())
	require.Contains(t, h.app.View(), "4 selected")

	h.key(t, "f")
	require.Equal(t, modalFlag, h.app.modal)
	require.Equal(t, 4, h.app.dialog.decision.Count)
	require.Equal(t, qcflag.Bad, h.app.dialog.decision.Worst)
	h.key(t, "enter")
	require.Equal(t, modalNone, h.app.modal)
	require.Zero(t, h.app.session.Len())

	ids := make([]int64, len(want))
	for i, id := range want {
		ids[i] = int64(id)
	}
	rows, err := h.measurements.ByIDs(h.ctx, ids)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for _, m := range rows {
		require.Equal(t, qcflag.Bad, m.WoceFlag, "seq %d", m.Seq)
	}
}

func TestFilterChangeDropsSelection(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.key(t, "down")
	h.key(t, "space")
	require.Equal(t, 1, h.app.session.Len())

	h.key(t, "u")
	require.True(t, h.app.onlyPending)
	require.Zero(t, h.app.session.Len())
}

func TestKeyRegistryCaseAndSpace(t *testing.T) {
	keys := DefaultKeys()
	x := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}}
	shiftX := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'X'}}
	space := tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}

	require.True(t, keys.IsAction(shiftX, actShiftClick, scopeRows))
	require.False(t, keys.IsAction(x, actShiftClick, scopeRows))
	require.True(t, keys.IsAction(space, actClick, scopeRows))
	require.False(t, keys.IsAction(space, actClick, scopeDatasets))
	require.True(t, keys.IsAction(tea.KeyMsg{Type: tea.KeyCtrlC}, actQuit, scopeFlag))
	require.False(t, keys.IsAction(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}, actQuit, scopeFlag))

	keys.Register(KeyBinding{Keys: []string{"v"}, Action: actClick, Scopes: []string{scopeRows}})
	require.True(t, keys.IsAction(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'v'}}, actClick, scopeRows))

	help := keys.Help(scopeRows)
	require.Contains(t, help, "[X] select range")
	require.NotContains(t, help, "[ctrl+c]")
}
