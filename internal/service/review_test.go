package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jask/fluxqc/internal/database/repository"
	"github.com/jask/fluxqc/internal/qcflag"
	"github.com/jask/fluxqc/internal/review"
	"github.com/jask/fluxqc/internal/selection"
)

func importSample(t *testing.T, st testStore, ctx context.Context, name string) string {
	t.Helper()
	res, err := st.ingest().ImportReader(ctx, name, strings.NewReader(sampleCSV), ImportOptions{})
	require.NoError(t, err)
	return res.DatasetID
}

func TestLoadViewPages(t *testing.T) {
	t.Parallel()
	st, ctx := setupStore(t)
	id := importSample(t, st, ctx, "buoy.csv")
	svc := st.review()

	v, err := svc.LoadView(ctx, ViewQuery{DatasetID: "buoy.csv", Limit: 4})
	require.NoError(t, err)
	require.Equal(t, id, v.Dataset.ID)
	require.Equal(t, 6, v.Total)
	require.Equal(t, 2, v.Pages())
	require.Equal(t, 0, v.Page())
	require.Len(t, v.Rows, 4)

	states := v.States()
	require.False(t, states[2].Selectable)
	require.Equal(t, qcflag.NeedsFlag, states[1].OverrideFlag)
	require.Len(t, v.Selectable, 5, "selectable ids cover every page")
	require.Equal(t, selection.RowID(v.Rows[3].ID), v.Selectable[2])
	firstPage := v.Selectable

	v, err = svc.LoadView(ctx, ViewQuery{DatasetID: id, Offset: 40, Limit: 4})
	require.NoError(t, err)
	require.Equal(t, 4, v.Query.Offset, "offset past the end clamps to the last page")
	require.Equal(t, 1, v.Page())
	require.Len(t, v.Rows, 2)
	require.Equal(t, firstPage, v.Selectable)

	v, err = svc.LoadView(ctx, ViewQuery{DatasetID: id, WoceFlags: []qcflag.Flag{qcflag.NeedsFlag}})
	require.NoError(t, err)
	require.Equal(t, 3, v.Total)
	require.Len(t, v.Selectable, 3)

	_, err = svc.LoadView(ctx, ViewQuery{DatasetID: "nope"})
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSubmitPersistsOverride(t *testing.T) {
	t.Parallel()
	st, ctx := setupStore(t)
	id := importSample(t, st, ctx, "buoy.csv")
	svc := st.review()

	v, err := svc.LoadView(ctx, ViewQuery{DatasetID: id})
	require.NoError(t, err)
	ids := []selection.RowID{selection.RowID(v.Rows[1].ID), selection.RowID(v.Rows[2].ID), selection.RowID(v.Rows[5].ID)}

	err = svc.Submit(ctx, review.Submission{DatasetID: id, Kind: review.SubmitFlag, IDs: ids, Flag: qcflag.Bad})
	require.ErrorIs(t, err, qcflag.ErrEmptyComment)

	require.NoError(t, svc.Submit(ctx, review.Submission{DatasetID: id, Kind: review.SubmitFlag, IDs: ids, Flag: qcflag.Bad, Comment: "pump failure"}))

	rows, err := st.measurements.ByIDs(ctx, []int64{v.Rows[1].ID, v.Rows[2].ID, v.Rows[5].ID})
	require.NoError(t, err)
	require.Equal(t, qcflag.Bad, rows[0].WoceFlag)
	require.Equal(t, "pump failure", rows[0].WoceMessage)
	require.Equal(t, "kat", *rows[0].WoceUser)
	require.Equal(t, qcflag.Ignored, rows[1].WoceFlag, "gap rows are never flagged")
	require.Equal(t, qcflag.Bad, rows[2].WoceFlag)

	ds, err := st.datasets.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ds.Dirty)

	require.NoError(t, svc.MarkReviewed(ctx, id))
	ds, err = st.datasets.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, ds.Dirty)
	require.NotNil(t, ds.ReviewedAt)
}

func TestSubmitRejectsRowsOfOtherDataset(t *testing.T) {
	t.Parallel()
	st, ctx := setupStore(t)
	a := importSample(t, st, ctx, "a.csv")
	_, err := st.ingest().ImportReader(ctx, "b.csv", strings.NewReader(sampleCSV+"2026-03-01 03:00:00,410,1,1,1,2,\n"), ImportOptions{})
	require.NoError(t, err)
	svc := st.review()

	vb, err := svc.LoadView(ctx, ViewQuery{DatasetID: "b.csv"})
	require.NoError(t, err)
	err = svc.Submit(ctx, review.Submission{
		DatasetID: a,
		Kind:      review.SubmitAcceptAutomatic,
		IDs:       []selection.RowID{selection.RowID(vb.Rows[0].ID)},
	})
	require.ErrorIs(t, err, ErrWrongDataset)
}

func TestAcceptAllAutomatic(t *testing.T) {
	t.Parallel()
	st, ctx := setupStore(t)
	id := importSample(t, st, ctx, "buoy.csv")
	svc := st.review()

	v, err := svc.LoadView(ctx, ViewQuery{DatasetID: id})
	require.NoError(t, err)
	require.NoError(t, svc.Submit(ctx, review.Submission{
		DatasetID: id, Kind: review.SubmitFlag,
		IDs:  []selection.RowID{selection.RowID(v.Rows[1].ID)},
		Flag: qcflag.Good,
	}))

	n, err := svc.AcceptAllAutomatic(ctx, "buoy.csv")
	require.NoError(t, err)
	require.EqualValues(t, 4, n)

	v, err = svc.LoadView(ctx, ViewQuery{DatasetID: id})
	require.NoError(t, err)
	require.Equal(t, qcflag.Good, v.Rows[1].WoceFlag, "reviewed rows keep their decision")
	require.Equal(t, qcflag.Bad, v.Rows[4].WoceFlag)
	require.Equal(t, "SST missing", v.Rows[4].WoceMessage)
	require.Equal(t, qcflag.Good, v.Rows[0].WoceFlag)

	n, err = svc.AcceptAllAutomatic(ctx, id)
	require.NoError(t, err)
	require.Zero(t, n)
}

// The session and the store stay in step through a full click, submit,
// apply cycle.
func TestSessionWithStore(t *testing.T) {
	t.Parallel()
	st, ctx := setupStore(t)
	id := importSample(t, st, ctx, "buoy.csv")
	svc := st.review()

	v, err := svc.LoadView(ctx, ViewQuery{DatasetID: id})
	require.NoError(t, err)
	sess := review.NewSession(id, svc, nil)
	sess.Load(v.States())

	first, last := selection.RowID(v.Rows[1].ID), selection.RowID(v.Rows[5].ID)
	sess.Click(first, false)
	sess.Click(last, true)
	require.Len(t, sess.Selection(), 4, "gap row is skipped by the range")

	d := sess.Decision()
	require.Equal(t, qcflag.Bad, d.Worst)
	require.Equal(t, "CO2 spike; SST missing", d.DefaultComment)

	job, err := sess.RequestFlagSubmission(qcflag.Questionable, d.DefaultComment)
	require.NoError(t, err)
	sess.FlagsApplied(job(ctx))
	require.Zero(t, sess.Len())
	require.True(t, sess.Dirty())

	reloaded, err := svc.LoadView(ctx, ViewQuery{DatasetID: id})
	require.NoError(t, err)
	for _, r := range reloaded.States() {
		want, ok := sess.State(r.ID)
		require.True(t, ok)
		require.Equal(t, want, r)
	}

	hist, err := svc.MessageHistory(ctx)
	require.NoError(t, err)
	require.Equal(t, []repository.MessageUse{{Message: "CO2 spike; SST missing", Count: 4}}, hist)
}
