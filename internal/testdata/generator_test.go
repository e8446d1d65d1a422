package testdata

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jask/fluxqc/internal/qcflag"
)

func TestWriteCSVDeterministic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	opts := Options{Rows: 300, GapEvery: 50, Seed: 7}

	var a, b bytes.Buffer
	n, err := WriteCSV(ctx, &a, opts)
	require.NoError(t, err)
	require.Equal(t, 300, n)
	_, err = WriteCSV(ctx, &b, opts)
	require.NoError(t, err)
	require.Equal(t, a.String(), b.String())

	recs, err := csv.NewReader(&a).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 1+300+5)

	gaps, flagged := 0, 0
	for _, rec := range recs[1:] {
		if rec[0] == "" {
			gaps++
			continue
		}
		f, err := qcflag.Parse(rec[5])
		require.NoError(t, err)
		if !f.IsGood() {
			flagged++
			require.NotEmpty(t, rec[6])
		}
	}
	require.Equal(t, 5, gaps)
	require.Positive(t, flagged)
}

func TestWriteCSVHonoursContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WriteCSV(ctx, &bytes.Buffer{}, Options{Rows: 10})
	require.ErrorIs(t, err, context.Canceled)
}
