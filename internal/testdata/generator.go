// Package testdata produces synthetic flux datasets for demos and tests.
package testdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/jask/fluxqc/internal/qcflag"
)

// Options shape a generated series.
type Options struct {
	Rows     int
	Start    time.Time
	Interval time.Duration
	// GapEvery inserts a blank-time gap row after every n measurements; 0 disables.
	GapEvery int
	Seed     uint64
}

func (o Options) withDefaults() Options {
	if o.Rows <= 0 {
		o.Rows = 500
	}
	if o.Start.IsZero() {
		o.Start = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	}
	if o.Interval <= 0 {
		o.Interval = 30 * time.Minute
	}
	return o
}

// WriteCSV writes a flux series with the import column layout, including the
// automatic QC verdict an instrument pipeline would have produced.
func WriteCSV(ctx context.Context, w io.Writer, opts Options) (int, error) {
	opts = opts.withDefaults()
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "co2_ppm", "flux", "wind_speed", "sst", "qc_flag", "qc_message"}); err != nil {
		return 0, err
	}
	written := 0
	for i := 0; i < opts.Rows; i++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		ts := opts.Start.Add(time.Duration(i) * opts.Interval)
		hour := float64(ts.Hour()) + float64(ts.Minute())/60
		diurnal := math.Sin(2 * math.Pi * (hour - 6) / 24)

		co2 := 412 - 6*diurnal + rng.NormFloat64()*0.8
		flux := -1.5*diurnal + rng.NormFloat64()*0.3
		wind := math.Abs(6 + rng.NormFloat64()*3)
		sst := 12.5 + 0.4*diurnal + rng.NormFloat64()*0.05
		sstCell := fmtFloat(sst, 2)

		flag, msg := qcflag.Good, ""
		switch r := rng.Float64(); {
		case r < 0.02:
			co2 += 35 + rng.Float64()*20
			flux *= 4
			flag, msg = qcflag.Questionable, "CO2 spike"
		case r < 0.03:
			sstCell = ""
			flag, msg = qcflag.Bad, "SST missing"
		case wind > 14:
			flag, msg = qcflag.Questionable, "High wind"
		}

		rec := []string{
			ts.Format(time.RFC3339),
			fmtFloat(co2, 2),
			fmtFloat(flux, 3),
			fmtFloat(wind, 1),
			sstCell,
			strconv.Itoa(int(flag)),
			msg,
		}
		if err := cw.Write(rec); err != nil {
			return written, err
		}
		written++
		if opts.GapEvery > 0 && written%opts.GapEvery == 0 && i < opts.Rows-1 {
			if err := cw.Write(make([]string, len(rec))); err != nil {
				return written, err
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return written, fmt.Errorf("write csv: %w", err)
	}
	return written, nil
}

func fmtFloat(f float64, prec int) string {
	return strconv.FormatFloat(f, 'f', prec, 64)
}
