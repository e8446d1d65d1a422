package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/jask/fluxqc/internal/database/repository"
)

// ErrUnsupportedFormat is returned for export paths that are neither .csv nor .xlsx.
var ErrUnsupportedFormat = errors.New("unsupported export format")

var exportHeader = []string{
	"seq", "time", "co2_ppm", "flux", "wind_speed", "sst",
	"qc_flag", "qc_message", "woce_flag", "woce_message", "woce_user", "woce_at",
}

// ExportService writes datasets with both their automatic and WOCE flags.
// The CSV output can be imported again.
type ExportService struct {
	Datasets     *repository.DatasetRepo
	Measurements *repository.MeasurementRepo
	Log          *zap.Logger
}

// ExportFile writes dataset ref to path, choosing the format by extension.
func (s *ExportService) ExportFile(ctx context.Context, ref, path string) (int, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".csv" && ext != ".xlsx" {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	ds, rows, err := s.load(ctx, ref)
	if err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	if ext == ".xlsx" {
		err = writeXLSX(f, ds.Name, rows)
	} else {
		err = writeCSV(f, rows)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	if s.Log != nil {
		s.Log.Info("dataset exported", zap.String("dataset", ds.ID), zap.String("path", path), zap.Int("rows", len(rows)))
	}
	return len(rows), nil
}

// ExportCSV writes dataset ref as CSV to w.
func (s *ExportService) ExportCSV(ctx context.Context, ref string, w io.Writer) (int, error) {
	_, rows, err := s.load(ctx, ref)
	if err != nil {
		return 0, err
	}
	return len(rows), writeCSV(w, rows)
}

// ExportXLSX writes dataset ref as a single-sheet workbook to w.
func (s *ExportService) ExportXLSX(ctx context.Context, ref string, w io.Writer) (int, error) {
	ds, rows, err := s.load(ctx, ref)
	if err != nil {
		return 0, err
	}
	return len(rows), writeXLSX(w, ds.Name, rows)
}

func (s *ExportService) load(ctx context.Context, ref string) (repository.Dataset, []repository.Measurement, error) {
	ds, err := s.Datasets.Get(ctx, ref)
	if err != nil {
		return ds, nil, err
	}
	rows, err := s.Measurements.Page(ctx, repository.MeasurementFilter{DatasetID: ds.ID}, 0, 0)
	return ds, rows, err
}

func exportRecord(m repository.Measurement) []string {
	user := ""
	if m.WoceUser != nil {
		user = *m.WoceUser
	}
	return []string{
		strconv.Itoa(m.Seq),
		formatTime(m.Time),
		formatFloat(m.CO2),
		formatFloat(m.Flux),
		formatFloat(m.WindSpeed),
		formatFloat(m.SST),
		strconv.Itoa(int(m.AutoFlag)),
		m.AutoMessage,
		strconv.Itoa(int(m.WoceFlag)),
		m.WoceMessage,
		user,
		formatTime(m.WoceAt),
	}
}

func writeCSV(w io.Writer, rows []repository.Measurement) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, m := range rows {
		if err := cw.Write(exportRecord(m)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeXLSX streams rows into one sheet. Numeric columns are written as
// numbers so spreadsheet formulas work on them.
func writeXLSX(w io.Writer, sheet string, rows []repository.Measurement) error {
	f := excelize.NewFile()
	defer f.Close()

	name := sheetName(sheet)
	if err := f.SetSheetName(f.GetSheetName(0), name); err != nil {
		return err
	}
	sw, err := f.NewStreamWriter(name)
	if err != nil {
		return err
	}
	header := make([]any, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	for i, m := range rows {
		rec := exportRecord(m)
		cells := make([]any, len(rec))
		for j, v := range rec {
			cells[j] = v
		}
		cells[0] = m.Seq
		for j, p := range []*float64{m.CO2, m.Flux, m.WindSpeed, m.SST} {
			if p != nil {
				cells[2+j] = *p
			}
		}
		cells[6] = int(m.AutoFlag)
		cells[8] = int(m.WoceFlag)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, cells); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return err
	}
	return f.Write(w)
}

// sheetName trims a dataset name to Excel's sheet-name rules.
func sheetName(s string) string {
	s = strings.TrimSuffix(s, filepath.Ext(s))
	s = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, s)
	if r := []rune(s); len(r) > 31 {
		s = string(r[:31])
	}
	if strings.TrimSpace(s) == "" {
		return "data"
	}
	return s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
