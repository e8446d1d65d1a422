package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jask/fluxqc/internal/database/repository"
	"github.com/jask/fluxqc/internal/qcflag"
)

var (
	// ErrDatasetConflict is returned when a file name was already imported
	// with different content.
	ErrDatasetConflict = errors.New("dataset already imported with different content")
	// ErrNoRows is returned when a file holds no parseable rows.
	ErrNoRows = errors.New("no rows")
	// ErrNoFiles is returned when no pattern matched a file.
	ErrNoFiles = errors.New("no files matched")
)

// IngestService imports instrument CSV and XLSX exports into the store.
type IngestService struct {
	Datasets *repository.DatasetRepo
	Log      *zap.Logger
	// Concurrency bounds how many files are parsed at once; <= 0 means 4.
	Concurrency int
}

// ImportOptions tune how a file is read.
type ImportOptions struct {
	Instrument string
	// Location used for timestamps without an offset; nil means UTC.
	Location *time.Location
}

// IngestResult summarises one imported file.
type IngestResult struct {
	Path        string
	DatasetID   string
	Name        string
	Compression Compression
	Imported    int
	Gaps        int
	Duplicate   bool
	Errors      []error
}

// Failed reports whether the file could not be imported at all.
func (r IngestResult) Failed() bool {
	return r.DatasetID == "" && len(r.Errors) > 0
}

var columns = []string{"time", "co2_ppm", "flux", "wind_speed", "sst", "qc_flag", "qc_message"}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

func (s *IngestService) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// ImportGlob expands each pattern (doublestar syntax, so "data/**/*.csv.gz"
// works) and imports every match. A per-file failure is reported in that
// file's result; the returned error is reserved for pattern and context
// failures.
func (s *IngestService) ImportGlob(ctx context.Context, patterns []string, opts ImportOptions) ([]IngestResult, error) {
	var paths []string
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", p, err)
		}
		paths = append(paths, matches...)
	}
	slices.Sort(paths)
	paths = slices.Compact(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFiles, strings.Join(patterns, " "))
	}
	return s.ImportFiles(ctx, paths, opts)
}

// ImportFiles imports paths concurrently. Results are returned in input order.
func (s *IngestService) ImportFiles(ctx context.Context, paths []string, opts ImportOptions) ([]IngestResult, error) {
	limit := s.Concurrency
	if limit <= 0 {
		limit = 4
	}
	results := make([]IngestResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := s.ImportFile(gctx, path, opts)
			if err != nil {
				res.Errors = append(res.Errors, err)
				s.log().Warn("import failed", zap.String("path", path), zap.Error(err))
			}
			res.Path = path
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// ImportFile opens and imports a single file.
func (s *IngestService) ImportFile(ctx context.Context, path string, opts ImportOptions) (IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return IngestResult{Path: path}, err
	}
	defer f.Close()
	res, err := s.ImportReader(ctx, datasetName(path), f, opts)
	res.Path = path
	return res, err
}

// ImportReader imports one dataset from r, a CSV or XLSX file that may be
// compressed. Identical content is detected by hash and skipped. Row-level
// problems are collected in the result and do not abort the import.
func (s *IngestService) ImportReader(ctx context.Context, name string, r io.Reader, opts ImportOptions) (IngestResult, error) {
	res := IngestResult{Name: name}
	data, kind, err := Decompress(r)
	res.Compression = kind
	if err != nil {
		return res, err
	}

	hash := hashSource(data)
	if existing, ok, err := s.Datasets.FindByHash(ctx, hash); err != nil {
		return res, err
	} else if ok {
		res.DatasetID = existing.ID
		res.Duplicate = true
		s.log().Info("import skipped, content already present", zap.String("name", name), zap.String("dataset", existing.ID))
		return res, nil
	}

	id := datasetID(name)
	if _, err := s.Datasets.Get(ctx, id); err == nil {
		return res, fmt.Errorf("%s: %w", name, ErrDatasetConflict)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return res, err
	}

	next, err := openRecords(data)
	if err != nil {
		return res, err
	}
	rows, rowErrs := parseMeasurements(next, id, opts.Location)
	res.Errors = rowErrs
	if len(rows) == 0 {
		return res, fmt.Errorf("%s: %w", name, ErrNoRows)
	}

	// the checks above only save parsing; Create repeats them atomically
	ds := repository.Dataset{ID: id, Name: name, Instrument: strings.TrimSpace(opts.Instrument), SourceHash: hash}
	existing, err := s.Datasets.Create(ctx, ds, rows)
	switch {
	case errors.Is(err, repository.ErrDuplicateSource):
		res.DatasetID = existing.ID
		res.Duplicate = true
		s.log().Info("import skipped, content already present", zap.String("name", name), zap.String("dataset", existing.ID))
		return res, nil
	case errors.Is(err, repository.ErrExists):
		return res, fmt.Errorf("%s: %w", name, ErrDatasetConflict)
	case err != nil:
		return res, err
	}
	res.DatasetID = id
	for _, m := range rows {
		if m.Selectable {
			res.Imported++
		} else {
			res.Gaps++
		}
	}
	s.log().Info("dataset imported",
		zap.String("name", name),
		zap.String("dataset", id),
		zap.Stringer("compression", kind),
		zap.Int("rows", res.Imported),
		zap.Int("gaps", res.Gaps),
		zap.Int("errors", len(res.Errors)),
	)
	return res, nil
}

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// recordReader yields one row of fields per call and io.EOF at the end.
type recordReader func() ([]string, error)

// openRecords reads data as an XLSX workbook (first sheet) when it carries
// the zip signature, and as CSV otherwise.
func openRecords(data []byte) (recordReader, error) {
	if bytes.HasPrefix(data, zipMagic) {
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("open xlsx: %w", err)
		}
		defer f.Close()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("no sheets found in xlsx data")
		}
		rows, err := f.GetRows(sheets[0])
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
		}
		i := 0
		return func() ([]string, error) {
			if i >= len(rows) {
				return nil, io.EOF
			}
			i++
			return rows[i-1], nil
		}, nil
	}

	csvr := csv.NewReader(bytes.NewReader(data))
	csvr.TrimLeadingSpace = true
	csvr.FieldsPerRecord = -1
	csvr.Comment = '#'
	return csvr.Read, nil
}

// parseMeasurements reads the rows of a file. A header row is optional; when
// present as the first non-blank record its column names decide the order.
func parseMeasurements(next recordReader, datasetID string, loc *time.Location) ([]repository.Measurement, []error) {
	if loc == nil {
		loc = time.UTC
	}

	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	field := func(rec []string, name string) string {
		i, ok := pos[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var (
		out     []repository.Measurement
		errs    []error
		seq     int
		started bool
	)
	line := 0
	for {
		line++
		rec, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", line, err))
			continue
		}
		if len(rec) == 0 {
			continue
		}
		if !started {
			// blank lines ahead of the first record carry no gap
			if blankRecord(rec) {
				continue
			}
			started = true
			if isHeader(rec) {
				pos = make(map[string]int, len(rec))
				for i, h := range rec {
					pos[strings.ToLower(strings.TrimSpace(h))] = i
				}
				continue
			}
		}

		m := repository.Measurement{DatasetID: datasetID, Seq: seq}
		if field(rec, "time") == "" {
			m.AutoFlag, m.WoceFlag = qcflag.Ignored, qcflag.Ignored
			out = append(out, m)
			seq++
			continue
		}
		ts, err := parseTimestamp(field(rec, "time"), loc)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d time: %w", line, err))
			continue
		}
		m.Time = &ts

		var bad bool
		for _, nf := range []struct {
			name string
			dst  **float64
		}{
			{"co2_ppm", &m.CO2},
			{"flux", &m.Flux},
			{"wind_speed", &m.WindSpeed},
			{"sst", &m.SST},
		} {
			v, err := parseOptionalFloat(field(rec, nf.name))
			if err != nil {
				errs = append(errs, fmt.Errorf("line %d %s: %w", line, nf.name, err))
				bad = true
				break
			}
			*nf.dst = v
		}
		if bad {
			continue
		}

		m.AutoFlag = qcflag.Good
		if raw := field(rec, "qc_flag"); raw != "" {
			f, err := qcflag.Parse(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("line %d qc_flag: %w", line, err))
				continue
			}
			m.AutoFlag = f
		}
		m.AutoMessage = field(rec, "qc_message")
		m.Selectable = m.AutoFlag != qcflag.Ignored
		m.WoceFlag = initialOverride(m.AutoFlag)
		out = append(out, m)
		seq++
	}
	return out, errs
}

func blankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func isHeader(rec []string) bool {
	for _, h := range rec {
		if strings.EqualFold(strings.TrimSpace(h), "time") {
			return true
		}
	}
	return false
}

// initialOverride is the WOCE flag a row starts with before review.
func initialOverride(auto qcflag.Flag) qcflag.Flag {
	switch {
	case auto == qcflag.Ignored:
		return qcflag.Ignored
	case auto.IsGood():
		return qcflag.AssumedGood
	default:
		return qcflag.NeedsFlag
	}
}

func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func parseOptionalFloat(s string) (*float64, error) {
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func hashSource(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum[:])
}

// datasetName is the file's base name without compression suffixes.
func datasetName(path string) string {
	name := filepath.Base(path)
	for _, ext := range []string{".gz", ".zst", ".xz"} {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

func datasetID(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("dataset:"+key)).String()
}
