package repository

import (
	"errors"
	"time"

	"github.com/jask/fluxqc/internal/qcflag"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned by Create when the dataset id is taken.
	ErrExists = errors.New("already exists")
	// ErrDuplicateSource is returned by Create when identical content was
	// imported before, under any id.
	ErrDuplicateSource = errors.New("source already imported")
)

// Dataset represents one imported instrument file.
type Dataset struct {
	ID         string
	Name       string
	Instrument string
	SourceHash string
	ImportedAt time.Time
	ReviewedAt *time.Time
	Dirty      bool
}

// DatasetSummary is a dataset row plus flag counts for the dataset list.
type DatasetSummary struct {
	Dataset
	Rows         int
	Selectable   int
	NeedsFlag    int
	Questionable int
	Bad          int
}

// Measurement represents one time-series row. Gap rows have no Time and are
// not selectable.
type Measurement struct {
	ID          int64
	DatasetID   string
	Seq         int
	Time        *time.Time
	CO2         *float64
	Flux        *float64
	WindSpeed   *float64
	SST         *float64
	Selectable  bool
	AutoFlag    qcflag.Flag
	AutoMessage string
	WoceFlag    qcflag.Flag
	WoceMessage string
	WoceUser    *string
	WoceAt      *time.Time
}

// FlagDefinition is one entry of the flag catalogue.
type FlagDefinition struct {
	Code       qcflag.Flag
	Name       string
	Short      string
	Severity   int
	Assignable bool
}

// MessageUse counts how often a reviewer message has been used.
type MessageUse struct {
	Message string
	Count   int
}
