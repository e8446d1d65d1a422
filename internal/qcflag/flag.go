package qcflag

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidFlag is returned for codes outside the recognised set.
	ErrInvalidFlag = errors.New("invalid flag")
	// ErrEmptyComment is returned when a flag decision needs a comment and none was given.
	ErrEmptyComment = errors.New("comment required")
)

// Flag is a WOCE-style quality flag. The numeric values are the ones stored
// in the database and exported files.
type Flag int

const (
	Good         Flag = 2
	AssumedGood  Flag = -2
	Questionable Flag = 3
	Bad          Flag = 4
	Fatal        Flag = 44
	// NeedsFlag marks rows whose automatic QC result still awaits a reviewer.
	NeedsFlag Flag = -10
	// Ignored rows take no part in severity comparisons.
	Ignored Flag = -1002
)

var all = []Flag{Good, AssumedGood, Questionable, Bad, Fatal, NeedsFlag, Ignored}

// All returns every recognised flag in display order.
func All() []Flag {
	out := make([]Flag, len(all))
	copy(out, all)
	return out
}

// Assignable returns the flags a reviewer may choose in the decision dialog.
func Assignable() []Flag {
	return []Flag{Good, Questionable, Bad}
}

func (f Flag) Valid() bool {
	for _, v := range all {
		if v == f {
			return true
		}
	}
	return false
}

// IsGood reports whether f counts as good for severity purposes.
func (f Flag) IsGood() bool {
	return f == Good || f == AssumedGood
}

func (f Flag) String() string {
	switch f {
	case Good:
		return "Good"
	case AssumedGood:
		return "Assumed Good"
	case Questionable:
		return "Questionable"
	case Bad:
		return "Bad"
	case Fatal:
		return "Fatal"
	case NeedsFlag:
		return "Needs Flag"
	case Ignored:
		return "Ignored"
	default:
		return fmt.Sprintf("Flag(%d)", int(f))
	}
}

// Short is a fixed-width label for table cells.
func (f Flag) Short() string {
	switch f {
	case Good, AssumedGood:
		return "G"
	case Questionable:
		return "Q"
	case Bad, Fatal:
		return "B"
	case NeedsFlag:
		return "?"
	case Ignored:
		return "-"
	default:
		return "!"
	}
}

// Parse converts a stored or user-entered code ("3", " 44 ", "bad") into a Flag.
func Parse(s string) (Flag, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return FromCode(n)
	}
	for _, f := range all {
		if strings.EqualFold(f.String(), s) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidFlag, s)
}

// FromCode validates a numeric code.
func FromCode(n int) (Flag, error) {
	f := Flag(n)
	if !f.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidFlag, n)
	}
	return f, nil
}

// severity ranks flags for worst-flag reduction. Bad and Fatal share a rank,
// as do Good and AssumedGood. Ignored has no rank.
func severity(f Flag) int {
	switch f {
	case Bad, Fatal:
		return 3
	case Questionable:
		return 2
	case NeedsFlag:
		return 1
	case Good, AssumedGood:
		return 0
	default:
		return -1
	}
}

// Severity is the flag's rank in worst-flag reduction, or -1 for Ignored.
func (f Flag) Severity() int { return severity(f) }

// MoreSevere reports whether f is strictly worse than other. Ignored is never
// more severe than anything, and nothing is more severe than Ignored.
func (f Flag) MoreSevere(other Flag) bool {
	if f == Ignored || other == Ignored {
		return false
	}
	return severity(f) > severity(other)
}

// Worst reduces flags to the most severe one. If every flag is Ignored the
// result is Ignored; otherwise Ignored entries are skipped. An empty input
// yields Good.
func Worst(flags []Flag) Flag {
	if len(flags) == 0 {
		return Good
	}
	worst := Ignored
	for _, f := range flags {
		if f == Ignored {
			continue
		}
		if worst == Ignored || f.MoreSevere(worst) {
			worst = f
		}
	}
	return worst
}

// ValidateDecision checks a reviewer decision before any row is touched.
// A comment is mandatory for every flag except Good, and for Good too when
// requireForGood is set.
func ValidateDecision(f Flag, comment string, requireForGood bool) error {
	if !f.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidFlag, int(f))
	}
	if strings.TrimSpace(comment) != "" {
		return nil
	}
	if f == Good && !requireForGood {
		return nil
	}
	return fmt.Errorf("%w for %s", ErrEmptyComment, f)
}
