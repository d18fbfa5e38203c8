package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRange is returned when an analysis range starts after it ends.
	ErrInvalidRange = errors.New("invalid date range")
	// ErrInvalidWindow is returned for a rolling window length below 1.
	ErrInvalidWindow = errors.New("invalid rolling window")
)

// DateLayout is the day format used in configuration and reports.
const DateLayout = "2006-01-02"

// AnalysisWindow is the fixed per-run configuration handed to every analysis step.
type AnalysisWindow struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Windows []int     `json:"windows"`
}

// NewAnalysisWindow builds a validated window with day-truncated bounds.
// The windows slice is copied.
func NewAnalysisWindow(start, end time.Time, windows []int) (AnalysisWindow, error) {
	w := AnalysisWindow{
		Start:   Day(start),
		End:     Day(end),
		Windows: append([]int(nil), windows...),
	}
	if err := w.Validate(); err != nil {
		return AnalysisWindow{}, err
	}
	return w, nil
}

// Validate checks the date range and every rolling window length.
func (w AnalysisWindow) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: start and end must be set", ErrInvalidRange)
	}
	if Day(w.Start).After(Day(w.End)) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange,
			w.Start.Format(DateLayout), w.End.Format(DateLayout))
	}
	return ValidateWindows(w.Windows)
}

// Days returns the number of calendar days in the inclusive range.
func (w AnalysisWindow) Days() int {
	return int(Day(w.End).Sub(Day(w.Start)).Hours()/24) + 1
}

// ValidateWindows rejects non-positive and duplicate window lengths.
func ValidateWindows(windows []int) error {
	seen := make(map[int]bool, len(windows))
	for _, n := range windows {
		if n <= 0 {
			return fmt.Errorf("%w: length %d must be at least 1", ErrInvalidWindow, n)
		}
		if seen[n] {
			return fmt.Errorf("%w: length %d listed twice", ErrInvalidWindow, n)
		}
		seen[n] = true
	}
	return nil
}
