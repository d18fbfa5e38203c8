// Package series builds day-granular price series from irregular contract observations
// and derives calendar spreads from them.
//
// Every series produced here spans the full inclusive calendar [start, end], one entry
// per day including weekends and holidays. Gaps are forward-filled with the last known
// close; days before the first observation stay undefined.
package series

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rewired-gh/calspread/internal/models"
)

// ErrCalendarMismatch is returned when two series do not share the same calendar.
var ErrCalendarMismatch = errors.New("series calendars differ")

// Calendar returns every day in [start, end] at UTC midnight, in order.
func Calendar(start, end time.Time) ([]time.Time, error) {
	start, end = models.Day(start), models.Day(end)
	if start.After(end) {
		return nil, fmt.Errorf("%w: start %s is after end %s", models.ErrInvalidRange,
			start.Format(models.DateLayout), end.Format(models.DateLayout))
	}
	days := make([]time.Time, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}

// Align reindexes one contract's observations onto the calendar [start, end].
//
// Each day takes the close of the most recent observation on or before it. An
// observation before start therefore seeds the first days; observations after end
// are ignored. When several observations share a day the last one in input order
// wins. Returns nil when there are no observations at all.
func Align(label string, obs []models.Observation, start, end time.Time) (*models.Series, error) {
	dates, err := Calendar(start, end)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, nil
	}

	sorted := make([]models.Observation, len(obs))
	copy(sorted, obs)
	for i := range sorted {
		sorted[i].Date = models.Day(sorted[i].Date)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	values := make([]models.NullFloat, len(dates))
	last := models.None()
	j := 0
	for i, d := range dates {
		for j < len(sorted) && !sorted[j].Date.After(d) {
			last = models.Some(sorted[j].Close)
			j++
		}
		values[i] = last
	}

	return &models.Series{Label: label, Dates: dates, Values: values}, nil
}

// BuildSpread returns second minus front for every day of their shared calendar.
// A day missing on either side is missing in the result. If either input is nil
// there is no spread and nil is returned.
func BuildSpread(label string, second, front *models.Series) (*models.Series, error) {
	if second == nil || front == nil {
		return nil, nil
	}
	if err := sameCalendar(second, front); err != nil {
		return nil, err
	}

	dates := make([]time.Time, len(front.Dates))
	copy(dates, front.Dates)
	values := make([]models.NullFloat, len(dates))
	for i := range dates {
		s, f := second.Values[i], front.Values[i]
		if s.Valid && f.Valid {
			values[i] = models.Some(s.Float64 - f.Float64)
		}
	}

	return &models.Series{Label: label, Dates: dates, Values: values}, nil
}

func sameCalendar(a, b *models.Series) error {
	if len(a.Dates) != len(b.Dates) || len(a.Values) != len(a.Dates) || len(b.Values) != len(b.Dates) {
		return fmt.Errorf("%w: %d vs %d days", ErrCalendarMismatch, len(a.Dates), len(b.Dates))
	}
	if len(a.Dates) > 0 && (!a.Dates[0].Equal(b.Dates[0]) || !a.Dates[len(a.Dates)-1].Equal(b.Dates[len(b.Dates)-1])) {
		return fmt.Errorf("%w: ranges %s..%s and %s..%s", ErrCalendarMismatch,
			a.Dates[0].Format(models.DateLayout), a.Dates[len(a.Dates)-1].Format(models.DateLayout),
			b.Dates[0].Format(models.DateLayout), b.Dates[len(b.Dates)-1].Format(models.DateLayout))
	}
	return nil
}
