package models

import "time"

// Series is a day-granular value series over a contiguous calendar.
// Contract price series and calendar spreads share this shape.
// A nil *Series means no data exists for it at all.
type Series struct {
	Label  string      `json:"label"`
	Dates  []time.Time `json:"dates"`
	Values []NullFloat `json:"values"`
}

// Len returns the number of calendar days in the series.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Dates)
}

// ValidCount returns the number of defined values.
func (s *Series) ValidCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, v := range s.Values {
		if v.Valid {
			n++
		}
	}
	return n
}

// Valid returns the defined values in date order.
func (s *Series) Valid() []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, 0, len(s.Values))
	for _, v := range s.Values {
		if v.Valid {
			out = append(out, v.Float64)
		}
	}
	return out
}

// At returns the value on the given day, or an undefined value if the day is outside the series.
func (s *Series) At(day time.Time) NullFloat {
	if s == nil {
		return None()
	}
	day = Day(day)
	for i, d := range s.Dates {
		if d.Equal(day) {
			return s.Values[i]
		}
	}
	return None()
}
