package analysis

import (
	"fmt"

	"github.com/rewired-gh/calspread/internal/models"
)

// RollingMean returns the trailing mean over at most n of the most recent defined
// values, at or before each index. A single defined value is enough, so early
// indices use a partial window. Indices before the first defined value are undefined.
func RollingMean(values []models.NullFloat, n int) ([]models.NullFloat, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: length %d must be at least 1", models.ErrInvalidWindow, n)
	}

	out := make([]models.NullFloat, len(values))
	recent := make([]float64, 0, n)
	for i, v := range values {
		if v.Valid {
			if len(recent) == n {
				recent = recent[1:]
			}
			recent = append(recent, v.Float64)
		}
		out[i] = Mean(recent)
	}
	return out, nil
}

// RollingDeviation returns values minus their n-window RollingMean.
// An undefined input value yields an undefined deviation.
func RollingDeviation(values []models.NullFloat, n int) ([]models.NullFloat, error) {
	means, err := RollingMean(values, n)
	if err != nil {
		return nil, err
	}

	out := make([]models.NullFloat, len(values))
	for i, v := range values {
		if v.Valid && means[i].Valid {
			out[i] = models.Some(v.Float64 - means[i].Float64)
		}
	}
	return out, nil
}
