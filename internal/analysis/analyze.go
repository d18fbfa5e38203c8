package analysis

import (
	"time"

	"github.com/rewired-gh/calspread/internal/models"
)

// Analyze computes the basic statistics of a spread and one deviation set per window.
// A nil or all-missing spread produces a result whose statistics are all undefined,
// still carrying one empty deviation set per window. The only error is an invalid window.
func Analyze(label string, spread *models.Series, windows []int) (models.AnalysisResult, error) {
	if err := models.ValidateWindows(windows); err != nil {
		return models.AnalysisResult{}, err
	}

	result := models.AnalysisResult{
		Label:      label,
		Spread:     spread,
		Stats:      Describe(spread.Valid()),
		Deviations: make([]models.DeviationSet, 0, len(windows)),
	}

	for _, n := range windows {
		set := models.DeviationSet{Window: n}
		if spread != nil {
			dev, err := RollingDeviation(spread.Values, n)
			if err != nil {
				return models.AnalysisResult{}, err
			}
			set.Values = dev
		}

		summary := Describe(defined(set.Values))
		set.Median = summary.Median
		set.Std = summary.Std
		set.Quantiles = summary.Quantiles
		result.Deviations = append(result.Deviations, set)
	}

	return result, nil
}

// CrossAnalyze correlates two spreads and their same-window deviation series.
// Values are paired by date, so only days defined on both sides count. If either
// spread is nil the correlation is undefined and no window entries are produced.
func CrossAnalyze(a, b *models.Series, windows []int) (models.CrossResult, error) {
	if err := models.ValidateWindows(windows); err != nil {
		return models.CrossResult{}, err
	}

	result := models.CrossResult{}
	if a != nil {
		result.Left = a.Label
	}
	if b != nil {
		result.Right = b.Label
	}
	if a == nil || b == nil {
		return result, nil
	}

	x, y := pairByDate(a.Dates, a.Values, b.Dates, b.Values)
	result.Correlation = Correlation(x, y)
	result.Pairs = len(x)

	result.Deviations = make([]models.WindowCorrelation, 0, len(windows))
	for _, n := range windows {
		da, err := RollingDeviation(a.Values, n)
		if err != nil {
			return models.CrossResult{}, err
		}
		db, err := RollingDeviation(b.Values, n)
		if err != nil {
			return models.CrossResult{}, err
		}

		x, y := pairByDate(a.Dates, da, b.Dates, db)
		result.Deviations = append(result.Deviations, models.WindowCorrelation{
			Window:      n,
			Correlation: Correlation(x, y),
			Pairs:       len(x),
		})
	}

	return result, nil
}

// pairByDate returns the values defined on both sides for each shared day, in the
// date order of the left series.
func pairByDate(leftDates []time.Time, left []models.NullFloat, rightDates []time.Time, right []models.NullFloat) ([]float64, []float64) {
	index := make(map[time.Time]int, len(rightDates))
	for i, d := range rightDates {
		index[models.Day(d)] = i
	}

	var x, y []float64
	for i, d := range leftDates {
		j, ok := index[models.Day(d)]
		if !ok || i >= len(left) || j >= len(right) {
			continue
		}
		if left[i].Valid && right[j].Valid {
			x = append(x, left[i].Float64)
			y = append(y, right[j].Float64)
		}
	}
	return x, y
}
