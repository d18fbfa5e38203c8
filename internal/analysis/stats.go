// Package analysis characterizes calendar spreads with descriptive statistics,
// rolling-mean deviations and pairwise correlation.
//
// All statistics ignore undefined values and return undefined (never zero or NaN)
// when there is not enough data:
//
//	mean, min, max, quantiles   need 1 value
//	std (sample, n-1)           needs 2 values
//	Pearson correlation         needs 2 jointly defined pairs and non-zero variance on both sides
//
// Quantiles use linear interpolation between order statistics:
//
//	pos = q × (n-1),  Q(q) = x[⌊pos⌋] + (x[⌊pos⌋+1] - x[⌊pos⌋]) × (pos - ⌊pos⌋)
//
// Every function in this package is pure.
package analysis

import (
	"math"
	"sort"

	"github.com/rewired-gh/calspread/internal/models"
)

// Mean returns the arithmetic mean.
func Mean(values []float64) models.NullFloat {
	if len(values) == 0 {
		return models.None()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return models.Some(sum / float64(len(values)))
}

// StdDev returns the sample standard deviation (Bessel correction, divide by n-1).
func StdDev(values []float64) models.NullFloat {
	if len(values) < 2 {
		return models.None()
	}
	mean, _ := Mean(values).Get()
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return models.Some(math.Sqrt(ss / float64(len(values)-1)))
}

// Quantile returns the q-th quantile of values, 0 <= q <= 1.
func Quantile(values []float64, q float64) models.NullFloat {
	if len(values) == 0 || q < 0 || q > 1 {
		return models.None()
	}
	return models.Some(quantileSorted(sortedCopy(values), q))
}

// Quantiles returns the standard quantile set, in ascending level order.
func Quantiles(values []float64) []models.Quantile {
	sorted := sortedCopy(values)
	out := make([]models.Quantile, len(models.QuantileLevels))
	for i, q := range models.QuantileLevels {
		out[i] = models.Quantile{Level: q}
		if len(sorted) > 0 {
			out[i].Value = models.Some(quantileSorted(sorted, q))
		}
	}
	return out
}

// Describe computes the full summary for a set of defined values.
func Describe(values []float64) models.Summary {
	s := models.Summary{
		Count:     len(values),
		Quantiles: Quantiles(values),
	}
	if len(values) == 0 {
		return s
	}

	sorted := sortedCopy(values)
	s.Mean = Mean(values)
	s.Median = models.Some(quantileSorted(sorted, 0.5))
	s.Std = StdDev(values)
	s.Min = models.Some(sorted[0])
	s.Max = models.Some(sorted[len(sorted)-1])
	return s
}

// Correlation returns the Pearson correlation of two equal-length samples.
// r = Σ[(xi - x̄)(yi - ȳ)] / sqrt[Σ(xi - x̄)² × Σ(yi - ȳ)²]
func Correlation(x, y []float64) models.NullFloat {
	if len(x) != len(y) || len(x) < 2 {
		return models.None()
	}

	meanX, _ := Mean(x).Get()
	meanY, _ := Mean(y).Get()

	var num, varX, varY float64
	for i := range x {
		dx := x[i] - meanX
		dy := y[i] - meanY
		num += dx * dy
		varX += dx * dx
		varY += dy * dy
	}

	if varX == 0 || varY == 0 {
		return models.None()
	}
	r := num / math.Sqrt(varX*varY)
	return models.Some(math.Max(-1, math.Min(1, r)))
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

func quantileSorted(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func defined(values []models.NullFloat) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v.Valid {
			out = append(out, v.Float64)
		}
	}
	return out
}
