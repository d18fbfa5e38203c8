package models

import "time"

// QuantileLevels are the quantile levels reported for every distribution.
var QuantileLevels = []float64{0.01, 0.05, 0.25, 0.5, 0.75, 0.95, 0.99}

// Quantile is one quantile level and its value.
type Quantile struct {
	Level float64   `json:"level"`
	Value NullFloat `json:"value"`
}

// Summary holds descriptive statistics over the defined values of a series.
// Std is the sample standard deviation (n-1 denominator).
type Summary struct {
	Count     int        `json:"count"`
	Mean      NullFloat  `json:"mean"`
	Median    NullFloat  `json:"median"`
	Std       NullFloat  `json:"std"`
	Min       NullFloat  `json:"min"`
	Max       NullFloat  `json:"max"`
	Quantiles []Quantile `json:"quantiles"`
}

// DeviationSet is the spread minus its N-day trailing mean, with summary statistics.
type DeviationSet struct {
	Window    int         `json:"window"`
	Values    []NullFloat `json:"values"`
	Median    NullFloat   `json:"median"`
	Std       NullFloat   `json:"std"`
	Quantiles []Quantile  `json:"quantiles"`
}

// AnalysisResult is the full characterization of one calendar spread.
// Spread is nil when the instrument had no usable contracts.
type AnalysisResult struct {
	Label          string         `json:"label"`
	Instrument     Instrument     `json:"instrument,omitempty"`
	FrontContract  string         `json:"front_contract,omitempty"`
	SecondContract string         `json:"second_contract,omitempty"`
	Spread         *Series        `json:"spread"`
	Stats          Summary        `json:"stats"`
	Deviations     []DeviationSet `json:"deviations"`
}

// Deviation returns the deviation set for window n, if present.
func (r *AnalysisResult) Deviation(n int) (DeviationSet, bool) {
	for _, d := range r.Deviations {
		if d.Window == n {
			return d, true
		}
	}
	return DeviationSet{}, false
}

// WindowCorrelation is the correlation of two same-horizon deviation series.
type WindowCorrelation struct {
	Window      int       `json:"window"`
	Correlation NullFloat `json:"correlation"`
	Pairs       int       `json:"pairs"`
}

// CrossResult holds the co-movement of two spreads.
type CrossResult struct {
	Left        string              `json:"left"`
	Right       string              `json:"right"`
	Correlation NullFloat           `json:"correlation"`
	Pairs       int                 `json:"pairs"`
	Deviations  []WindowCorrelation `json:"deviations"`
}

// SourceFailure records an upstream failure that was treated as missing data.
type SourceFailure struct {
	Instrument Instrument `json:"instrument"`
	Error      string     `json:"error"`
}

// Run is the output of one orchestrated analysis.
type Run struct {
	ID         string           `json:"id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Window     AnalysisWindow   `json:"window"`
	Results    []AnalysisResult `json:"results"`
	Cross      []CrossResult    `json:"cross"`
	Failures   []SourceFailure  `json:"failures,omitempty"`
}

// Result returns the analysis for an instrument, if present.
func (r *Run) Result(inst Instrument) (*AnalysisResult, bool) {
	for i := range r.Results {
		if r.Results[i].Instrument == inst {
			return &r.Results[i], true
		}
	}
	return nil, false
}
