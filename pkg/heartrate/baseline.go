package heartrate

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Baseline summarizes the history a value was scored against.
type Baseline struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes a Baseline. Empty input yields the zero Baseline and a
// single value has zero deviation.
func Summarize(values []float64) Baseline {
	if len(values) == 0 {
		return Baseline{}
	}

	b := Baseline{
		Count: len(values),
		Min:   floats.Min(values),
		Max:   floats.Max(values),
	}
	if len(values) == 1 {
		b.Mean = values[0]
		return b
	}
	b.Mean, b.StdDev = stat.MeanStdDev(values, nil)
	return b
}
