// Package detectors provides unsupervised anomaly detection for scalar time series.
package detectors

import (
	"context"
	"fmt"
)

// Default detector settings. They are the usual isolation forest values and can be tuned.
const (
	DefaultTrees      = 100
	DefaultSampleSize = 256
	DefaultThreshold  = 0.6
)

// Detector is the common interface for anomaly detection algorithms.
type Detector interface {
	// Score rates value against history.
	// history is expected in chronological order and is never modified.
	// Callers should supply at least two historical points for a meaningful score.
	Score(ctx context.Context, history []float64, value float64) (Verdict, error)
}

// Verdict represents an anomaly detection result.
type Verdict struct {
	// Score is the normalized anomaly score in [0, 1]. Values near 1 are anomalous.
	Score float64 `json:"score"`
	// IsAnomaly indicates if the score exceeds the threshold.
	IsAnomaly bool `json:"is_anomaly"`
	// Threshold is the cutoff the score was compared to.
	Threshold float64 `json:"threshold"`
}

// NewVerdict thresholds score. Only scores strictly above threshold are anomalies.
func NewVerdict(score, threshold float64) Verdict {
	return Verdict{
		Score:     score,
		IsAnomaly: score > threshold,
		Threshold: threshold,
	}
}

// Config holds common configuration for detectors.
type Config struct {
	// Trees is the ensemble size.
	Trees int `json:"trees"`
	// SampleSize caps the number of values used to grow one tree.
	SampleSize int `json:"sampleSize"`
	// Threshold is the score threshold for classifying anomalies.
	Threshold float64 `json:"threshold"`
	// Workers is the number of goroutines growing trees.
	Workers int `json:"workers"`
	// RandomSeed for reproducibility. Zero means unseeded.
	RandomSeed int64 `json:"randomSeed"`
}

// DefaultConfig returns sensible defaults for detector configuration.
func DefaultConfig() Config {
	return Config{
		Trees:      DefaultTrees,
		SampleSize: DefaultSampleSize,
		Threshold:  DefaultThreshold,
		Workers:    1,
	}
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.Trees < 1:
		return fmt.Errorf("trees must be positive, got %d", c.Trees)
	case c.SampleSize < 2:
		return fmt.Errorf("sample size must be at least 2, got %d", c.SampleSize)
	case c.Threshold <= 0 || c.Threshold >= 1:
		return fmt.Errorf("threshold must be in (0, 1), got %g", c.Threshold)
	case c.Workers < 1:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}
