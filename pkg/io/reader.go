// Package io provides input/output utilities for heart-rate samples and analysis results.
package io

import (
	"context"

	"github.com/pulseguard/pulseguard/pkg/heartrate"
)

// Reader is the interface for reading samples from various sources.
type Reader interface {
	// Read returns every sample.
	Read() ([]heartrate.Sample, error)

	// Stream returns a channel of samples for real-time processing.
	Stream(ctx context.Context) (<-chan heartrate.Sample, error)

	// Close releases resources.
	Close() error
}

// Writer is the interface for writing analysis results.
type Writer interface {
	// Write outputs a single result.
	Write(result Result) error

	// WriteAll outputs multiple results.
	WriteAll(results []Result) error
}

// Result represents one analysis outcome in a flat, serializable form.
type Result struct {
	Timestamp int64              `json:"timestamp"`
	BPM       float64            `json:"bpm"`
	Score     float64            `json:"score"`
	IsAnomaly bool               `json:"is_anomaly"`
	Threshold float64            `json:"threshold"`
	History   heartrate.Baseline `json:"history"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
}

// NewResult flattens a report.
func NewResult(r heartrate.Report) Result {
	return Result{
		Timestamp: r.Current.Time.Unix(),
		BPM:       r.Current.BPM,
		Score:     r.Verdict.Score,
		IsAnomaly: r.Verdict.IsAnomaly,
		Threshold: r.Verdict.Threshold,
		History:   r.History,
	}
}
