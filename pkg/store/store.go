// Package store keeps per-subject heart-rate history between requests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/pulseguard/pulseguard/pkg/heartrate"
)

// ErrNotFound is returned when a subject has no stored samples.
var ErrNotFound = errors.New("subject not found")

// HistoryStore holds heart-rate samples per subject.
type HistoryStore interface {
	// Append stores samples for subject.
	Append(ctx context.Context, subject string, samples ...heartrate.Sample) error

	// Range returns the samples of subject taken in [from, to], oldest first.
	Range(ctx context.Context, subject string, from, to time.Time) ([]heartrate.Sample, error)

	// Trim drops the samples of subject taken before cutoff.
	Trim(ctx context.Context, subject string, before time.Time) error

	// Close releases resources.
	Close() error
}
