// Package heartrate turns timestamped heart-rate readings into anomaly reports.
package heartrate

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// MaxBPM is the highest reading accepted as a heart rate.
const MaxBPM = 300

// Sample is a single heart-rate reading in beats per minute.
type Sample struct {
	Time time.Time `json:"time"`
	BPM  float64   `json:"bpm"`
}

// Validate rejects readings that cannot be a heart rate.
func (s Sample) Validate() error {
	if s.Time.IsZero() {
		return fmt.Errorf("sample time is required")
	}
	if math.IsNaN(s.BPM) || math.IsInf(s.BPM, 0) {
		return fmt.Errorf("bpm must be finite, got %v", s.BPM)
	}
	if s.BPM <= 0 || s.BPM > MaxBPM {
		return fmt.Errorf("bpm must be in (0, %d], got %g", MaxBPM, s.BPM)
	}
	return nil
}

// Window returns the samples taken in [now-span, now], oldest first.
// The input slice is not modified.
func Window(samples []Sample, now time.Time, span time.Duration) []Sample {
	start := now.Add(-span)
	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.Time.Before(start) || s.Time.After(now) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// Values returns the BPM of each sample in order.
func Values(samples []Sample) []float64 {
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.BPM
	}
	return values
}
