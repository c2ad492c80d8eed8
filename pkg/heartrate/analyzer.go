package heartrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/pulseguard/pulseguard/pkg/detectors"
)

const (
	// DefaultWindow is how far back history is taken from.
	DefaultWindow = 7 * 24 * time.Hour
	// DefaultMinSamples is the fewest samples, current one included, worth scoring.
	DefaultMinSamples = 2
)

// ErrInsufficientData is returned when the window holds too few samples to score.
var ErrInsufficientData = errors.New("insufficient heart rate data for scoring")

var alog = logrus.WithField("component", "heartrate.Analyzer")

// Report is the outcome of scoring one sample against its history.
type Report struct {
	Current    Sample            `json:"current"`
	Verdict    detectors.Verdict `json:"verdict"`
	History    Baseline          `json:"history"`
	AnalyzedAt time.Time         `json:"analyzed_at"`
}

// Analyzer scores the latest heart-rate reading against the readings before it.
type Analyzer struct {
	detector   detectors.Detector
	clock      clock.Clock
	window     time.Duration
	minSamples int
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithClock sets the clock used to place the window.
func WithClock(c clock.Clock) AnalyzerOption {
	return func(a *Analyzer) {
		a.clock = c
	}
}

// WithWindow sets how far back history is taken from.
func WithWindow(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) {
		a.window = d
	}
}

// WithMinSamples sets the fewest samples, current one included, worth scoring.
func WithMinSamples(n int) AnalyzerOption {
	return func(a *Analyzer) {
		a.minSamples = n
	}
}

// NewAnalyzer creates an Analyzer backed by detector.
func NewAnalyzer(detector detectors.Detector, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		detector:   detector,
		clock:      clock.New(),
		window:     DefaultWindow,
		minSamples: DefaultMinSamples,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.window <= 0 {
		a.window = DefaultWindow
	}
	if a.minSamples < DefaultMinSamples {
		a.minSamples = DefaultMinSamples
	}
	return a
}

// Window returns the configured history span.
func (a *Analyzer) Window() time.Duration { return a.window }

// Analyze scores the newest sample in the window ending now against the older ones.
func (a *Analyzer) Analyze(ctx context.Context, samples []Sample) (Report, error) {
	return a.AnalyzeAt(ctx, samples, a.clock.Now())
}

// AnalyzeAt is Analyze with the window ending at now.
func (a *Analyzer) AnalyzeAt(ctx context.Context, samples []Sample, now time.Time) (Report, error) {
	windowed := Window(samples, now, a.window)
	if len(windowed) < a.minSamples {
		alog.WithField("samples", len(windowed)).Debug("not enough samples in window")
		return Report{}, fmt.Errorf("%w: %d samples in window, need %d", ErrInsufficientData, len(windowed), a.minSamples)
	}

	last := len(windowed) - 1
	return a.score(ctx, windowed[:last], windowed[last])
}

// AnalyzeValue scores current against every sample in the window ending at current.Time.
func (a *Analyzer) AnalyzeValue(ctx context.Context, samples []Sample, current Sample) (Report, error) {
	history := Window(samples, current.Time, a.window)
	if len(history)+1 < a.minSamples {
		return Report{}, fmt.Errorf("%w: %d samples in window, need %d", ErrInsufficientData, len(history), a.minSamples-1)
	}
	return a.score(ctx, history, current)
}

// Check reports only whether the newest sample is anomalous.
func (a *Analyzer) Check(ctx context.Context, samples []Sample) (bool, error) {
	report, err := a.Analyze(ctx, samples)
	if err != nil {
		return false, err
	}
	return report.Verdict.IsAnomaly, nil
}

// ScoreStream scores each sample from in against the samples received before it within the
// window ending at that sample, and sends a Report to out. Samples that arrive before enough
// history exists only join the history. Retained history spans one window back from the newest
// sample seen, so a late reading never evicts newer ones. Invalid samples are skipped.
// It returns when in is closed or ctx is done.
func (a *Analyzer) ScoreStream(ctx context.Context, in <-chan Sample, out chan<- Report) error {
	var (
		history []Sample
		newest  time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-in:
			if !ok {
				return nil
			}
			if err := s.Validate(); err != nil {
				alog.WithError(err).Debug("skipping sample")
				continue
			}

			windowed := Window(history, s.Time, a.window)
			if len(windowed)+1 >= a.minSamples {
				report, err := a.score(ctx, windowed, s)
				if err != nil {
					return err
				}
				select {
				case out <- report:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if s.Time.After(newest) {
				newest = s.Time
			}
			history = Window(append(history, s), newest, a.window)
		}
	}
}

func (a *Analyzer) score(ctx context.Context, history []Sample, current Sample) (Report, error) {
	values := Values(history)
	verdict, err := a.detector.Score(ctx, values, current.BPM)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Current:    current,
		Verdict:    verdict,
		History:    Summarize(values),
		AnalyzedAt: a.clock.Now(),
	}

	entry := alog.WithFields(logrus.Fields{
		"bpm":     current.BPM,
		"score":   verdict.Score,
		"history": len(history),
	})
	if verdict.IsAnomaly {
		entry.Info("heart rate anomaly detected")
	} else {
		entry.Debug("heart rate within normal pattern")
	}
	return report, nil
}
