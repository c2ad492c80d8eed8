// Package csv reads heart-rate samples from CSV files with timestamp and bpm columns.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pulseguard/pulseguard/pkg/heartrate"
)

var log = logrus.WithField("component", "io.csv")

// Reader reads samples from CSV files.
type Reader struct {
	file      *os.File
	reader    *csv.Reader
	hasHeader bool
	headers   []string
	line      int
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// WithComma sets the field delimiter.
func WithComma(c rune) Option {
	return func(r *Reader) {
		r.reader.Comma = c
	}
}

// NewReader creates a new CSV reader.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "opening samples file")
	}

	r := &Reader{
		file:      file,
		reader:    csv.NewReader(file),
		hasHeader: true,
	}
	r.reader.FieldsPerRecord = -1
	r.reader.TrimLeadingSpace = true

	for _, opt := range opts {
		opt(r)
	}

	// Read header if present
	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil && err != io.EOF {
			file.Close()
			return nil, errors.Wrapf(err, "reading header of %s", filename)
		}
		r.headers = headers
		r.line++
	}

	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// Read returns all samples in file order.
func (r *Reader) Read() ([]heartrate.Sample, error) {
	var data []heartrate.Sample

	for {
		sample, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if sample != nil {
			data = append(data, *sample)
		}
	}

	return data, nil
}

// Stream returns a channel of samples for real-time processing.
func (r *Reader) Stream(ctx context.Context) (<-chan heartrate.Sample, error) {
	out := make(chan heartrate.Sample, 100)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				sample, err := r.next()
				if err == io.EOF {
					return
				}
				if err != nil {
					log.WithError(err).Error("stream stopped")
					return
				}
				if sample == nil {
					continue
				}

				select {
				case out <- *sample:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// next returns the next sample, nil for a skipped row, or io.EOF.
func (r *Reader) next() (*heartrate.Sample, error) {
	record, err := r.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	r.line++
	if err != nil {
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			log.WithError(err).WithField("line", r.line).Debug("skipping malformed row")
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading samples")
	}

	sample, err := parseRow(record)
	if err != nil {
		// Skip malformed rows
		log.WithError(err).WithField("line", r.line).Debug("skipping malformed row")
		return nil, nil
	}
	return &sample, nil
}

// parseRow converts a timestamp,bpm record to a sample.
func parseRow(record []string) (heartrate.Sample, error) {
	if len(record) < 2 {
		return heartrate.Sample{}, fmt.Errorf("expected 2 fields, got %d", len(record))
	}

	ts, err := ParseTime(record[0])
	if err != nil {
		return heartrate.Sample{}, err
	}
	bpm, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	if err != nil {
		return heartrate.Sample{}, err
	}

	sample := heartrate.Sample{Time: ts, BPM: bpm}
	return sample, sample.Validate()
}

// ParseTime accepts RFC 3339 timestamps or unix seconds, fractional or not.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
}
