package io

import (
	"fmt"
	stdio "io"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONWriter writes one JSON document per line.
type JSONWriter struct {
	enc *jsoniter.Encoder
}

// NewJSONWriter creates a JSONWriter on w.
func NewJSONWriter(w stdio.Writer) *JSONWriter {
	return &JSONWriter{enc: json.NewEncoder(w)}
}

// Write outputs a single result.
func (w *JSONWriter) Write(result Result) error {
	return w.enc.Encode(result)
}

// WriteAll outputs multiple results.
func (w *JSONWriter) WriteAll(results []Result) error {
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// TextWriter writes one human readable line per result.
type TextWriter struct {
	w stdio.Writer
}

// NewTextWriter creates a TextWriter on w.
func NewTextWriter(w stdio.Writer) *TextWriter {
	return &TextWriter{w: w}
}

// Write outputs a single result.
func (w *TextWriter) Write(r Result) error {
	status := "normal"
	if r.IsAnomaly {
		status = "ANOMALY"
	}
	_, err := fmt.Fprintf(w.w, "%s bpm=%.1f score=%.3f threshold=%.2f [%s] history=%d mean=%.1f sd=%.1f\n",
		time.Unix(r.Timestamp, 0).UTC().Format(time.RFC3339), r.BPM, r.Score, r.Threshold, status,
		r.History.Count, r.History.Mean, r.History.StdDev)
	return err
}

// WriteAll outputs multiple results.
func (w *TextWriter) WriteAll(results []Result) error {
	for _, r := range results {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// NewWriter returns the writer for format, "text" or "json".
func NewWriter(format string, w stdio.Writer) (Writer, error) {
	switch format {
	case "", "text":
		return NewTextWriter(w), nil
	case "json":
		return NewJSONWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
