package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseguard/pulseguard/pkg/detectors"
	"github.com/pulseguard/pulseguard/pkg/detectors/iforest"
	"github.com/pulseguard/pulseguard/pkg/heartrate"
	"github.com/pulseguard/pulseguard/pkg/store"
)

var start = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

type fixture struct {
	srv   *Server
	store *store.MemoryStore
	clock *clock.Mock
	reg   *prometheus.Registry
}

func newFixture() *fixture {
	c := clock.NewMock()
	c.Set(start.Add(12 * time.Hour))
	st := store.NewMemoryStore()
	reg := prometheus.NewRegistry()
	return &fixture{
		srv: New(Config{
			Store:    st,
			Detector: iforest.New(iforest.WithSeed(42)),
			Registry: reg,
			Clock:    c,
		}),
		store: st,
		clock: c,
		reg:   reg,
	}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func samplesJSON(values ...float64) string {
	var buf bytes.Buffer
	buf.WriteString("[")
	for i, v := range values {
		if i > 0 {
			buf.WriteString(",")
		}
		fmt.Fprintf(&buf, `{"time":%q,"bpm":%g}`, start.Add(time.Duration(i)*time.Hour).Format(time.RFC3339), v)
	}
	buf.WriteString("]")
	return buf.String()
}

func TestAppendAndAnalyze(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/api/v1/subjects/alice/samples", samplesJSON(70, 72, 71, 69, 70, 73, 71, 72, 180))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"count":9`)

	rec = f.do(http.MethodGet, "/api/v1/subjects/alice/analysis", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report heartrate.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 180.0, report.Current.BPM)
	assert.True(t, report.Verdict.IsAnomaly)
	assert.Equal(t, 8, report.History.Count)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.srv.metrics.anomaliesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.srv.metrics.requestsTotal.WithLabelValues(
		http.MethodGet, "/api/v1/subjects/{subject}/analysis", "200")))
}

func TestAppendSingleSample(t *testing.T) {
	f := newFixture()

	body := fmt.Sprintf(`{"time":%q,"bpm":70}`, start.Format(time.RFC3339))
	rec := f.do(http.MethodPost, "/api/v1/subjects/bob/samples", body)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/subjects/bob/analysis", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient")
}

func TestAppendRejectsBadInput(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "empty array", body: "[]"},
		{name: "bad bpm", body: fmt.Sprintf(`[{"time":%q,"bpm":-3}]`, start.Format(time.RFC3339))},
		{name: "missing time", body: `{"bpm":70}`},
		{name: "wrong shape", body: `"seventy"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/v1/subjects/carol/samples", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAppendRejectsFutureSamples(t *testing.T) {
	f := newFixture()
	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/v1/subjects/erin/samples",
		samplesJSON(70, 72, 71, 69, 70, 73, 71, 72)).Code)

	tests := []struct {
		name     string
		at       time.Time
		wantCode int
	}{
		{name: "next year", at: start.Add(365 * 24 * time.Hour), wantCode: http.StatusBadRequest},
		{name: "past the skew", at: f.clock.Now().Add(maxClockSkew + time.Second), wantCode: http.StatusBadRequest},
		{name: "within the skew", at: f.clock.Now().Add(maxClockSkew / 2), wantCode: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := fmt.Sprintf(`{"time":%q,"bpm":74}`, tt.at.Format(time.RFC3339))
			rec := f.do(http.MethodPost, "/api/v1/subjects/erin/samples", body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	// the real history survives and the accepted sample joins it
	all, err := f.store.Range(context.Background(), "erin", time.Time{}, start.Add(365*24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 9)
}

func TestAppendTrimsRelativeToClock(t *testing.T) {
	f := newFixture()
	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/v1/subjects/frank/samples",
		samplesJSON(70, 72, 71)).Code)

	// late readings inside the window are kept
	old := fmt.Sprintf(`{"time":%q,"bpm":65}`, start.Add(-time.Hour).Format(time.RFC3339))
	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/v1/subjects/frank/samples", old).Code)

	all, err := f.store.Range(context.Background(), "frank", time.Time{}, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, []float64{65, 70, 72, 71}, heartrate.Values(all))

	f.clock.Add(7 * 24 * time.Hour)
	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/v1/subjects/frank/samples",
		fmt.Sprintf(`{"time":%q,"bpm":70}`, f.clock.Now().Format(time.RFC3339))).Code)

	all, err = f.store.Range(context.Background(), "frank", time.Time{}, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, []float64{70}, heartrate.Values(all))
}

func TestAnalyzeUnknownSubject(t *testing.T) {
	rec := newFixture().do(http.MethodGet, "/api/v1/subjects/nobody/analysis", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAppendTrimsOldHistory(t *testing.T) {
	f := newFixture()
	old := fmt.Sprintf(`{"time":%q,"bpm":60}`, start.Add(-10*24*time.Hour).Format(time.RFC3339))
	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/v1/subjects/dan/samples", old).Code)
	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/api/v1/subjects/dan/samples", samplesJSON(70, 71)).Code)

	all, err := f.store.Range(context.Background(), "dan", time.Time{}, start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []float64{70, 71}, heartrate.Values(all))
}

func TestScore(t *testing.T) {
	f := newFixture()

	tests := []struct {
		name        string
		body        string
		wantCode    int
		wantAnomaly bool
	}{
		{name: "normal", body: `{"history":[70,72,71,69,70,73,71,72],"value":71}`, wantCode: http.StatusOK},
		{name: "outlier", body: `{"history":[70,72,71,69,70,73,71,72],"value":180}`, wantCode: http.StatusOK, wantAnomaly: true},
		{name: "high threshold", body: `{"history":[70,72,71,69,70,73,71,72],"value":180,"threshold":0.99}`, wantCode: http.StatusOK},
		{name: "no history", body: `{"history":[],"value":71}`, wantCode: http.StatusUnprocessableEntity},
		{name: "bad threshold", body: `{"history":[70,71],"value":71,"threshold":2}`, wantCode: http.StatusBadRequest},
		{name: "bad json", body: `{"history":`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/v1/score", tt.body)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}
			var v detectors.Verdict
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
			assert.Equal(t, tt.wantAnomaly, v.IsAnomaly)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pulseguard_http_requests_total")
}
