package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"Clawboard/internal/observability"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, observability.ParseLogLevel(tc.in), "input %q", tc.in)
	}
}

func TestNewLoggerTo_TagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLoggerTo(&buf, "engine", zerolog.InfoLevel)
	logger.Debug().Msg("hidden")
	logger.Info().Str("command", "Tip").Msg("applied")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "engine", line["component"])
	require.Equal(t, "Tip", line["command"])
	require.Equal(t, "applied", line["message"])
}

func TestNewMetrics_IsolatedRegistry(t *testing.T) {
	// Two instances on separate registries must not collide.
	m1 := observability.NewMetrics(prometheus.NewRegistry())
	m2 := observability.NewMetrics(prometheus.NewRegistry())

	m1.CommandsApplied.WithLabelValues("Transfer").Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(m1.CommandsApplied.WithLabelValues("Transfer")))
	require.Equal(t, float64(0), testutil.ToFloat64(m2.CommandsApplied.WithLabelValues("Transfer")))

	m1.SetChannelMetrics("persist", 5, 10)
	require.Equal(t, 0.5, testutil.ToFloat64(m1.ChannelUtilization.WithLabelValues("persist")))
}

func TestReadinessHandler(t *testing.T) {
	h := observability.NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	h.AddProbe("postgres", func(context.Context) error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status   string            `json:"status"`
		Failures map[string]string `json:"failures"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "not_ready", body.Status)
	require.Equal(t, "connection refused", body.Failures["postgres"])
}

func TestLivenessHandler(t *testing.T) {
	h := observability.NewHealthChecker()
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "alive")
}
