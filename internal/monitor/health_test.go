package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mokametrics-ingest/internal/realtime"
	"mokametrics-ingest/internal/service"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type staticHealth bool

func (h staticHealth) HealthCheck(context.Context) bool { return bool(h) }

type staticState service.ConsumerState

func (s staticState) State() service.ConsumerState { return service.ConsumerState(s) }

func get(t *testing.T, h http.Handler, path string) (*http.Response, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	res := rec.Result()
	var body HealthResponse
	if res.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	}
	return res, body
}

func TestHealthIsAlwaysAlive(t *testing.T) {
	h := NewHandler(Checks{}, nil, nil, "", zap.NewNop().Sugar())
	res, body := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "alive", body.Status)
}

func TestReadyReportsEveryDependency(t *testing.T) {
	checks := Checks{
		Database:   pingerFunc(func(context.Context) error { return nil }),
		TimeSeries: staticHealth(true),
		Consumer:   staticState(service.StateRunning),
	}
	h := NewHandler(checks, nil, nil, "", zap.NewNop().Sugar())

	res, body := get(t, h, "/ready")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, map[string]string{"database": "healthy", "timeseries": "healthy", "consumer": "running"}, body.Details)
}

func TestReadyFailsWhenDependencyDown(t *testing.T) {
	checks := Checks{
		Database:   pingerFunc(func(context.Context) error { return errors.New("refused") }),
		TimeSeries: staticHealth(false),
		Consumer:   staticState(service.StateInitializing),
	}
	h := NewHandler(checks, nil, nil, "", zap.NewNop().Sugar())

	res, body := get(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	assert.Equal(t, "3 component(s) failing", body.Status)
	assert.Equal(t, "unhealthy", body.Details["database"])
	assert.Equal(t, "initializing", body.Details["consumer"])
}

func TestMetricsEndpoint(t *testing.T) {
	m := NewMetrics()
	m.MessageProcessed("mokametrics.telemetry.cnc", service.ResultOK, 20*time.Millisecond)
	m.MessageProcessed("mokametrics.telemetry.cnc", service.ResultRetried, time.Millisecond)
	m.PointsWritten(5)
	m.DeadLettered("mokametrics.telemetry.cnc")
	m.NotificationPublished(realtime.EventStatus)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.consumed.WithLabelValues("mokametrics.telemetry.cnc", "ok")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.points))
	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))

	h := NewHandler(Checks{}, m, nil, "", zap.NewNop().Sugar())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `mokametrics_dead_letter_total{topic="mokametrics.telemetry.cnc"} 1`)
	assert.Contains(t, string(body), `mokametrics_notifications_total{event="status"} 1`)
}
