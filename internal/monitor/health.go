package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mokametrics-ingest/internal/realtime"
	"mokametrics-ingest/internal/service"

	"go.uber.org/zap"
)

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

type ConsumerStatus interface {
	State() service.ConsumerState
}

// Checks are the dependencies /ready reports on. Nil checks are skipped.
type Checks struct {
	Database   Pinger
	TimeSeries HealthChecker
	Consumer   ConsumerStatus
}

// NewHandler serves /health, /ready, /metrics and the dashboard websocket.
func NewHandler(checks Checks, metrics *Metrics, hub *realtime.Hub, wsSecret string, logger *zap.SugaredLogger) *http.ServeMux {
	mux := http.NewServeMux()

	// --- Liveness ---
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:  "alive",
			Message: "Service is running",
		})
	})

	// --- Readiness ---
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		healthDetails := make(map[string]string)
		var errors []string

		if checks.Database != nil {
			if err := checks.Database.Ping(ctx); err != nil {
				healthDetails["database"] = "unhealthy"
				errors = append(errors, fmt.Sprintf("database unhealthy: %v", err))
			} else {
				healthDetails["database"] = "healthy"
			}
		}

		if checks.TimeSeries != nil {
			if !checks.TimeSeries.HealthCheck(ctx) {
				healthDetails["timeseries"] = "unhealthy"
				errors = append(errors, "time-series store unreachable")
			} else {
				healthDetails["timeseries"] = "healthy"
			}
		}

		if checks.Consumer != nil {
			state := checks.Consumer.State()
			healthDetails["consumer"] = state.String()
			if state != service.StateSubscribed && state != service.StateRunning {
				errors = append(errors, "consumer "+state.String())
			}
		}

		statusCode := http.StatusOK
		statusMsg := "ready"
		if len(errors) > 0 {
			statusCode = http.StatusServiceUnavailable
			statusMsg = fmt.Sprintf("%d component(s) failing", len(errors))
			logger.Warnw("readiness check failed", "errors", errors)
		}

		writeJSON(w, statusCode, HealthResponse{
			Status:  statusMsg,
			Details: healthDetails,
		})
	})

	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}

	// --- WebSocket endpoint ---
	if hub != nil {
		mux.HandleFunc("/ws", realtime.ServeWS(hub, wsSecret))
	}

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// StartHealthCheck serves handler on addr in the background. Shut the
// returned server down to stop it.
func StartHealthCheck(handler http.Handler, logger *zap.SugaredLogger, addr string) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Infof("starting health check server on %s", addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("health check server stopped", "error", err)
		}
	}()
	return srv
}
