package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/therealutkarshpriyadarshi/videocontent/internal/logging"
)

// ReadinessCheck returns the failing dependencies by name
type ReadinessCheck func(ctx context.Context) map[string]error

// Server exposes /metrics, a liveness probe and a readiness probe on a
// dedicated port. The worker has no other HTTP surface.
type Server struct {
	server *http.Server
	logger *logging.Logger
}

// NewServer creates a metrics server. ready may be nil, in which case
// /ready always succeeds.
func NewServer(port int, ready ReadinessCheck, logger *logging.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      Handler(ready),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler routes the metrics endpoints
func Handler(ready ReadinessCheck) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		failures := map[string]string{}
		if ready != nil {
			for name, err := range ready(r.Context()) {
				failures[name] = err.Error()
			}
		}
		code := http.StatusOK
		body := map[string]interface{}{"status": "ready"}
		if len(failures) > 0 {
			code = http.StatusServiceUnavailable
			body = map[string]interface{}{"status": "not_ready", "failures": failures}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	})
	return mux
}

// Start blocks serving until Shutdown is called
func (s *Server) Start() error {
	s.logger.Infof("Metrics server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
