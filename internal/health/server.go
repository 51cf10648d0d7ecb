package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/line-drive/internal/models"
)

// DatabasePinger defines the interface for checking database connectivity.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// CollectorHealth is the tracker surface the server exposes over HTTP.
type CollectorHealth interface {
	Snapshots() []*models.HealthState
	TriggerRecovery(ctx context.Context, collector string) ([]*models.RecoveryAction, error)
}

// HealthResponse represents the JSON response for health check endpoints.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp,omitempty"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
}

// ReadyResponse represents the JSON response for readiness check endpoints.
type ReadyResponse struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Checks   map[string]string `json:"checks,omitempty"`
	Duration string            `json:"duration,omitempty"`
}

// Server is the operational HTTP server: container health checks, collector
// health snapshots, manual recovery triggering and the metrics endpoint.
type Server struct {
	serviceName string
	version     string
	commit      string
	port        string
	server      *http.Server
	logger      *logrus.Logger
	db          DatabasePinger
	tracker     CollectorHealth
	metrics     http.Handler
	metricsPath string
	mu          sync.RWMutex
	ready       bool
}

// ServerConfig holds the configuration for the operational server.
type ServerConfig struct {
	ServiceName string
	Version     string
	Commit      string
	Port        string
	Logger      *logrus.Logger
	DB          DatabasePinger
	Tracker     CollectorHealth
	Metrics     http.Handler
	MetricsPath string
}

// NewServer creates a new operational HTTP server.
func NewServer(cfg ServerConfig) *Server {
	port := cfg.Port
	if port == "" {
		port = os.Getenv("HEALTH_PORT")
	}
	if port == "" {
		port = "8090"
	}

	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	return &Server{
		serviceName: cfg.ServiceName,
		version:     cfg.Version,
		commit:      cfg.Commit,
		port:        port,
		logger:      cfg.Logger,
		db:          cfg.DB,
		tracker:     cfg.Tracker,
		metrics:     cfg.Metrics,
		metricsPath: metricsPath,
		ready:       false,
	}
}

// SetReady marks the server as ready to accept traffic.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// IsReady returns whether the server is ready.
func (s *Server) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Start starts the operational server in the background.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/live", s.handleLive)
	mux.HandleFunc("GET /health/collectors", s.handleCollectors)
	mux.HandleFunc("POST /recovery/{collector}", s.handleRecovery)
	if s.metrics != nil {
		mux.Handle(s.metricsPath, s.metrics)
	}

	s.server = &http.Server{
		Addr:         ":" + s.port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"port":    s.port,
				"service": s.serviceName,
			}).Info("Operational HTTP server starting")
		}

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.WithError(err).Error("Operational HTTP server error")
			}
		}
	}()

	// Wait for context cancellation
	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	return nil
}

// Shutdown gracefully shuts down the operational server.
func (s *Server) Shutdown() error {
	if s.server == nil {
		return nil
	}

	if s.logger != nil {
		s.logger.Info("Operational HTTP server shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleHealth handles the /health endpoint - basic liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Service:   s.serviceName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.version,
		Commit:    s.commit,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleLive handles the /live endpoint - kubernetes liveness probe.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "ok",
		Service: s.serviceName,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleReady handles the /ready endpoint - checks database connectivity.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	checks := make(map[string]string)
	allHealthy := true

	// Check if manually marked as not ready
	if !s.IsReady() {
		allHealthy = false
		checks["service"] = "not_ready"
	} else {
		checks["service"] = "ok"
	}

	// Check database connectivity if available
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := s.db.Ping(ctx); err != nil {
			allHealthy = false
			checks["database"] = fmt.Sprintf("error: %v", err)
		} else {
			checks["database"] = "ok"
		}
	}

	response := ReadyResponse{
		Service:  s.serviceName,
		Checks:   checks,
		Duration: time.Since(start).String(),
	}

	if allHealthy {
		response.Status = "ok"
		writeJSON(w, http.StatusOK, response)
	} else {
		response.Status = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, response)
	}
}

// handleCollectors serves the per-collector health snapshots.
func (s *Server) handleCollectors(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "health tracker not running",
		})
		return
	}

	snapshots := s.tracker.Snapshots()
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    s.serviceName,
		"count":      len(snapshots),
		"collectors": snapshots,
	})
}

// handleRecovery triggers the recovery sequence for one collector.
func (s *Server) handleRecovery(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "health tracker not running",
		})
		return
	}

	name := r.PathValue("collector")

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	actions, err := s.tracker.TriggerRecovery(ctx, name)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, models.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"collector": name,
			"remote":    r.RemoteAddr,
			"actions":   len(actions),
		}).Info("Manual recovery triggered")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"collector": name,
		"actions":   actions,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
