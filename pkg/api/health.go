package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/forgehq/forge/pkg/cluster"
	"github.com/forgehq/forge/pkg/metrics"
)

// Server exposes the admin surface spec.md §6 calls "the HTTP
// collaborator": status, metrics, config, start/stop/restart
// lifecycle, command submission, and a liveness/readiness pair.
type Server struct {
	service *cluster.Service
	mux     *http.ServeMux
}

// NewServer creates the admin HTTP server for svc. svc may be nil in
// tests that only exercise the liveness endpoint.
func NewServer(svc *cluster.Service) *Server {
	mux := http.NewServeMux()
	s := &Server{service: svc, mux: mux}

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/config", s.configHandler)
	mux.HandleFunc("/metrics-summary", s.metricsSummaryHandler)
	mux.HandleFunc("/start", s.startHandler)
	mux.HandleFunc("/stop", s.stopHandler)
	mux.HandleFunc("/restart", s.restartHandler)
	mux.HandleFunc("/command", s.commandHandler)
	mux.Handle("/metrics", metrics.Handler())

	return s
}

// Start serves the admin surface on addr, blocking until it fails.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// HealthResponse is the liveness check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler is a liveness check: the process being able to answer
// at all is "healthy", since Raft has no error role to check against.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyHandler reports whether this node has a known leader (itself
// or another node) and can therefore serve linearizable reads/writes
// or redirect.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if s.service == nil {
		checks["raft"] = "not initialized"
		ready = false
		message = "cluster service not initialized"
	} else {
		status := s.service.Status()
		if !status.Running {
			checks["raft"] = "stopped"
			ready = false
			message = "cluster service is stopped"
		} else if status.Role == "leader" {
			checks["raft"] = "leader"
		} else if status.LeaderID != "" {
			checks["raft"] = fmt.Sprintf("follower (leader: %s)", status.LeaderID)
		} else {
			checks["raft"] = "no leader elected"
			ready = false
			message = "waiting for leader election"
		}
	}

	statusCode := http.StatusOK
	statusText := "ready"
	if !ready {
		statusCode = http.StatusServiceUnavailable
		statusText = "not ready"
	}

	writeJSON(w, statusCode, ReadyResponse{Status: statusText, Timestamp: time.Now(), Checks: checks, Message: message})
}

// statusHandler reports role, term, commit position, and peer count.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "cluster service not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Status())
}

// configHandler reports the node's effective, already-validated
// configuration.
func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "cluster service not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Config())
}

// metricsSummaryHandler reports the rolling command/election/latency/
// uptime counters as JSON, a human-readable complement to the raw
// Prometheus scrape at /metrics.
func (s *Server) metricsSummaryHandler(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "cluster service not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.service.Metrics())
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	s.lifecycleHandler(w, r, s.service.Start)
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	s.lifecycleHandler(w, r, s.service.Stop)
}

func (s *Server) restartHandler(w http.ResponseWriter, r *http.Request) {
	s.lifecycleHandler(w, r, s.service.Restart)
}

func (s *Server) lifecycleHandler(w http.ResponseWriter, r *http.Request, op func() error) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "cluster service not initialized", http.StatusServiceUnavailable)
		return
	}
	if err := op(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.service.Status())
}

// GetHandler returns the HTTP handler for embedding in another server.
func (s *Server) GetHandler() http.Handler {
	return s.mux
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
