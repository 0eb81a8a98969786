// Package httpserver exposes the agent's local status and Prometheus metrics.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skobkin/lab-agent/internal/agent"
	"github.com/skobkin/lab-agent/internal/gpu"
	"github.com/skobkin/lab-agent/internal/version"
)

const readHeaderTimeout = 5 * time.Second

// Server wraps the local status listener.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	status     *agent.Status
	gpus       []gpu.Info

	requestIDs atomic.Uint64
}

// New assembles a Server listening on addr. gpus are the devices found by
// PCI discovery at startup and may be empty.
func New(addr string, logger *slog.Logger, status *agent.Status, gpus []gpu.Info) *Server {
	if status == nil {
		status = agent.NewStatus()
	}
	s := &Server{
		logger: logger.With("component", "http"),
		status: status,
		gpus:   gpus,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/api/last", s.handleLast)
	mux.HandleFunc("/api/gpus", s.handleGPUs)
	s.registerPrometheus(mux)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withRequestLogging(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Listen binds the configured address without serving it.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("listening", "addr", ln.Addr().String())
	return ln, nil
}

// Serve handles HTTP on ln until shutdown is requested.
func (s *Server) Serve(ln net.Listener) error {
	err := s.httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	info := s.readiness()
	statusCode := http.StatusOK
	if info.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, statusCode, info)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	s.writeJSON(w, r, http.StatusOK, version.Current())
}

func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	p, ok := s.status.LastPayload()
	if !ok {
		http.Error(w, "no snapshot posted yet", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, p)
}

func (s *Server) handleGPUs(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	gpus := s.gpus
	if gpus == nil {
		gpus = []gpu.Info{}
	}
	s.writeJSON(w, r, http.StatusOK, gpus)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.loggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func (s *Server) registerPrometheus(mux *http.ServeMux) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "lab_agent",
			Subsystem: "pci",
			Name:      "devices",
			Help:      "NVIDIA display controllers found by PCI discovery at startup.",
		}, func() float64 {
			return float64(len(s.gpus))
		}),
		newStatusCollector(s.status),
	)

	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

func (s *Server) readiness() readyResponse {
	snap := s.status.Snapshot()

	resp := readyResponse{GPUs: len(s.gpus)}
	for _, count := range snap.Counts {
		resp.Cycles += count
	}
	if !snap.LastSuccess.IsZero() {
		resp.LastSuccess = snap.LastSuccess.UTC().Format(time.RFC3339)
	}

	switch {
	case snap.Last == nil:
		resp.Status = "initializing"
		resp.Reason = "waiting_for_first_cycle"
	case snap.Last.OK():
		resp.Status = "ok"
	default:
		resp.Status = "degraded"
		resp.Reason = string(snap.Last.Kind)
	}
	return resp
}

type readyResponse struct {
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	Cycles      uint64 `json:"cycles"`
	GPUs        int    `json:"pci_gpus"`
	LastSuccess string `json:"last_success,omitempty"`
}
