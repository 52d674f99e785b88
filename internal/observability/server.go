package observability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthReport is the body served on /healthz.
type HealthReport struct {
	Healthy bool           `json:"healthy"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthFunc reports the current health of the process.
type HealthFunc func(ctx context.Context) HealthReport

// ServerConfig configures the metrics and health endpoint.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":9090". Port 0 picks a free port.
	Addr string

	// MetricsPath defaults to "/metrics".
	MetricsPath string

	// Gatherer defaults to the Prometheus default gatherer.
	Gatherer prometheus.Gatherer

	// Health defaults to always healthy.
	Health HealthFunc
}

// Server exposes /metrics and /healthz over HTTP.
type Server struct {
	config   ServerConfig
	logger   *slog.Logger
	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a server; call Start to listen.
func NewServer(config ServerConfig, logger *slog.Logger) *Server {
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if config.Health == nil {
		config.Health = func(context.Context) HealthReport { return HealthReport{Healthy: true} }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{config: config, logger: logger.With("component", "http")}
}

// Handler returns the routing handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.MetricsPath, promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("http server already started")
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.server = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", listener.Addr().String(), "metrics_path", s.config.MetricsPath)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server, waiting for in-flight requests up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	report := s.config.Health(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report) //nolint:errcheck
}
