// Package server exposes the admission controller and the metrics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Milad-Afdasta/ratewindow/internal/metrics"
	"github.com/Milad-Afdasta/ratewindow/internal/version"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

var (
	ErrNotListening = errors.New("server is not listening")
	ErrNotReady     = errors.New("server did not become ready")
)

// Sampler produces fresh metric snapshots. Each GET /metrics is an explicit
// sample, so it lands in the aggregator history when recording is enabled.
type Sampler interface {
	Sample(now time.Time) metrics.Snapshot
	Now() time.Time
}

// Config holds listener settings
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wires the routes behind a TCP listener
type Server struct {
	config     Config
	router     *mux.Router
	httpServer *http.Server
	listener   net.Listener
}

// MetricsResponse is the JSON body of GET /metrics
type MetricsResponse struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	AverageLatency    float64 `json:"average_latency"`
	DroppedRequests   int64   `json:"dropped_requests"`
}

// New creates a server. exporter may be nil.
func New(config Config, admission http.Handler, source Sampler, exporter *metrics.Exporter) *Server {
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 5 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 5 * time.Second
	}

	s := &Server{
		config: config,
		router: mux.NewRouter(),
	}
	s.setupRoutes(admission, source, exporter)

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes(admission http.Handler, source Sampler, exporter *metrics.Exporter) {
	s.router.Handle("/", admission).Methods("GET")
	s.router.HandleFunc("/metrics", metricsHandler(source)).Methods("GET")
	s.router.HandleFunc("/health", healthHandler).Methods("GET")
	if exporter != nil {
		s.router.Handle("/metrics/prometheus", exporter.Handler()).Methods("GET")
	}

	s.router.Use(loggingMiddleware)
}

// Listen binds the TCP listener. Failing here aborts the run.
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	log.Infof("Server listening on http://%s", ln.Addr())
	return nil
}

// Serve blocks until the server is shut down
func (s *Server) Serve() error {
	if s.listener == nil {
		return ErrNotListening
	}
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Addr returns the bound address, useful when Port is 0
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL returns the base URL of the bound listener
func (s *Server) URL() string {
	return "http://" + s.Addr()
}

// WaitReady polls /health until it answers 200 or timeout elapses
func (s *Server) WaitReady(ctx context.Context, timeout time.Duration) error {
	if s.listener == nil {
		return ErrNotListening
	}

	client := &fasthttp.Client{Name: version.UserAgent(version.Probe)}
	url := s.URL() + "/health"
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		status, _, err := client.GetTimeout(nil, url, time.Second)
		if err == nil && status == fasthttp.StatusOK {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %v: %v", ErrNotReady, timeout, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler { return s.router }

func metricsHandler(source Sampler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := source.Sample(source.Now())
		writeJSON(w, MetricsResponse{
			RequestsPerSecond: snap.RequestsPerSecond,
			AverageLatency:    snap.AverageLatency,
			DroppedRequests:   snap.Dropped,
		})
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("Request handled")
	})
}
