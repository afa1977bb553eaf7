package localhttp

import (
	"net/http"
	"time"

	"github.com/cuemby/fleetagent/pkg/metrics"
)

// Server is the agent's loopback HTTP server, exposing liveness,
// readiness, and Prometheus metrics. The handlers delegate to
// pkg/metrics, which owns the component health registry.
type Server struct {
	addr   string
	mux    *http.ServeMux
	server *http.Server
}

// New creates a Server that will listen on addr (e.g. "127.0.0.1:9090").
func New(addr string) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/metrics", metrics.Handler())

	return &Server{
		addr: addr,
		mux:  mux,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start blocks serving until the server is closed or fails. Intended to
// run in its own goroutine alongside the control session.
func (s *Server) Start() error {
	s.server.Handler = s.mux
	s.server.Addr = s.addr
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.server.Close()
}

// Handler returns the server's HTTP handler, for embedding or testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}
