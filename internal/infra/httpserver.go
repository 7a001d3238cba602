package infra

import (
	"context"
	"errors"
	stdlog "log"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPServer serves the API with the configured timeouts. Server errors are
// routed to the service logger.
type HTTPServer struct {
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewHTTPServer builds a server listening on cfg.Port.
func NewHTTPServer(cfg *Config, handler http.Handler, logger Logger) *HTTPServer {
	errLog := logger.With().Str("source", "net/http").Logger()
	return &HTTPServer{server: &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ErrorLog:          stdlog.New(errLog, "", 0),
	}}
}

// Addr returns the bound address once Listen has succeeded, and the
// configured address before that.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Listen binds the configured address without serving yet.
func (s *HTTPServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Start binds if needed and serves in the current goroutine. It returns nil
// once Shutdown has been called.
func (s *HTTPServer) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests until
// ctx ends.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
