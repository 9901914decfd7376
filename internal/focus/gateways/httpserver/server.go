// Package httpserver runs an http.Handler on a TCP listener with the same
// Start/Stop/Address lifecycle as the DNS sinkhole.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/haukened/focusflow/internal/focus/common/log"
)

// Server wraps http.Server with an explicit bind step so callers can learn
// the bound address before serving begins.
type Server struct {
	name    string
	addr    string
	handler http.Handler
	logger  log.Logger

	mu      sync.Mutex
	srv     *http.Server
	ln      net.Listener
	running bool
}

// New returns a stopped Server. name only appears in logs.
func New(name, addr string, handler http.Handler, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Server{name: name, addr: addr, handler: handler, logger: logger}
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("%s server already running", s.name)
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.srv = srv
	s.ln = ln
	s.running = true

	s.logger.Info(map[string]any{
		"server":  s.name,
		"address": ln.Addr().String(),
	}, "HTTP server started")

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(map[string]any{
				"server": s.name,
				"error":  err.Error(),
			}, "HTTP server failed")
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	err := s.srv.Shutdown(ctx)
	s.logger.Info(map[string]any{"server": s.name}, "HTTP server stopped")
	return err
}

// Address returns the bound address while running, otherwise the
// configured one.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return s.ln.Addr().String()
	}
	return s.addr
}
