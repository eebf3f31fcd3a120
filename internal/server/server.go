package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/deltarelay/deltarelay/internal/observability/middleware"
	"github.com/deltarelay/deltarelay/internal/relay"
)

const defaultMaxRequestBytes = 10 << 20 // 10 MiB

// Config holds the serving limits.
type Config struct {
	MaxRequestBytes   int64
	ReadHeaderTimeout time.Duration
}

// Server exposes the relay over HTTP: one streaming endpoint plus health
// probes.
type Server struct {
	httpServer *http.Server
}

// New assembles the routes and middleware chain around the given upstream.
func New(generate relay.GenerateFunc, checker ReadinessChecker, cfg Config) (*Server, error) {
	if generate == nil {
		return nil, errors.New("generate function cannot be nil")
	}
	if checker == nil {
		return nil, errors.New("readiness checker cannot be nil")
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}

	mux := http.NewServeMux()
	mux.Handle("POST /v1/stream", applyMiddlewares(
		NewStreamHandler(generate),
		RequestSizeLimit(cfg.MaxRequestBytes),
	))
	mux.Handle("GET /livez", livenessHandler())
	mux.Handle("GET /readyz", readinessHandler(checker))

	// Recovery sits outermost so panics surfaced by the logger still turn
	// into a 500; RequestID and TraceContext run inside Logging so their
	// log attributes land on the request log entry.
	handler := applyMiddlewares(mux,
		Recovery,
		middleware.Logging(slog.Default()),
		middleware.RequestID,
		middleware.TraceContext,
	)

	return &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			// WriteTimeout stays zero: streams are open-ended and bounded by
			// the client, not by the server.
		},
	}, nil
}

// Start begins serving on addr. The returned channel delivers at most one
// runtime error and is closed when the server stops.
func (s *Server) Start(ctx context.Context, addr string) (<-chan error, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	slog.InfoContext(ctx, "server listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return errCh, nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
