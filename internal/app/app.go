package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deltarelay/deltarelay/internal/config"
	"github.com/deltarelay/deltarelay/internal/relay"
	"github.com/deltarelay/deltarelay/internal/server"
	"github.com/deltarelay/deltarelay/internal/upstream/claude"
	"github.com/deltarelay/deltarelay/internal/upstream/lorem"
)

// App orchestrates the lifecycle of the relay server.
type App struct {
	cfg    *config.Config
	server *server.Server
	health *Health
}

// New wires the configured upstream backend into a server instance.
func New(cfg *config.Config) (*App, error) {
	generate, err := newGenerateFunc(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream backend: %w", err)
	}

	health := NewHealth()
	srv, err := server.New(generate, health, server.Config{
		MaxRequestBytes:   cfg.MaxRequestBytes,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &App{
		cfg:    cfg,
		server: srv,
		health: health,
	}, nil
}

// newGenerateFunc builds the upstream generation function selected by config.
func newGenerateFunc(cfg *config.Config) (relay.GenerateFunc, error) {
	switch cfg.Backend {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY must be set for the anthropic backend")
		}
		backend, err := claude.New(cfg.Model,
			claude.WithAPIKey(apiKey),
			claude.WithMaxTokens(cfg.MaxTokens),
		)
		if err != nil {
			return nil, err
		}
		return backend.Generate, nil
	case "lorem":
		return lorem.New().Generate, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection
// for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	slog.InfoContext(gCtx, "starting relay server", "backend", a.cfg.Backend, "model", a.cfg.Model)
	serverErrCh, err := a.server.Start(gCtx, a.cfg.Listen)
	if err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)
	a.health.SetReady(true)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	runtimeErr := g.Wait()

	a.health.SetReady(false)
	slog.InfoContext(gCtx, "shutting down services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.ShutdownTimeout > 0 {
		return a.cfg.ShutdownTimeout
	}
	return 5 * time.Second
}
