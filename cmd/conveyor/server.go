package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/conveyor-ci/conveyor/internal/shell/api"
	"github.com/conveyor-ci/conveyor/internal/shell/docker"
	"github.com/conveyor-ci/conveyor/internal/shell/engine"
	"github.com/conveyor-ci/conveyor/internal/shell/kube"
	"github.com/conveyor-ci/conveyor/internal/shell/store"
	"github.com/conveyor-ci/conveyor/internal/shell/workers"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server represents the Conveyor application server.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      store.Store
	docker     docker.Client
	engine     *engine.Engine
	janitor    *workers.Janitor
	notifier   *workers.Notifier
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDatabaseError,
		}
	}

	// Connect to Docker
	d, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		s.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDockerError,
		}
	}

	// Verify Docker connection
	if err := d.Ping(); err != nil {
		s.Close()
		d.Close()
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      err,
			ExitCode: ExitDockerError,
		}
	}

	// Connect to Kubernetes. Deploy steps fail without a cluster, everything
	// else keeps working.
	var kubeClient *kube.Client
	if cfg.Kube.Enabled {
		kubeClient, err = kube.NewClient(cfg.Kube.Kubeconfig)
		if err != nil {
			logger.Warn("kubernetes unavailable, deploy steps will fail", "error", err)
			kubeClient = nil
		}
	}

	// Registry credentials for image pushes
	var registryAuth *docker.RegistryAuth
	if cfg.Registry.Username != "" || cfg.Registry.ServerAddress != "" {
		registryAuth = &docker.RegistryAuth{
			Username:      cfg.Registry.Username,
			Password:      cfg.Registry.Password,
			ServerAddress: cfg.Registry.ServerAddress,
		}
	}

	runner := engine.NewDockerStepRunner(d, kubeClient, engine.DockerStepRunnerConfig{
		WorkspaceDir:    cfg.Engine.WorkspaceDir,
		DefaultImage:    cfg.Engine.DefaultImage,
		RegistryAuth:    registryAuth,
		RolloutInterval: cfg.Kube.RolloutInterval,
		RolloutTimeout:  cfg.Kube.RolloutTimeout,
	})

	eng := engine.NewEngine(s, runner, engine.Config{
		MaxConcurrentRuns: cfg.Engine.MaxConcurrentRuns,
	}, logger)

	janitor := workers.NewJanitor(s, d, workers.JanitorConfig{
		Interval:  cfg.Retention.Interval,
		Retention: cfg.Retention.Window,
	}, logger)

	notifier := workers.NewNotifier(s, workers.NotifierConfig{
		WebhookURL: cfg.Notify.WebhookURL,
		Interval:   cfg.Notify.Interval,
		BatchSize:  cfg.Notify.BatchSize,
	}, logger)

	handler := api.NewHandler(s, eng, d, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      s,
		docker:     d,
		engine:     eng,
		janitor:    janitor,
		notifier:   notifier,
		logger:     logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start the run engine and background workers
	s.engine.Start()
	s.janitor.Start()
	s.notifier.Start()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown HTTP server first so no new runs are accepted
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop the engine; in-flight runs record their cancelled state
	s.engine.Stop()

	// Stop background workers
	s.notifier.Stop()
	s.janitor.Stop()

	// Close Docker client
	if err := s.docker.Close(); err != nil {
		s.logger.Error("Docker client close error", "error", err)
	}

	// Close database
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
