// Package server runs the Folio HTTP API and the import pipeline behind it.
// Starting the server opens the SQLite store, initializes the task queue,
// and spins up the scheduler workers; shutting down stops the workers and
// closes the store.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/folio/internal/api"
	"github.com/jackzampolin/folio/internal/assistant"
	"github.com/jackzampolin/folio/internal/config"
	"github.com/jackzampolin/folio/internal/driver"
	"github.com/jackzampolin/folio/internal/scheduler"
	"github.com/jackzampolin/folio/internal/server/endpoints"
	"github.com/jackzampolin/folio/internal/store"
	"github.com/jackzampolin/folio/internal/svcctx"
)

// Server is the main Folio HTTP server.
type Server struct {
	httpServer *http.Server
	configMgr  *config.Manager
	logger     *slog.Logger

	store     *store.Store
	queue     *scheduler.Queue
	assistant assistant.Client

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8399)
	Port string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// AssistantClient overrides the client built from config (tests)
	AssistantClient assistant.Client
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8399"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		assistant: cfg.AssistantClient,
		logger:    cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the server, the store, and the scheduler workers.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	appCfg := s.configMgr.Get()

	// Open the store
	s.logger.Info("opening store", "path", appCfg.Database.Path)
	st, err := store.Open(appCfg.Database.Path)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to open store: %w", err)
	}
	s.store = st

	// Initialize the task queue in the same database
	queue, err := scheduler.NewQueue(st.DB())
	if err != nil {
		_ = st.Close()
		s.setNotRunning()
		return fmt.Errorf("failed to initialize task queue: %w", err)
	}
	s.queue = queue

	// Requeue items stranded by a crash or mid-unit shutdown before the
	// workers start draining.
	requeued, err := scheduler.Recover(ctx, st, queue, s.logger)
	if err != nil {
		_ = st.Close()
		s.setNotRunning()
		return fmt.Errorf("failed to recover stranded work units: %w", err)
	}
	if requeued > 0 {
		s.logger.Info("recovered stranded work units", "count", requeued)
	}

	// Build the assistant client unless one was injected
	if s.assistant == nil {
		s.assistant = assistant.NewOpenAIClient(assistant.OpenAIConfig{
			APIKey:     config.ResolveEnvVars(appCfg.Assistant.APIKey),
			BaseURL:    appCfg.Assistant.BaseURL,
			MaxRetries: appCfg.Assistant.MaxRetries,
			Timeout:    time.Duration(appCfg.Assistant.TimeoutSeconds) * time.Second,
		})
	}

	// Wire the driver and workers
	drv := driver.New(driver.Config{
		Store:        st,
		Client:       s.assistant,
		Scheduler:    queue,
		Logger:       s.logger,
		AssistantID:  appCfg.Assistant.AssistantID,
		PollInterval: appCfg.Scheduler.PollInterval(),
		StageDelay:   appCfg.Scheduler.StageDelay(),
	})

	workerCount := appCfg.Scheduler.Workers
	if workerCount <= 0 {
		workerCount = 1
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		worker := scheduler.NewWorker(scheduler.WorkerConfig{
			Store:             st,
			Driver:            drv,
			Queue:             queue,
			Logger:            s.logger,
			MaxRetries:        appCfg.Scheduler.MaxRetries,
			TransportAttempts: appCfg.Scheduler.TransportAttempts,
			RetryDelay:        appCfg.Scheduler.RetryDelay(),
			TransportBackoff:  appCfg.Scheduler.TransportBackoff(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := worker.Run(workerCtx); err != nil {
				s.logger.Error("worker stopped", "error", err)
			}
		}()
	}
	s.logger.Info("scheduler workers started", "workers", workerCount)

	// Create services struct for context enrichment
	s.services = &svcctx.Services{
		Store:     st,
		Queue:     queue,
		Assistant: s.assistant,
		Config:    s.configMgr,
		Logger:    s.logger,
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("HTTP server error: %w", err)
		}
	}

	stopWorkers()
	wg.Wait()

	if err := s.shutdown(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// shutdown performs graceful shutdown of the HTTP server and the store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("store close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Store returns the store. Nil until the server has started.
func (s *Server) Store() *store.Store {
	return s.store
}

// Queue returns the task queue. Nil until the server has started.
func (s *Server) Queue() *scheduler.Queue {
	return s.queue
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the store and queue are ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil || s.queue == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
