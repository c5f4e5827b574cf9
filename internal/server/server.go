// Package server assembles and runs the scanforge HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"

	"github.com/scanforge/scanforge/internal/api"
	"github.com/scanforge/scanforge/internal/config"
	"github.com/scanforge/scanforge/internal/coord"
	"github.com/scanforge/scanforge/internal/document"
	"github.com/scanforge/scanforge/internal/home"
	"github.com/scanforge/scanforge/internal/ingest"
	"github.com/scanforge/scanforge/internal/ledger"
	"github.com/scanforge/scanforge/internal/lock"
	"github.com/scanforge/scanforge/internal/pipeline"
	"github.com/scanforge/scanforge/internal/providers"
	"github.com/scanforge/scanforge/internal/ratelimit"
	"github.com/scanforge/scanforge/internal/server/endpoints"
	"github.com/scanforge/scanforge/internal/split"
	"github.com/scanforge/scanforge/internal/store"
	"github.com/scanforge/scanforge/internal/svcctx"
	"github.com/scanforge/scanforge/internal/watch"
	"github.com/scanforge/scanforge/internal/worker"
)

// Server is the main scanforge HTTP server. It owns the document store,
// chunk ledger, coordination store, provider registry, and pipeline
// coordinator, and serves the document API over HTTP.
type Server struct {
	httpServer  *http.Server
	configMgr   *config.Manager
	registry    *providers.Registry
	coordinator *pipeline.Coordinator
	watcher     *watch.Watcher
	logger      *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	// closers releases external clients on shutdown
	closers []func() error

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Home is the scanforge home directory.
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support.
	ConfigManager *config.Manager
	// Logger is the structured logger to use.
	Logger *slog.Logger
	// Provider overrides the configured default OCR provider when set.
	Provider string
	// Host and Port override the configured listen address when set.
	Host string
	Port int
	// Watch force-enables the inbox watcher regardless of config.
	Watch bool
}

// New creates a new Server with the given configuration.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		return nil, errors.New("home directory is required")
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}

	c := cfg.ConfigManager.Get()

	s := &Server{
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
	}

	// Shared backends: Firestore when configured, process memory otherwise.
	var (
		docs       document.Store
		led        ledger.Ledger
		coordStore coord.Store
	)
	if c.Firestore.Enabled {
		fsClient, err := firestore.NewClient(ctx, c.Firestore.Project)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		s.closers = append(s.closers, fsClient.Close)
		docs = document.NewFirestoreStore(fsClient, c.Firestore.DocumentCollection)
		led = ledger.NewFirestoreLedger(fsClient, c.Firestore.LedgerCollection)
		coordStore = coord.NewFirestoreStore(fsClient, c.Firestore.CoordCollection)
		cfg.Logger.Info("using firestore backend", "project", c.Firestore.Project)
	} else {
		docs = document.NewMemoryStore()
		led = ledger.NewMemoryLedger()
		coordStore = coord.NewMemoryStore()
	}

	// Result store: GCS when configured, home directory otherwise.
	var results store.ResultStore
	if c.GCS.Enabled {
		gcsClient, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		s.closers = append(s.closers, gcsClient.Close)
		results = store.NewGCSStore(gcsClient, c.GCS.Bucket, c.GCS.Prefix, cfg.Logger)
		cfg.Logger.Info("using gcs result store", "bucket", c.GCS.Bucket)
	} else {
		fileStore, err := store.NewFileStore(cfg.Home.ResultsPath(), cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create result store: %w", err)
		}
		results = fileStore
	}

	// Provider registry from config.
	s.registry = buildRegistry(c, cfg.Logger)
	providerName := cfg.Provider
	if providerName == "" {
		providerName = c.Providers.Default
	}
	provider, err := s.registry.Get(providerName)
	if err != nil {
		return nil, fmt.Errorf("ocr provider: %w", err)
	}
	cfg.Logger.Info("ocr provider selected", "provider", provider.Name())

	limiter := ratelimit.New(coordStore, ratelimit.Config{
		Key:    "ocr/" + provider.Name(),
		Limit:  c.RateLimit.Limit,
		Window: c.RateLimit.Window,
	})

	w := worker.New(led, lock.NewManager(coordStore), limiter, results,
		ingest.NewPages(cfg.Home), provider, cfg.Logger, worker.Config{
			ChunkTimeout:  c.Pipeline.ChunkTimeout,
			RateLimitWait: c.RateLimit.Wait,
		})

	s.coordinator = pipeline.New(docs, led, w, results, cfg.Logger, pipeline.Config{
		Split: split.Options{
			TargetPages: c.Pipeline.TargetPages,
			MinPages:    c.Pipeline.MinPages,
		},
		MaxRetries:        c.Pipeline.MaxRetries,
		WorkerCount:       c.Pipeline.WorkerCount,
		StaleThreshold:    c.Pipeline.StaleThreshold,
		ReconcileInterval: c.Pipeline.ReconcileInterval,
		DocumentDeadline:  c.Pipeline.DocumentDeadline,
	})

	s.services = &svcctx.Services{
		Documents:   docs,
		Ledger:      led,
		Coordinator: s.coordinator,
		Registry:    s.registry,
		Results:     results,
		Config:      cfg.ConfigManager,
		Logger:      cfg.Logger,
		Home:        cfg.Home,
	}

	if c.Watch.Enabled || cfg.Watch {
		s.watcher = watch.New(cfg.Home, docs, s.coordinator, cfg.Logger)
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	host := c.Server.Host
	if cfg.Host != "" {
		host = cfg.Host
	}
	port := c.Server.Port
	if cfg.Port != 0 {
		port = cfg.Port
	}

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// buildRegistry registers the configured OCR providers.
func buildRegistry(c *config.Config, logger *slog.Logger) *providers.Registry {
	registry := providers.NewRegistry()
	registry.SetLogger(logger)

	if c.Providers.Tesseract.Enabled {
		registry.Register(providers.NewTesseractProvider(providers.TesseractConfig{
			Language:      c.Providers.Tesseract.Language,
			MinConfidence: c.Providers.Tesseract.MinConfidence,
		}))
	}
	if c.Providers.OpenAI.Enabled {
		registry.Register(providers.NewOpenAIOCRClient(providers.OpenAIOCRConfig{
			Model:      c.Providers.OpenAI.Model,
			APIKey:     config.ResolveEnvVars(c.Providers.OpenAI.APIKey),
			BaseURL:    c.Providers.OpenAI.BaseURL,
			MaxRetries: c.Providers.OpenAI.MaxRetries,
		}))
	}
	if c.Providers.Default != "" {
		if err := registry.SetDefault(c.Providers.Default); err != nil {
			logger.Warn("configured default provider not registered", "provider", c.Providers.Default)
		}
	}
	return registry
}

// Start starts the server. It blocks until the context is cancelled or an
// error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	// Start the inbox watcher if configured
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			s.setNotRunning()
			return fmt.Errorf("failed to start inbox watcher: %w", err)
		}
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
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown performs graceful shutdown: stop accepting requests, wait for
// in-flight documents, release external clients.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.watcher != nil {
		s.watcher.Stop()
	}

	// Let submitted documents settle before closing backends.
	s.coordinator.Wait()

	for _, close := range s.closers {
		if err := close(); err != nil {
			s.logger.Error("backend close error", "error", err)
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

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Coordinator returns the pipeline coordinator.
func (s *Server) Coordinator() *pipeline.Coordinator {
	return s.coordinator
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
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
// Returns 503 Service Unavailable if the stores aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services == nil || s.coordinator == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
