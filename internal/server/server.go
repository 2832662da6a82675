package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/inferoute/inferoute/internal/cache"
	"github.com/inferoute/inferoute/internal/observability"
	"github.com/inferoute/inferoute/internal/providers"
	"github.com/inferoute/inferoute/internal/router"
	"go.uber.org/zap"
)

// ProviderSpec configures one provider: its static descriptor plus the
// transport settings for the concrete adapter type.
type ProviderSpec struct {
	Type       string               `mapstructure:"type"` // openai, anthropic, ollama
	Enabled    bool                 `mapstructure:"enabled"`
	Descriptor providers.Descriptor `mapstructure:"descriptor"`
	Transport  providers.Config     `mapstructure:"transport"`
}

// Config holds the full service configuration.
type Config struct {
	Server struct {
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	// Provider order in the config is registration order, which is the
	// deterministic tie break in scoring.
	Providers []ProviderSpec `mapstructure:"providers"`

	Router router.Config `mapstructure:"router"`

	// DefaultEnvironment is assumed for requests that do not declare one.
	DefaultEnvironment string `mapstructure:"default_environment"`

	Cache cache.Config `mapstructure:"cache"`

	Observability struct {
		Logging observability.LoggerConfig  `mapstructure:"logging"`
		Metrics observability.MetricsConfig `mapstructure:"metrics"`
		Tracing observability.TracingConfig `mapstructure:"tracing"`
	} `mapstructure:"observability"`
}

// Server is the HTTP surface over the routing core.
type Server struct {
	config    *Config
	mux       *chi.Mux
	rtr       *router.Router
	cache     cache.CompletionCache
	logger    *zap.Logger
	metrics   *observability.Metrics
	tracing   *observability.Tracing
	server    *http.Server
	startedAt time.Time
}

// NewServer wires logger, metrics, tracing, cache, the router, and every
// enabled provider from configuration.
func NewServer(config *Config) (*Server, error) {
	logger, err := observability.NewLogger(config.Observability.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	metrics, err := observability.NewMetrics(config.Observability.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	tracing := observability.NewTracing(config.Observability.Tracing, logger)

	rtr := router.New(config.Router, logger)
	for _, spec := range config.Providers {
		if !spec.Enabled {
			continue
		}
		adapter, err := buildAdapter(spec)
		if err != nil {
			return nil, err
		}
		if err := rtr.RegisterProvider(spec.Descriptor, adapter); err != nil {
			return nil, err
		}
	}

	s := &Server{
		config:    config,
		mux:       chi.NewRouter(),
		rtr:       rtr,
		cache:     cache.NewMemoryCache(config.Cache),
		logger:    logger,
		metrics:   metrics,
		tracing:   tracing,
		startedAt: time.Now(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      s.mux,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}
	return s, nil
}

// buildAdapter constructs the concrete adapter for a provider spec.
func buildAdapter(spec ProviderSpec) (providers.Adapter, error) {
	switch spec.Type {
	case "openai":
		return providers.NewOpenAIAdapter(spec.Descriptor, spec.Transport), nil
	case "anthropic":
		return providers.NewAnthropicAdapter(spec.Descriptor, spec.Transport), nil
	case "ollama":
		return providers.NewOllamaAdapter(spec.Descriptor, spec.Transport), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q for %s", spec.Type, spec.Descriptor.ID)
	}
}

func (s *Server) setupRoutes() {
	s.mux.Use(middleware.RequestID)
	s.mux.Use(middleware.RealIP)
	s.mux.Use(middleware.Recoverer)
	s.mux.Use(s.observabilityMiddleware)
	s.mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.mux.Get("/health", s.handleHealth)

	s.mux.Route("/v1", func(r chi.Router) {
		r.Post("/complete", s.handleComplete)
		r.Get("/stats", s.handleStats)
		r.Get("/providers", s.handleProviders)
	})

	s.mux.Route("/admin", func(r chi.Router) {
		r.Get("/mode", s.handleGetMode)
		r.Put("/mode", s.handleSetMode)
		r.Post("/providers/{id}/enable", s.handleEnableProvider)
		r.Post("/providers/{id}/disable", s.handleDisableProvider)
	})
}

// observabilityMiddleware traces and measures every request.
func (s *Server) observabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, span := s.tracing.StartSpan(r.Context(), "http_request")
		defer span.End()
		s.tracing.SetAttributes(ctx, map[string]string{
			"http.method": r.Method,
			"http.url":    r.URL.String(),
		})

		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, wrapped.Status(), time.Since(start))
	})
}

// Start begins accepting requests and serves metrics if enabled.
func (s *Server) Start() error {
	if s.config.Observability.Metrics.Enabled {
		go func() {
			if err := s.metrics.StartMetricsServer(context.Background()); err != nil {
				s.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	s.logger.Info("Starting inferoute server",
		zap.Int("port", s.config.Server.Port),
		zap.Int("providers", len(s.config.Providers)))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the server, the router's adapters, and the
// cache.
func (s *Server) Stop() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", zap.Error(err))
		return err
	}
	if err := s.rtr.Close(); err != nil {
		s.logger.Error("Error closing providers", zap.Error(err))
	}
	if err := s.cache.Close(); err != nil {
		s.logger.Error("Error closing cache", zap.Error(err))
	}

	observability.SyncLogger(s.logger)
	s.logger.Info("Server stopped")
	return nil
}

// WaitForShutdown blocks until an interrupt arrives, then stops the server.
func (s *Server) WaitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	s.logger.Info("Received shutdown signal")
	_ = s.Stop()
}

// Mux returns the chi router, used by handler tests.
func (s *Server) Mux() *chi.Mux {
	return s.mux
}

// RoutingCore returns the router, used by tests to seed state.
func (s *Server) RoutingCore() *router.Router {
	return s.rtr
}
