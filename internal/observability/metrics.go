package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// MetricsConfig holds configuration for metrics collection.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Metrics exposes Prometheus metrics for the routing core.
type Metrics struct {
	config   MetricsConfig
	logger   *zap.Logger
	registry *prometheus.Registry
	exporter *otelprometheus.Exporter
	provider *metric.MeterProvider

	// HTTP surface
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Routing core
	completionsTotal     *prometheus.CounterVec
	attemptFailuresTotal *prometheus.CounterVec
	exclusionsTotal      *prometheus.CounterVec
	providerLatency      *prometheus.HistogramVec
	providerCostTotal    *prometheus.CounterVec
	providerTokensTotal  *prometheus.CounterVec
	quarantinedProviders *prometheus.GaugeVec

	// Completion cache
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
}

// NewMetrics creates and registers all metric families.
func NewMetrics(config MetricsConfig, logger *zap.Logger) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	provider := metric.NewMeterProvider(metric.WithReader(exporter))

	m := &Metrics{
		config:   config,
		logger:   logger,
		registry: registry,
		exporter: exporter,
		provider: provider,
	}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() error {
	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferoute_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferoute_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	m.completionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferoute_completions_total",
			Help: "Completion calls by serving provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	m.attemptFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferoute_attempt_failures_total",
			Help: "Failed provider attempts by failure kind",
		},
		[]string{"provider", "kind"},
	)

	m.exclusionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferoute_exclusions_total",
			Help: "Providers hard-excluded from candidate lists by reason",
		},
		[]string{"provider", "reason"},
	)

	m.providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferoute_provider_latency_seconds",
			Help:    "Provider invocation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	m.providerCostTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferoute_provider_cost_usd_total",
			Help: "Accumulated spend per provider in USD",
		},
		[]string{"provider"},
	)

	m.providerTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferoute_provider_tokens_total",
			Help: "Accumulated billed tokens per provider",
		},
		[]string{"provider"},
	)

	m.quarantinedProviders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inferoute_provider_quarantined",
			Help: "Whether the provider is currently quarantined (1) or not (0)",
		},
		[]string{"provider"},
	)

	m.cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inferoute_cache_hits_total",
		Help: "Completion cache hits",
	})

	m.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "inferoute_cache_misses_total",
		Help: "Completion cache misses",
	})

	collectors := []prometheus.Collector{
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.completionsTotal,
		m.attemptFailuresTotal,
		m.exclusionsTotal,
		m.providerLatency,
		m.providerCostTotal,
		m.providerTokensTotal,
		m.quarantinedProviders,
		m.cacheHits,
		m.cacheMisses,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCompletion records one finished Complete call.
func (m *Metrics) RecordCompletion(provider, outcome string) {
	m.completionsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordAttemptFailure records one failed provider attempt.
func (m *Metrics) RecordAttemptFailure(provider, kind string) {
	m.attemptFailuresTotal.WithLabelValues(provider, kind).Inc()
}

// RecordExclusion records one hard exclusion.
func (m *Metrics) RecordExclusion(provider, reason string) {
	m.exclusionsTotal.WithLabelValues(provider, reason).Inc()
}

// RecordProviderLatency records one invocation latency sample.
func (m *Metrics) RecordProviderLatency(provider string, duration time.Duration) {
	m.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordProviderUsage records billed tokens and cost.
func (m *Metrics) RecordProviderUsage(provider string, tokens int, cost float64) {
	if tokens > 0 {
		m.providerTokensTotal.WithLabelValues(provider).Add(float64(tokens))
	}
	if cost > 0 {
		m.providerCostTotal.WithLabelValues(provider).Add(cost)
	}
}

// RecordQuarantine sets the quarantine gauge for a provider.
func (m *Metrics) RecordQuarantine(provider string, quarantined bool) {
	value := 0.0
	if quarantined {
		value = 1.0
	}
	m.quarantinedProviders.WithLabelValues(provider).Set(value)
}

// RecordCacheHit records a completion cache hit.
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Inc()
}

// RecordCacheMiss records a completion cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Inc()
}

// GetRegistry returns the Prometheus registry.
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// StartMetricsServer serves the registry on its own port until ctx ends.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if !m.config.Enabled {
		m.logger.Info("Metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    ":" + strconv.Itoa(m.config.Port),
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	m.logger.Info("Metrics server started",
		zap.Int("port", m.config.Port),
		zap.String("path", m.config.Path))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("Error shutting down metrics server", zap.Error(err))
	}
	return nil
}
