// Package app assembles the search pipeline (request queues, backend
// clients, adapters, registry and aggregator) from configuration. The server
// and the CLI share it so both run the same wiring.
package app

import (
	"github.com/rs/zerolog"

	"github.com/helixir/research-aggregation-service/internal/aggregator"
	"github.com/helixir/research-aggregation-service/internal/config"
	"github.com/helixir/research-aggregation-service/internal/domain"
	"github.com/helixir/research-aggregation-service/internal/observability"
	"github.com/helixir/research-aggregation-service/internal/papersources"
	"github.com/helixir/research-aggregation-service/internal/papersources/arxiv"
	"github.com/helixir/research-aggregation-service/internal/papersources/pubmed"
	"github.com/helixir/research-aggregation-service/internal/papersources/tavily"
)

// pubmedUserAgent identifies the service to NCBI, which asks for a contact.
const pubmedUserAgent = papersources.DefaultUserAgent + " (mailto:support@helixir.io)"

// App holds the assembled pipeline.
type App struct {
	Registry   *papersources.Registry
	Aggregator *aggregator.Aggregator
	logger     zerolog.Logger
}

// New wires every configured source and the aggregator. metrics may be nil.
func New(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) *App {
	registry := papersources.NewRegistry()
	RegisterSources(registry, cfg.Sources, logger, metrics)

	agg := aggregator.New(registry,
		aggregator.WithLogger(logger),
		aggregator.WithMetrics(metrics),
		aggregator.WithAdapterTimeout(cfg.Aggregator.AdapterTimeout),
	)

	return &App{
		Registry:   registry,
		Aggregator: agg,
		logger:     logger,
	}
}

// DefaultSources returns the configured default selection.
func DefaultSources(cfg *config.Config) domain.EnabledSources {
	return cfg.Aggregator.DefaultSources.Enabled()
}

// Close discards requests still waiting in any source queue. Their callers
// receive domain.ErrQueueCleared.
func (a *App) Close() {
	if n := a.Registry.ClearQueues(); n > 0 {
		a.logger.Warn().Int("discarded", n).Msg("cleared pending source requests")
	}
}

// RegisterSources registers an adapter and request queue for every enabled
// source. Tavily without an API key is registered but reports disabled, so
// searches skip it.
func RegisterSources(registry *papersources.Registry, cfg config.SourcesConfig, logger zerolog.Logger, metrics *observability.Metrics) {
	// PubMed.
	if cfg.PubMed.Enabled {
		httpClient, queue := newSourceHTTPClient("pubmed", cfg.PubMed, pubmedUserAgent, logger, metrics)
		client := pubmed.NewWithHTTPClient(pubmed.Config{
			BaseURL:     cfg.PubMed.BaseURL,
			APIKey:      cfg.PubMed.APIKey,
			Timeout:     cfg.PubMed.Timeout,
			MaxResults:  cfg.PubMed.MaxResults,
			BoostRecent: cfg.PubMed.BoostRecent,
			Enabled:     true,
		}, httpClient)
		register(registry, client, queue, logger, metrics)
		logger.Info().
			Int("rate_limit", queue.RateLimit()).
			Msg("registered source: PubMed")
	}

	// arXiv.
	if cfg.ArXiv.Enabled {
		httpClient, queue := newSourceHTTPClient("arxiv", cfg.ArXiv, papersources.DefaultUserAgent, logger, metrics)
		client := arxiv.NewWithHTTPClient(arxiv.Config{
			BaseURL:    cfg.ArXiv.BaseURL,
			Timeout:    cfg.ArXiv.Timeout,
			MaxResults: cfg.ArXiv.MaxResults,
			Enabled:    true,
		}, httpClient)
		register(registry, client, queue, logger, metrics)
		logger.Info().
			Int("rate_limit", queue.RateLimit()).
			Msg("registered source: arXiv")
	}

	// Tavily.
	if cfg.Tavily.Enabled {
		httpClient, queue := newSourceHTTPClient("tavily", cfg.Tavily, papersources.DefaultUserAgent, logger, metrics)
		client := tavily.NewWithHTTPClient(tavily.Config{
			BaseURL:    cfg.Tavily.BaseURL,
			APIKey:     cfg.Tavily.APIKey,
			Timeout:    cfg.Tavily.Timeout,
			MaxResults: cfg.Tavily.MaxResults,
			Enabled:    true,
		}, httpClient)
		register(registry, client, queue, logger, metrics)
		if !client.IsEnabled() {
			logger.Warn().Msg("Tavily API key not set, web source disabled")
		} else {
			logger.Info().Msg("registered source: Tavily")
		}
	}
}

// newSourceHTTPClient builds a source's dedicated queue and the HTTP client
// that sends every attempt through it.
func newSourceHTTPClient(
	name string,
	sc config.SourceConfig,
	userAgent string,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) (*papersources.HTTPClient, *papersources.RequestQueue) {
	queue := papersources.NewRequestQueue(name, papersources.QueueConfig{
		RequestsPerWindow: sc.EffectiveRateLimit(),
		Window:            sc.RateWindow,
		RequestDelay:      sc.RequestDelay,
	},
		papersources.WithQueueLogger(logger),
		papersources.WithQueueMetrics(metrics),
	)

	sourceLogger := logger.With().Str("source", name).Logger()
	maxRetries := sc.MaxRetries
	if maxRetries == 0 {
		// Zero in config means no retries; the client treats 0 as its default.
		maxRetries = -1
	}

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:     name,
		Timeout:    sc.Timeout,
		Queue:      queue,
		MaxRetries: maxRetries,
		UserAgent:  userAgent,
		Logger:     &sourceLogger,
		Metrics:    metrics,
	})
	return httpClient, queue
}

func register(
	registry *papersources.Registry,
	source papersources.Source,
	queue *papersources.RequestQueue,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) {
	registry.RegisterQueue(queue)
	registry.Register(papersources.NewAdapter(source,
		papersources.WithAdapterLogger(logger),
		papersources.WithAdapterMetrics(metrics),
	))
}
