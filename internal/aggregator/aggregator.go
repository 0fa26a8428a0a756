// Package aggregator fans a query out to the enabled research sources,
// merges their records, removes cross-source duplicates and ranks the result.
package aggregator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/iter"

	"github.com/helixir/research-aggregation-service/internal/dedup"
	"github.com/helixir/research-aggregation-service/internal/domain"
	"github.com/helixir/research-aggregation-service/internal/observability"
	"github.com/helixir/research-aggregation-service/internal/papersources"
)

const (
	// DefaultAdapterTimeout bounds each source's share of a search.
	DefaultAdapterTimeout = 30 * time.Second

	// SimilarityThreshold is the title Jaccard similarity at or above which
	// two records are the same work.
	SimilarityThreshold = dedup.DefaultSimilarityThreshold
)

// SearchResponse is the outcome of one SearchAll call.
type SearchResponse struct {
	// Results are the deduplicated records, best first.
	Results []domain.Record `json:"results"`

	// SourceStats counts the records each source contributed before deduplication.
	SourceStats domain.SourceStats `json:"sourceStats"`

	// DuplicatesRemoved is the number of records dropped as duplicates.
	DuplicatesRemoved int `json:"-"`
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger.With().Str("component", "aggregator").Logger()
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// WithAdapterTimeout sets the per-source deadline. Zero disables it.
func WithAdapterTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		a.adapterTimeout = d
	}
}

// WithClock overrides the clock used for the recency bonus.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// Aggregator orchestrates searches across the registered source adapters.
// It holds no per-search state and is safe for concurrent use.
type Aggregator struct {
	registry       *papersources.Registry
	logger         zerolog.Logger
	metrics        *observability.Metrics
	adapterTimeout time.Duration
	now            func() time.Time
}

// New creates an Aggregator over the adapters in registry.
func New(registry *papersources.Registry, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry:       registry,
		logger:         zerolog.Nop(),
		adapterTimeout: DefaultAdapterTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SearchAll queries every enabled source concurrently and returns one
// deduplicated, ranked list.
//
// Source failures never surface as errors: a failing, slow or disabled source
// contributes no records. The only errors are for invalid input: an empty
// query, a non-positive maxPerSource (domain.ErrInvalidInput) or no enabled
// source (domain.ErrNoSourcesEnabled). Callers that want the web fallback
// must apply it before calling.
func (a *Aggregator) SearchAll(ctx context.Context, query string, sources domain.EnabledSources, maxPerSource int) (*SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}
	if maxPerSource <= 0 {
		return nil, domain.NewValidationError("maxPerSource", fmt.Sprintf("must be positive, got %d", maxPerSource))
	}
	if !sources.Any() {
		return nil, domain.ErrNoSourcesEnabled
	}

	start := time.Now()
	ctx = observability.WithQuery(ctx, query)
	logger := observability.LoggerFromContext(ctx, a.logger)
	if a.metrics != nil {
		a.metrics.RecordSearchStarted()
	}

	tags := sources.Tags()
	logger.Info().
		Strs("sources", tagStrings(tags)).
		Int("max_per_source", maxPerSource).
		Msg("search started")

	// Slots are indexed by canonical tag order, so concatenation order does
	// not depend on which source answers first.
	mapper := iter.Mapper[domain.SourceTag, []domain.Record]{MaxGoroutines: len(tags)}
	batches := mapper.Map(tags, func(tag *domain.SourceTag) []domain.Record {
		return a.fetch(ctx, logger, *tag, query, maxPerSource)
	})

	var stats domain.SourceStats
	combined := make([]domain.Record, 0, len(tags)*maxPerSource)
	for i, tag := range tags {
		stats.Set(tag, len(batches[i]))
		combined = append(combined, batches[i]...)
	}

	unique, removed := Deduplicate(combined)
	ranked := Rank(unique, query, a.now())

	duration := time.Since(start)
	if a.metrics != nil {
		a.metrics.RecordSearchCompleted(len(ranked), removed, duration.Seconds())
	}

	event := logger.Info()
	if len(ranked) == 0 {
		event = logger.Warn()
	}
	event.
		Int("results", len(ranked)).
		Int("literature", stats.Literature).
		Int("preprint", stats.Preprint).
		Int("web", stats.Web).
		Int("duplicates_removed", removed).
		Dur("duration", duration).
		Msg("search completed")

	return &SearchResponse{
		Results:           ranked,
		SourceStats:       stats,
		DuplicatesRemoved: removed,
	}, nil
}

// fetch runs one source under the adapter timeout. It cannot fail.
func (a *Aggregator) fetch(ctx context.Context, logger zerolog.Logger, tag domain.SourceTag, query string, maxPerSource int) []domain.Record {
	adapter := a.registry.Get(tag)
	if adapter == nil {
		logger.Debug().Str("source", tag.String()).Msg("no adapter registered for source")
		return []domain.Record{}
	}

	if a.adapterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.adapterTimeout)
		defer cancel()
	}

	records := adapter.Fetch(ctx, query, maxPerSource)
	if ctx.Err() == context.DeadlineExceeded {
		logger.Warn().
			Str("source", tag.String()).
			Dur("timeout", a.adapterTimeout).
			Int("records", len(records)).
			Msg("source exceeded adapter timeout")
	}
	return records
}

// Deduplicate drops records whose normalized title equals, or has a word-set
// Jaccard similarity of at least SimilarityThreshold with, an earlier
// record's title. The first occurrence wins. It returns the kept records and
// the number removed.
func Deduplicate(records []domain.Record) ([]domain.Record, int) {
	return dedup.Deduplicate(records, dedup.CheckerConfig{SimilarityThreshold: SimilarityThreshold})
}

func tagStrings(tags []domain.SourceTag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}
