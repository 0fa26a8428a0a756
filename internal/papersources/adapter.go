package papersources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-aggregation-service/internal/domain"
	"github.com/helixir/research-aggregation-service/internal/observability"
)

// Fetch outcomes used as metric labels.
const (
	OutcomeSuccess  = "success"
	OutcomeEmpty    = "empty"
	OutcomeFailed   = "failed"
	OutcomeDisabled = "disabled"
	OutcomeTimeout  = "timeout"
)

// AdapterOption customizes an Adapter.
type AdapterOption func(*Adapter)

// WithAdapterLogger sets the logger used to report fetch failures.
func WithAdapterLogger(logger zerolog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithAdapterMetrics sets the metrics sink for fetch outcomes.
func WithAdapterMetrics(m *observability.Metrics) AdapterOption {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// WithAdapterClock overrides the clock used for the year fallback.
func WithAdapterClock(now func() time.Time) AdapterOption {
	return func(a *Adapter) {
		a.now = now
	}
}

// WithAdapterPriority sets the queue priority of this adapter's requests.
func WithAdapterPriority(priority int) AdapterOption {
	return func(a *Adapter) {
		a.priority = priority
	}
}

// Adapter wraps a Source with the contract the aggregator relies on:
// Fetch never returns an error and never panics. Every failure, a disabled
// source, or a backend that found nothing all yield an empty slice.
type Adapter struct {
	source   Source
	logger   zerolog.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	priority int
}

// NewAdapter creates an Adapter around source.
func NewAdapter(source Source, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		source: source,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With().
		Str("component", "adapter").
		Str("source", source.SourceType().String()).
		Logger()
	return a
}

// SourceType returns the tag of the wrapped source.
func (a *Adapter) SourceType() domain.SourceTag {
	return a.source.SourceType()
}

// Name returns the wrapped source's display name.
func (a *Adapter) Name() string {
	return a.source.Name()
}

// IsEnabled reports whether the wrapped source is switched on.
func (a *Adapter) IsEnabled() bool {
	return a.source.IsEnabled()
}

// Fetch searches the wrapped source and returns at most maxResults records
// with non-empty titles, each stamped with the adapter's source tag and base
// score. It returns an empty, non-nil slice on any failure.
func (a *Adapter) Fetch(ctx context.Context, query string, maxResults int) (records []domain.Record) {
	tag := a.source.SourceType()
	logger := observability.WithSearchContext(observability.LoggerFromContext(ctx, a.logger), query, tag.String())
	start := time.Now()
	outcome := OutcomeSuccess

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Msg("source adapter panicked")
			records = []domain.Record{}
			outcome = OutcomeFailed
		}
		if a.metrics != nil {
			a.metrics.RecordSourceFetch(tag.String(), outcome, len(records), time.Since(start).Seconds())
		}
	}()

	if maxResults <= 0 {
		outcome = OutcomeEmpty
		return []domain.Record{}
	}
	if !a.source.IsEnabled() {
		logger.Debug().Msg("source disabled, skipping")
		outcome = OutcomeDisabled
		return []domain.Record{}
	}

	result, err := a.source.Search(ctx, SearchParams{
		Query:      query,
		MaxResults: maxResults,
		Priority:   a.priority,
	})
	if err != nil {
		outcome = classifyFetchError(err)
		logger.Warn().
			Err(err).
			Str("outcome", outcome).
			Dur("elapsed", time.Since(start)).
			Msg("source search failed")
		return []domain.Record{}
	}
	if result == nil {
		outcome = OutcomeEmpty
		return []domain.Record{}
	}

	records = a.normalize(result.Records, maxResults)
	if len(records) == 0 {
		outcome = OutcomeEmpty
		logger.Info().Msg("source returned no results")
		return records
	}

	logger.Debug().
		Int("records", len(records)).
		Dur("elapsed", time.Since(start)).
		Msg("source search completed")
	return records
}

// normalize stamps source, base score and year on raw source records.
func (a *Adapter) normalize(raw []domain.Record, maxResults int) []domain.Record {
	tag := a.source.SourceType()
	base := domain.BaseScore(tag)
	now := a.now()

	out := make([]domain.Record, 0, min(len(raw), maxResults))
	for _, r := range raw {
		if len(out) == maxResults {
			break
		}
		r = r.Clone()
		r.Title = strings.TrimSpace(r.Title)
		if r.Title == "" {
			continue
		}
		r.Source = tag
		r.RelevanceScore = base
		r.Year = domain.YearOrCurrent(r.Year, now)
		if r.ID == "" {
			nativeID := r.URL
			if nativeID == "" {
				nativeID = fmt.Sprintf("%s#%d", r.Title, len(out))
			}
			r.ID = domain.NewRecordID(tag, nativeID)
		}
		out = append(out, r)
	}
	return out
}

func classifyFetchError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, domain.ErrSourceDisabled):
		return OutcomeDisabled
	default:
		return OutcomeFailed
	}
}
