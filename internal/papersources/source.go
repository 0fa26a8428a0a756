package papersources

import (
	"context"
	"time"

	"github.com/helixir/research-aggregation-service/internal/domain"
)

// SearchParams defines the parameters for a backend search.
type SearchParams struct {
	// Query is the free-text search query (required).
	// Each backend sanitizes it for its own query syntax.
	Query string

	// MaxResults limits the number of records requested from the backend.
	// A value of 0 uses the source's configured default.
	MaxResults int

	// Priority orders this search's HTTP attempts within the backend's
	// request queue. Higher runs first.
	Priority int
}

// SearchResult contains the records returned by one backend search.
type SearchResult struct {
	// Records holds the normalized records in backend relevance order.
	// May be empty if nothing matched.
	Records []domain.Record

	// TotalResults is the backend's reported total match count, if known.
	TotalResults int

	// Source identifies which source produced these results.
	Source domain.SourceTag

	// SearchDuration is the time taken to execute the search,
	// including queueing, network latency and parsing.
	SearchDuration time.Duration
}

// Source is implemented by every backend client (PubMed, arXiv, Tavily).
// Clients return errors; Adapter turns them into the never-failing
// Fetch contract the aggregator relies on.
type Source interface {
	// Search queries the backend and normalizes the response into records.
	//
	// Implementations should:
	//   - Respect context cancellation
	//   - Route HTTP attempts through the backend's RequestQueue
	//   - Wrap errors with source context
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// SourceType returns the tag stamped on every record from this source.
	SourceType() domain.SourceTag

	// Name returns a human-readable name for logging and metrics.
	Name() string

	// IsEnabled reports whether the source is configured and switched on.
	// A source without a required API key reports false.
	IsEnabled() bool
}
