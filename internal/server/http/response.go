package httpserver

import (
	"github.com/helixir/research-aggregation-service/internal/aggregator"
	"github.com/helixir/research-aggregation-service/internal/domain"
)

// Response types for JSON serialization.

type searchResponse struct {
	RequestID   string               `json:"request_id"`
	Results     []domain.Record      `json:"results"`
	SourceStats domain.SourceStats   `json:"source_stats"`
	Statistics  aggregator.Statistics `json:"statistics"`
}

type readinessResponse struct {
	Status  string         `json:"status"`
	Sources []string       `json:"sources"`
	Queues  map[string]int `json:"queues"`
}

// toSearchResponse builds the response body. Statistics cover the full ranked
// list; source_filter and top narrow the returned results only.
func toSearchResponse(requestID string, resp *aggregator.SearchResponse, sourceFilter string, top int) searchResponse {
	results := resp.Results
	if sourceFilter != "" {
		results = aggregator.FilterBySource(results, domain.SourceTag(sourceFilter))
	}
	results = aggregator.TopResults(results, top)
	if results == nil {
		results = []domain.Record{}
	}

	return searchResponse{
		RequestID:   requestID,
		Results:     results,
		SourceStats: resp.SourceStats,
		Statistics:  aggregator.ComputeStatistics(resp.Results),
	}
}
