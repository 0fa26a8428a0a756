package aggregator

import (
	"github.com/helixir/research-aggregation-service/internal/domain"
)

// Statistics summarizes a result list.
type Statistics struct {
	Total        int            `json:"total"`
	BySource     map[string]int `json:"bySource"`
	ByYear       map[string]int `json:"byYear"`
	AverageScore float64        `json:"averageScore"`
}

// TopResults returns the first n records of an already ranked list.
// A non-positive n or one past the end returns the whole list.
func TopResults(results []domain.Record, n int) []domain.Record {
	if n <= 0 || n >= len(results) {
		return results
	}
	return results[:n]
}

// FilterBySource returns the records from one source, preserving order.
func FilterBySource(results []domain.Record, source domain.SourceTag) []domain.Record {
	filtered := make([]domain.Record, 0, len(results))
	for _, r := range results {
		if r.Source == source {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// ComputeStatistics counts records by source and year and averages their
// scores. The average of an empty list is 0.
func ComputeStatistics(results []domain.Record) Statistics {
	stats := Statistics{
		Total:    len(results),
		BySource: make(map[string]int),
		ByYear:   make(map[string]int),
	}
	if len(results) == 0 {
		return stats
	}

	var sum float64
	for _, r := range results {
		stats.BySource[r.Source.String()]++
		stats.ByYear[r.Year]++
		sum += r.RelevanceScore
	}
	stats.AverageScore = sum / float64(len(results))
	return stats
}
