package aggregator

import (
	"sort"
	"strings"
	"time"

	"github.com/helixir/research-aggregation-service/internal/domain"
)

// Ranking weights.
const (
	TitleMatchWeight    = 0.3
	AbstractMatchWeight = 0.2
	RecencyBonus        = 0.1
	RecencyWindowYears  = 3
)

// QueryWords splits a query into the lower-cased words used for matching.
func QueryWords(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Score returns a copy of r with its final relevance score: the base score
// already on r, plus the title and abstract match bonuses, the recency bonus
// and the source-quality bonus. The score is not normalized.
func Score(r domain.Record, queryWords []string, now time.Time) domain.Record {
	out := r.Clone()
	out.RelevanceScore = r.RelevanceScore +
		TitleMatchWeight*matchFraction(strings.ToLower(r.Title), queryWords) +
		AbstractMatchWeight*matchFraction(strings.ToLower(r.Abstract), queryWords) +
		recencyBonus(r, now) +
		domain.QualityBonus(r.Source)
	return out
}

// Rank scores every record and sorts the copies by descending score.
// The order among equal scores is unspecified; the current implementation
// keeps their input order.
func Rank(records []domain.Record, query string, now time.Time) []domain.Record {
	words := QueryWords(query)
	ranked := make([]domain.Record, len(records))
	for i, r := range records {
		ranked[i] = Score(r, words, now)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RelevanceScore > ranked[j].RelevanceScore
	})
	return ranked
}

// matchFraction is the share of words that occur as substrings of text.
func matchFraction(text string, words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	matched := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			matched++
		}
	}
	return float64(matched) / float64(len(words))
}

// recencyBonus applies to records from the current year or the three before it.
func recencyBonus(r domain.Record, now time.Time) float64 {
	year, ok := r.YearInt()
	if !ok {
		return 0
	}
	age := now.Year() - year
	if age < 0 || age > RecencyWindowYears {
		return 0
	}
	return RecencyBonus
}
