package dedup

import "github.com/helixir/research-aggregation-service/internal/domain"

// DefaultSimilarityThreshold is the Jaccard similarity at or above which two
// titles are the same work.
const DefaultSimilarityThreshold = 0.9

// CheckerConfig holds the configuration for the duplicate checker.
type CheckerConfig struct {
	// SimilarityThreshold is the word-set Jaccard similarity at or above
	// which two titles are considered duplicates.
	// Defaults to DefaultSimilarityThreshold if zero.
	SimilarityThreshold float64
}

// CheckResult contains the result of a duplicate check for a single title.
type CheckResult struct {
	// IsDuplicate indicates whether the title matches an already kept title.
	IsDuplicate bool

	// DuplicateOf is the index of the kept title it matched. -1 if not a duplicate.
	DuplicateOf int

	// Score is the similarity of the match. Zero if not a duplicate.
	Score float64
}

type keptTitle struct {
	normalized string
	words      map[string]struct{}
}

// Checker remembers the titles kept so far and reports whether a new title
// duplicates one of them. Titles are compared in the order they are checked,
// so the first occurrence is the one kept.
//
// A Checker is not safe for concurrent use.
type Checker struct {
	cfg   CheckerConfig
	kept  []keptTitle
	exact map[string]int
}

// NewChecker creates an empty Checker.
func NewChecker(cfg CheckerConfig) *Checker {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	return &Checker{
		cfg:   cfg,
		exact: make(map[string]int),
	}
}

// Check compares title against every kept title. When it is not a duplicate
// it is kept, and later titles are compared against it too.
func (c *Checker) Check(title string) CheckResult {
	normalized := NormalizeTitle(title)

	if idx, ok := c.exact[normalized]; ok {
		return CheckResult{IsDuplicate: true, DuplicateOf: idx, Score: 1.0}
	}

	words := WordSet(normalized)
	for i, k := range c.kept {
		score := Jaccard(words, k.words)
		if score >= c.cfg.SimilarityThreshold {
			return CheckResult{IsDuplicate: true, DuplicateOf: i, Score: score}
		}
	}

	c.exact[normalized] = len(c.kept)
	c.kept = append(c.kept, keptTitle{normalized: normalized, words: words})
	return CheckResult{DuplicateOf: -1}
}

// Len returns the number of titles kept so far.
func (c *Checker) Len() int {
	return len(c.kept)
}

// Deduplicate returns the records whose titles do not duplicate an earlier
// record's title, in their original order, and the number removed.
// The input slice is not modified.
func Deduplicate(records []domain.Record, cfg CheckerConfig) ([]domain.Record, int) {
	checker := NewChecker(cfg)
	kept := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if checker.Check(r.Title).IsDuplicate {
			continue
		}
		kept = append(kept, r)
	}
	return kept, len(records) - len(kept)
}
