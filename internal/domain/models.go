// Package domain provides domain models and business logic for the Research Aggregation Service.
package domain

// SourceTag identifies which class of search backend produced a record.
// The set is closed; every record carries exactly one tag.
type SourceTag string

const (
	// SourceLiterature is the structured biomedical literature index (PubMed).
	SourceLiterature SourceTag = "literature"
	// SourcePreprint is the academic preprint index (arXiv).
	SourcePreprint SourceTag = "preprint"
	// SourceWeb is the generic web search backend.
	SourceWeb SourceTag = "web"
)

// AllSourceTags returns every source tag in canonical order.
// Fan-out results are concatenated in this order, so it also decides which
// copy of a cross-source duplicate survives deduplication.
func AllSourceTags() []SourceTag {
	return []SourceTag{SourceLiterature, SourcePreprint, SourceWeb}
}

// IsValidSourceTag reports whether s is one of the known source tags.
func IsValidSourceTag(s SourceTag) bool {
	switch s {
	case SourceLiterature, SourcePreprint, SourceWeb:
		return true
	default:
		return false
	}
}

// String returns the tag value.
func (s SourceTag) String() string {
	return string(s)
}

// Base relevance scores assigned by adapters before ranking.
// Literature is presumed most trustworthy, the open web least.
const (
	BaseScoreLiterature = 0.9
	BaseScorePreprint   = 0.7
	BaseScoreWeb        = 0.5
)

// BaseScore returns the per-source starting relevance score.
func BaseScore(s SourceTag) float64 {
	switch s {
	case SourceLiterature:
		return BaseScoreLiterature
	case SourcePreprint:
		return BaseScorePreprint
	case SourceWeb:
		return BaseScoreWeb
	default:
		return 0
	}
}

// QualityBonus returns the flat source-quality bonus added during ranking.
func QualityBonus(s SourceTag) float64 {
	switch s {
	case SourceLiterature:
		return 0.2
	case SourcePreprint:
		return 0.1
	default:
		return 0
	}
}

// EnabledSources selects which backends a search fans out to.
type EnabledSources struct {
	Literature bool `json:"literature"`
	Preprint   bool `json:"preprint"`
	Web        bool `json:"web"`
}

// AllSources returns an EnabledSources with every backend switched on.
func AllSources() EnabledSources {
	return EnabledSources{Literature: true, Preprint: true, Web: true}
}

// Any reports whether at least one source is enabled.
func (e EnabledSources) Any() bool {
	return e.Literature || e.Preprint || e.Web
}

// Enabled reports whether the given source is switched on.
func (e EnabledSources) Enabled(tag SourceTag) bool {
	switch tag {
	case SourceLiterature:
		return e.Literature
	case SourcePreprint:
		return e.Preprint
	case SourceWeb:
		return e.Web
	default:
		return false
	}
}

// Tags returns the enabled source tags in canonical order.
func (e EnabledSources) Tags() []SourceTag {
	tags := make([]SourceTag, 0, 3)
	for _, tag := range AllSourceTags() {
		if e.Enabled(tag) {
			tags = append(tags, tag)
		}
	}
	return tags
}

// SourceStats counts the raw, pre-deduplication records contributed by each source.
type SourceStats struct {
	Literature int `json:"literature"`
	Preprint   int `json:"preprint"`
	Web        int `json:"web"`
}

// Set records the count for a source. Unknown tags are ignored.
func (s *SourceStats) Set(tag SourceTag, count int) {
	switch tag {
	case SourceLiterature:
		s.Literature = count
	case SourcePreprint:
		s.Preprint = count
	case SourceWeb:
		s.Web = count
	}
}

// Get returns the count recorded for a source.
func (s SourceStats) Get(tag SourceTag) int {
	switch tag {
	case SourceLiterature:
		return s.Literature
	case SourcePreprint:
		return s.Preprint
	case SourceWeb:
		return s.Web
	default:
		return 0
	}
}

// Total returns the sum of all per-source counts.
func (s SourceStats) Total() int {
	return s.Literature + s.Preprint + s.Web
}
