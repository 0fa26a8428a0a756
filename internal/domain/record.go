package domain

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Record is the unified representation of a single search result,
// regardless of which backend produced it.
//
// Records are values. Ranking produces new copies with an updated
// RelevanceScore; nothing mutates a Record after it has been returned.
type Record struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Authors        string    `json:"authors"`
	Abstract       string    `json:"abstract"`
	Year           string    `json:"year"`
	Source         SourceTag `json:"source"`
	URL            string    `json:"url"`
	RelevanceScore float64   `json:"relevanceScore"`
	JournalOrVenue string    `json:"journalOrVenue,omitempty"`
	DOI            string    `json:"doi,omitempty"`
	Categories     []string  `json:"categories,omitempty"`
	Snippet        string    `json:"snippet,omitempty"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r.Categories != nil {
		cats := make([]string, len(r.Categories))
		copy(cats, r.Categories)
		r.Categories = cats
	}
	return r
}

// YearInt parses Year. It returns 0 and false when Year is not a number.
func (r Record) YearInt() (int, bool) {
	y, err := strconv.Atoi(strings.TrimSpace(r.Year))
	if err != nil {
		return 0, false
	}
	return y, true
}

// NewRecordID derives a stable record identifier from the source tag and the
// backend-native identifier (PMID, arXiv id, URL). The same inputs always
// yield the same id.
func NewRecordID(source SourceTag, nativeID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(string(source)+":"+strings.TrimSpace(nativeID))).String()
}

// YearOrCurrent returns year when it looks like a 4-digit year, otherwise the
// current year of now. Unknown years are an accepted approximation, not an error.
func YearOrCurrent(year string, now time.Time) string {
	year = strings.TrimSpace(year)
	if len(year) == 4 {
		if _, err := strconv.Atoi(year); err == nil {
			return year
		}
	}
	return strconv.Itoa(now.Year())
}

// FormatAuthors renders a display label from a list of names: up to three
// names joined by commas, followed by "et al." when more exist.
func FormatAuthors(names []string) string {
	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			cleaned = append(cleaned, n)
		}
	}
	switch {
	case len(cleaned) == 0:
		return ""
	case len(cleaned) <= 3:
		return strings.Join(cleaned, ", ")
	default:
		return strings.Join(cleaned[:3], ", ") + " et al."
	}
}
