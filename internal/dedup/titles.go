// Package dedup detects duplicate search results across sources through
// normalized title comparison and word-set (Jaccard) similarity.
package dedup

import (
	"strings"
	"unicode"
)

// NormalizeTitle normalizes a title for comparison:
//   - Converts to lowercase
//   - Removes every character that is not a letter, digit or space
//   - Collapses runs of whitespace to a single space
//   - Trims leading and trailing whitespace
func NormalizeTitle(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(title))
	prevSpace := false

	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteRune(' ')
				prevSpace = true
			}
		}
		// Punctuation and symbols are dropped.
	}

	return strings.TrimRight(sb.String(), " ")
}

// WordSet returns the distinct whitespace-separated words of a normalized title.
func WordSet(normalized string) map[string]struct{} {
	words := strings.Fields(normalized)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard returns |A ∩ B| / |A ∪ B| for two word sets.
// Returns 0.0 if both sets are empty. The result is symmetric.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0.0
	}

	// Iterate the smaller set.
	if len(a) > len(b) {
		a, b = b, a
	}

	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection

	return float64(intersection) / float64(union)
}

// TitleSimilarity normalizes both titles and returns their Jaccard similarity.
// Identical normalized titles always score 1.0.
func TitleSimilarity(a, b string) float64 {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	if na == nb {
		return 1.0
	}
	return Jaccard(WordSet(na), WordSet(nb))
}
