package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/helixir/research-aggregation-service/internal/domain"
	"github.com/helixir/research-aggregation-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default arXiv API base URL.
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultRateLimit is the request ceiling per DefaultRateWindow.
	DefaultRateLimit = 1

	// DefaultRateWindow is the window arXiv asks clients to space requests by.
	DefaultRateWindow = 3 * time.Second

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per request.
	DefaultMaxResults = 20

	// SnippetLength is the number of abstract characters kept as the snippet.
	SnippetLength = 200

	// venueName is the venue reported for papers without a journal reference.
	venueName = "arXiv"

	// sourceName is the human-readable name for this source.
	sourceName = "arXiv"
)

// arxivIDRegex extracts the arXiv ID from the full URL.
// Matches patterns like "http://arxiv.org/abs/2301.12345v1" or "http://arxiv.org/abs/hep-th/9901001v1".
var arxivIDRegex = regexp.MustCompile(`arxiv\.org/abs/(.+?)(?:v\d+)?$`)

// Config holds configuration for the arXiv client.
type Config struct {
	// BaseURL is the arXiv API base URL.
	BaseURL string

	// Timeout is the request timeout.
	Timeout time.Duration

	// MaxResults is the maximum results to return per search request.
	MaxResults int

	// Enabled indicates whether this source is enabled for searches.
	Enabled bool
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client implements papersources.Source for arXiv.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

// Ensure Client implements Source interface.
var _ papersources.Source = (*Client)(nil)

// New creates a new arXiv client with its own request queue.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	queue := papersources.NewRequestQueue("arxiv", papersources.QueueConfig{
		RequestsPerWindow: DefaultRateLimit,
		Window:            DefaultRateWindow,
	})

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:    "arxiv",
		Timeout:   cfg.Timeout,
		Queue:     queue,
		UserAgent: papersources.DefaultUserAgent,
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// NewWithHTTPClient creates a new arXiv client with a custom HTTP client.
// The server wires the shared arxiv queue this way; tests use it with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries arXiv for papers matching the given parameters.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	if !c.config.Enabled {
		return nil, fmt.Errorf("arxiv: %w", domain.ErrSourceDisabled)
	}

	startTime := time.Now()
	ctx = papersources.WithPriority(ctx, params.Priority)

	searchQuery := BuildSearchQuery(params.Query)
	if searchQuery == "" {
		return &papersources.SearchResult{
			Records:        []domain.Record{},
			Source:         domain.SourcePreprint,
			SearchDuration: time.Since(startTime),
		}, nil
	}

	searchURL, err := c.buildSearchURL(searchQuery, params.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(
			sourceName,
			resp.StatusCode,
			string(body),
			nil,
		)
	}

	// Parse the Atom XML response (limit body to 10MB).
	var feed Feed
	if err := xml.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	records := make([]domain.Record, 0, len(feed.Entries))
	for i := range feed.Entries {
		if rec, ok := entryToRecord(&feed.Entries[i]); ok {
			records = append(records, rec)
		}
	}

	return &papersources.SearchResult{
		Records:        records,
		TotalResults:   feed.TotalResults,
		Source:         domain.SourcePreprint,
		SearchDuration: time.Since(startTime),
	}, nil
}

// SourceType returns the source tag.
func (c *Client) SourceType() domain.SourceTag {
	return domain.SourcePreprint
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// BuildSearchQuery turns free text into an arXiv search_query: characters
// other than letters and digits become spaces, and every remaining term is
// required in any field ("all:diabetes AND all:treatment").
// Returns "" when no term survives.
func BuildSearchQuery(q string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, q)

	terms := strings.Fields(cleaned)
	if len(terms) == 0 {
		return ""
	}
	for i, t := range terms {
		terms[i] = "all:" + t
	}
	return strings.Join(terms, " AND ")
}

// buildSearchURL constructs the arXiv search API URL.
func (c *Client) buildSearchURL(searchQuery string, maxResults int) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/query"

	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}

	query := url.Values{}
	query.Set("search_query", searchQuery)
	query.Set("start", "0")
	query.Set("max_results", strconv.Itoa(maxResults))
	query.Set("sortBy", "relevance")
	query.Set("sortOrder", "descending")

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// entryToRecord converts an arXiv Atom entry to a domain Record.
// Entries without a recognizable arXiv ID are skipped.
func entryToRecord(entry *Entry) (domain.Record, bool) {
	arxivID := extractArXivID(strings.TrimSpace(entry.ID))
	if arxivID == "" {
		return domain.Record{}, false
	}

	var year string
	if entry.Published != "" {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(entry.Published)); err == nil {
			year = strconv.Itoa(t.Year())
		}
	}

	names := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		names = append(names, normalizeWhitespace(a.Name))
	}

	categories := make([]string, 0, len(entry.Categories))
	for _, cat := range entry.Categories {
		if cat.Term != "" {
			categories = append(categories, cat.Term)
		}
	}

	venue := normalizeWhitespace(entry.JournalRef)
	if venue == "" {
		venue = venueName
	}

	// arXiv includes leading/trailing whitespace and newlines in text fields.
	abstract := normalizeWhitespace(entry.Summary)

	return domain.Record{
		ID:             domain.NewRecordID(domain.SourcePreprint, arxivID),
		Title:          normalizeWhitespace(entry.Title),
		Authors:        domain.FormatAuthors(names),
		Abstract:       abstract,
		Year:           year,
		Source:         domain.SourcePreprint,
		URL:            entryURL(entry, arxivID),
		JournalOrVenue: venue,
		DOI:            strings.TrimSpace(entry.DOI),
		Categories:     categories,
		Snippet:        truncateRunes(abstract, SnippetLength),
	}, true
}

// entryURL returns the abstract page link, falling back to the canonical
// abs URL for the ID.
func entryURL(entry *Entry, arxivID string) string {
	for _, link := range entry.Links {
		if link.Rel == "alternate" && link.Href != "" {
			return link.Href
		}
	}
	return "https://arxiv.org/abs/" + arxivID
}

// extractArXivID extracts the arXiv ID from the full entry URL.
// Input: "http://arxiv.org/abs/2301.12345v1" → "2301.12345"
func extractArXivID(entryURL string) string {
	matches := arxivIDRegex.FindStringSubmatch(entryURL)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}

// truncateRunes returns at most n characters of s.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// normalizeWhitespace trims and collapses multiple whitespace characters.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
