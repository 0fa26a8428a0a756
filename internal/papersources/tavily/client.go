package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/helixir/research-aggregation-service/internal/domain"
	"github.com/helixir/research-aggregation-service/internal/papersources"
)

const (
	// DefaultBaseURL is the Tavily API base URL.
	DefaultBaseURL = "https://api.tavily.com"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per search.
	DefaultMaxResults = 5

	// MaxResultsLimit is the largest max_results the API accepts.
	MaxResultsLimit = 20

	// SearchDepth selects Tavily's slower, more thorough retrieval.
	SearchDepth = "advanced"

	// QueryPrefix and QuerySuffix steer results toward clinical material.
	QueryPrefix = "medical"
	QuerySuffix = "clinical guidelines treatment"

	// sourceName is the human-readable name for this source.
	sourceName = "Tavily"
)

// DefaultIncludeDomains are the clinical reference sites searched when none
// are configured.
var DefaultIncludeDomains = []string{
	"pubmed.ncbi.nlm.nih.gov",
	"ncbi.nlm.nih.gov",
	"who.int",
	"cdc.gov",
	"uptodate.com",
}

var yearRegex = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Config holds configuration for the Tavily client.
type Config struct {
	// BaseURL is the Tavily API base URL.
	BaseURL string

	// APIKey authenticates requests. The source is disabled without one.
	APIKey string

	// Timeout is the request timeout.
	Timeout time.Duration

	// MaxResults is the default maximum results per search.
	MaxResults int

	// IncludeDomains restricts results to these hosts.
	// Defaults to DefaultIncludeDomains if empty.
	IncludeDomains []string

	// Enabled indicates whether this source is enabled.
	Enabled bool
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
	if len(c.IncludeDomains) == 0 {
		c.IncludeDomains = DefaultIncludeDomains
	}
}

// Client implements papersources.Source for Tavily web search.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

var _ papersources.Source = (*Client)(nil)

// New creates a new Tavily client with its own request queue.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	queue := papersources.NewRequestQueue("tavily", papersources.QueueConfig{})

	return &Client{
		config: cfg,
		httpClient: papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:    "tavily",
			Timeout:   cfg.Timeout,
			Queue:     queue,
			UserAgent: papersources.DefaultUserAgent,
		}),
	}
}

// NewWithHTTPClient creates a new Tavily client with a custom HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// SourceType returns the source tag.
func (c *Client) SourceType() domain.SourceTag {
	return domain.SourceWeb
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled reports whether the source is switched on and has an API key.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled && c.config.APIKey != ""
}

// BuildQuery frames the user query for clinical results.
func BuildQuery(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if q == "" {
		return ""
	}
	return QueryPrefix + " " + q + " " + QuerySuffix
}

// Search runs one advanced Tavily search.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	if !c.IsEnabled() {
		return nil, fmt.Errorf("tavily: %w", domain.ErrSourceDisabled)
	}

	startTime := time.Now()
	ctx = papersources.WithPriority(ctx, params.Priority)

	query := BuildQuery(params.Query)
	if query == "" {
		return &papersources.SearchResult{
			Records:        []domain.Record{},
			Source:         domain.SourceWeb,
			SearchDuration: time.Since(startTime),
		}, nil
	}

	maxResults := params.MaxResults
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}

	body, err := json.Marshal(searchRequest{
		APIKey:         c.config.APIKey,
		Query:          query,
		SearchDepth:    SearchDepth,
		IncludeDomains: c.config.IncludeDomains,
		MaxResults:     maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		msg := string(raw)
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Detail.Error != "" {
			msg = apiErr.Detail.Error
		}
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, msg, nil)
	}

	var decoded SearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	records := make([]domain.Record, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		records = append(records, resultToRecord(r))
	}

	return &papersources.SearchResult{
		Records:        records,
		TotalResults:   len(records),
		Source:         domain.SourceWeb,
		SearchDuration: time.Since(startTime),
	}, nil
}

// resultToRecord converts a web result. The year is left empty when the page
// carries no publication date.
func resultToRecord(r SearchResult) domain.Record {
	content := strings.TrimSpace(r.Content)
	pageURL := strings.TrimSpace(r.URL)

	return domain.Record{
		ID:       domain.NewRecordID(domain.SourceWeb, pageURL),
		Title:    strings.Join(strings.Fields(r.Title), " "),
		Authors:  hostOf(pageURL),
		Abstract: content,
		Year:     extractYear(r.PublishedDate),
		Source:   domain.SourceWeb,
		URL:      pageURL,
		Snippet:  content,
	}
}

// hostOf returns the host of a URL without a leading "www.".
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// extractYear finds the first plausible year in a published_date value,
// which Tavily returns in several formats.
func extractYear(published string) string {
	return yearRegex.FindString(published)
}
