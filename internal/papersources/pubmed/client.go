package pubmed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/research-aggregation-service/internal/domain"
	"github.com/helixir/research-aggregation-service/internal/papersources"
)

const (
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the request ceiling per second without an API key.
	DefaultRateLimit = 3

	// ElevatedRateLimit is the request ceiling per second with an API key.
	ElevatedRateLimit = 10

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per search.
	DefaultMaxResults = 20

	// MaxResultsLimit is the maximum results allowed per request by the API.
	MaxResultsLimit = 10000

	// RecentFilter narrows a search to English-language articles from the
	// last ten years.
	RecentFilter = `AND (english[lang]) AND ("last 10 years"[dp])`

	// ArticleURLPrefix is the public article page prefix; the PMID follows.
	ArticleURLPrefix = "https://pubmed.ncbi.nlm.nih.gov/"

	// sourceName is the human-readable name for this source.
	sourceName = "PubMed"

	// maxBodySize caps how much of a response body is read.
	maxBodySize = 10 << 20
)

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL is the base URL for the E-utilities API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the NCBI API key for higher rate limits.
	APIKey string

	// Timeout is the request timeout.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// MaxResults is the default maximum results per search.
	// Defaults to DefaultMaxResults if zero.
	MaxResults int

	// BoostRecent appends RecentFilter to every query.
	BoostRecent bool

	// Enabled indicates whether this source is enabled.
	Enabled bool
}

// applyDefaults applies default values to the config.
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
}

// RateLimit returns the per-second request ceiling NCBI grants this config.
func (c Config) RateLimit() int {
	if c.APIKey != "" {
		return ElevatedRateLimit
	}
	return DefaultRateLimit
}

// Client implements papersources.Source for PubMed.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

// Compile-time check that Client implements Source.
var _ papersources.Source = (*Client)(nil)

// New creates a new PubMed client with its own request queue sized to the
// NCBI ceiling for the config.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	queue := papersources.NewRequestQueue("pubmed", papersources.QueueConfig{
		RequestsPerWindow: cfg.RateLimit(),
		Window:            time.Second,
	})

	httpCfg := papersources.HTTPClientConfig{
		Source:    "pubmed",
		Timeout:   cfg.Timeout,
		Queue:     queue,
		UserAgent: papersources.DefaultUserAgent + " (mailto:support@helixir.io)",
	}

	return &Client{
		config:     cfg,
		httpClient: papersources.NewHTTPClient(httpCfg),
	}
}

// NewWithHTTPClient creates a new PubMed client with a custom HTTP client.
// The server wires the shared pubmed queue this way; tests use it with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries PubMed for articles matching the given parameters.
// It performs a two-step search:
// 1. esearch.fcgi - retrieves PMIDs matching the query, most relevant first
// 2. efetch.fcgi - retrieves full article metadata for the PMIDs
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	if !c.config.Enabled {
		return nil, fmt.Errorf("pubmed: %w", domain.ErrSourceDisabled)
	}

	startTime := time.Now()
	ctx = papersources.WithPriority(ctx, params.Priority)

	term := SanitizeQuery(params.Query)
	if term == "" {
		return c.emptyResult(0, startTime), nil
	}
	if c.config.BoostRecent {
		term = term + " " + RecentFilter
	}

	// Step 1: Search for PMIDs
	searchResult, err := c.esearch(ctx, term, params.MaxResults)
	if err != nil {
		return nil, fmt.Errorf("esearch failed: %w", err)
	}

	if searchResult.ERROR != "" {
		return nil, domain.NewExternalAPIError(sourceName, http.StatusOK, searchResult.ERROR, nil)
	}

	// Phrases not found are not an error
	if searchResult.ErrorList != nil && len(searchResult.ErrorList.PhraseNotFound) > 0 && len(searchResult.IDList.IDs) == 0 {
		return c.emptyResult(0, startTime), nil
	}

	if len(searchResult.IDList.IDs) == 0 {
		return c.emptyResult(searchResult.Count, startTime), nil
	}

	// Step 2: Fetch full article metadata
	articles, err := c.efetch(ctx, searchResult.IDList.IDs)
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}

	// efetch does not promise esearch order; restore relevance order.
	rank := make(map[string]int, len(searchResult.IDList.IDs))
	for i, id := range searchResult.IDList.IDs {
		rank[id] = i
	}
	records := make([]domain.Record, len(searchResult.IDList.IDs))
	found := make([]bool, len(records))
	for _, article := range articles.Articles {
		pmid := strings.TrimSpace(article.MedlineCitation.PMID)
		i, ok := rank[pmid]
		if !ok || found[i] {
			continue
		}
		records[i] = articleToRecord(article)
		found[i] = true
	}
	ordered := records[:0]
	for i, r := range records {
		if found[i] {
			ordered = append(ordered, r)
		}
	}

	return &papersources.SearchResult{
		Records:        ordered,
		TotalResults:   searchResult.Count,
		Source:         domain.SourceLiterature,
		SearchDuration: time.Since(startTime),
	}, nil
}

func (c *Client) emptyResult(total int, start time.Time) *papersources.SearchResult {
	return &papersources.SearchResult{
		Records:        []domain.Record{},
		TotalResults:   total,
		Source:         domain.SourceLiterature,
		SearchDuration: time.Since(start),
	}
}

// SourceType returns the source tag.
func (c *Client) SourceType() domain.SourceTag {
	return domain.SourceLiterature
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// termSyntaxChars are characters with meaning in E-utilities term syntax.
var termSyntaxChars = strings.NewReplacer("[", " ", "]", " ", "(", " ", ")", " ", ":", " ", `"`, " ")

// SanitizeQuery strips characters that would be read as E-utilities field
// tags or grouping and collapses whitespace.
func SanitizeQuery(q string) string {
	return normalizeWhitespace(termSyntaxChars.Replace(q))
}

// esearch performs a search query and returns matching PMIDs.
func (c *Client) esearch(ctx context.Context, term string, maxResults int) (*ESearchResult, error) {
	u, err := url.Parse(c.config.BaseURL + "/esearch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("term", term)
	q.Set("retmode", "xml")
	q.Set("retmax", strconv.Itoa(maxResults))
	q.Set("sort", "relevance")
	q.Set("usehistory", "n")
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	u.RawQuery = q.Encode()

	var result ESearchResult
	if err := c.getXML(ctx, u.String(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// efetch retrieves full article metadata for the given PMIDs.
func (c *Client) efetch(ctx context.Context, pmids []string) (*PubmedArticleSet, error) {
	if len(pmids) == 0 {
		return &PubmedArticleSet{}, nil
	}

	u, err := url.Parse(c.config.BaseURL + "/efetch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("retmode", "xml")
	q.Set("rettype", "abstract")
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	u.RawQuery = q.Encode()

	var result PubmedArticleSet
	if err := c.getXML(ctx, u.String(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// getXML issues a GET through the queued HTTP client and decodes the XML body into v.
func (c *Client) getXML(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	if err := xml.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse XML response: %w", err)
	}
	return nil
}

// articleToRecord converts a PubmedArticle to a domain.Record.
func articleToRecord(article PubmedArticle) domain.Record {
	citation := article.MedlineCitation
	pmid := strings.TrimSpace(citation.PMID)

	journal := strings.TrimSpace(citation.Article.Journal.Title)
	if journal == "" {
		journal = strings.TrimSpace(citation.Article.Journal.ISOAbbreviation)
	}

	abstract := extractAbstract(citation.Article.Abstract)

	return domain.Record{
		ID:             domain.NewRecordID(domain.SourceLiterature, pmid),
		Title:          normalizeWhitespace(string(citation.Article.ArticleTitle)),
		Authors:        domain.FormatAuthors(extractAuthors(citation.Article.AuthorList)),
		Abstract:       abstract,
		Year:           extractYear(citation.Article),
		Source:         domain.SourceLiterature,
		URL:            ArticleURLPrefix + pmid + "/",
		JournalOrVenue: journal,
		DOI:            extractDOI(citation.Article, article.PubmedData),
		Categories:     extractCategories(citation),
	}
}

// extractDOI extracts the DOI from article metadata.
// It checks ELocationID first (more reliable), then ArticleIdList.
func extractDOI(article Article, pubmedData PubmedData) string {
	for _, eloc := range article.ELocationID {
		if eloc.EIdType == "doi" && (eloc.Valid == "" || eloc.Valid == "Y") {
			return strings.TrimSpace(eloc.Value)
		}
	}

	for _, aid := range pubmedData.ArticleIdList.ArticleIds {
		if aid.IdType == "doi" {
			return strings.TrimSpace(aid.Value)
		}
	}

	return ""
}

// extractYear returns the publication year as a string, preferring the
// electronic article date over the journal issue date. Returns "" when unknown.
func extractYear(article Article) string {
	for _, ad := range article.ArticleDate {
		if ad.DateType == "epublish" || ad.DateType == "Electronic" || ad.DateType == "" {
			if y := leadingYear(ad.Year); y != "" {
				return y
			}
		}
	}

	pubDate := article.Journal.JournalIssue.PubDate
	if y := leadingYear(pubDate.Year); y != "" {
		return y
	}
	// MedlineDate can be "2020 Jan-Feb", "2020 Spring", "2020-2021", etc.
	return leadingYear(pubDate.MedlineDate)
}

// leadingYear returns the first four characters of s if they form a year.
func leadingYear(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 4 {
		return ""
	}
	if _, err := strconv.Atoi(s[:4]); err != nil {
		return ""
	}
	return s[:4]
}

// extractAbstract concatenates multiple abstract sections into a single string.
func extractAbstract(abstract *Abstract) string {
	if abstract == nil || len(abstract.AbstractTexts) == 0 {
		return ""
	}

	if len(abstract.AbstractTexts) == 1 && abstract.AbstractTexts[0].Label == "" {
		return normalizeWhitespace(string(abstract.AbstractTexts[0].Value))
	}

	var parts []string
	for _, at := range abstract.AbstractTexts {
		text := normalizeWhitespace(string(at.Value))
		if text == "" {
			continue
		}
		if at.Label != "" {
			parts = append(parts, at.Label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " ")
}

// extractAuthors returns display names in citation style ("Smith JA").
func extractAuthors(authorList *AuthorList) []string {
	if authorList == nil || len(authorList.Authors) == 0 {
		return nil
	}

	names := make([]string, 0, len(authorList.Authors))
	for _, a := range authorList.Authors {
		if a.ValidYN == "N" {
			continue
		}

		var name string
		switch {
		case a.CollectiveName != "":
			name = a.CollectiveName
		case a.LastName != "" && a.Initials != "":
			name = a.LastName + " " + a.Initials
		default:
			name = strings.TrimSpace(a.ForeName + " " + a.LastName)
		}

		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}

	return names
}

// extractCategories merges MeSH descriptors and author keywords, dropping duplicates.
func extractCategories(citation MedlineCitation) []string {
	var cats []string
	seen := make(map[string]bool)
	add := func(term string) {
		term = strings.TrimSpace(term)
		key := strings.ToLower(term)
		if term == "" || seen[key] {
			return
		}
		seen[key] = true
		cats = append(cats, term)
	}

	if citation.MeshHeadingList != nil {
		for _, mh := range citation.MeshHeadingList.MeshHeadings {
			add(mh.DescriptorName)
		}
	}
	if citation.KeywordList != nil {
		for _, kw := range citation.KeywordList.Keywords {
			add(kw)
		}
	}
	return cats
}

// normalizeWhitespace collapses runs of whitespace into single spaces.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
