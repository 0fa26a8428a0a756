// Package tavily provides the web source backed by the Tavily search API,
// restricted to clinical reference domains.
//
// The API documentation is available at:
// https://docs.tavily.com/documentation/api-reference/endpoint/search
package tavily

// searchRequest is the JSON body of POST /search.
type searchRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth"`
	IncludeDomains []string `json:"include_domains,omitempty"`
	MaxResults     int      `json:"max_results"`
}

// SearchResponse is the JSON body returned by POST /search.
type SearchResponse struct {
	Query        string         `json:"query"`
	Results      []SearchResult `json:"results"`
	ResponseTime float64        `json:"response_time"`
}

// SearchResult is a single web page returned by a search.
type SearchResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date,omitempty"`
}

// errorResponse is returned by the API on failures.
type errorResponse struct {
	Detail struct {
		Error string `json:"error"`
	} `json:"detail"`
}
