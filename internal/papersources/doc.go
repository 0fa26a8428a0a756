// Package papersources provides clients for the research search backends.
//
// Each backend (PubMed, arXiv, Tavily) implements the Source interface and
// sends its HTTP attempts through a shared HTTPClient bound to that backend's
// RequestQueue. The aggregator never calls a Source directly; it goes through
// an Adapter, which turns every failure into an empty result.
//
// Example usage:
//
//	queue := papersources.NewRequestQueue("pubmed", papersources.QueueConfig{RequestsPerWindow: 3})
//	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{Source: "pubmed", Queue: queue})
//	source := pubmed.NewWithHTTPClient(cfg, httpClient)
//
//	adapter := papersources.NewAdapter(source)
//	records := adapter.Fetch(ctx, "diabetes treatment", 5)
package papersources
