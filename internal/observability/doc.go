// Package observability provides logging and metrics support for the
// research aggregation service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for searches, sources, and request queues
//   - Context helpers for propagating request data
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    Output:    "stdout",
//	    AddSource: true,
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("request_id", reqID).Msg("search started")
//
// Add search context to logger:
//
//	logger = observability.WithSearchContext(logger, query, "literature")
//
// # Metrics
//
// Initialize metrics:
//
//	metrics := observability.NewMetrics("research_aggregation")
//
// Record metrics:
//
//	metrics.RecordSearchStarted()
//	metrics.RecordSourceFetch("preprint", "success", 5, 0.8)
//	metrics.SetQueueDepth("pubmed", 2)
//
// # Context Helpers
//
// Store and retrieve request context:
//
//	ctx = observability.WithRequestID(ctx, requestID)
//	ctx = observability.WithQuery(ctx, query)
//
//	logger = observability.LoggerFromContext(ctx, logger)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: Search request identifier
//   - query: User's search query
//   - source: Source tag (literature, preprint, web)
//   - queue: Backend request queue name (pubmed, arxiv, tavily)
//   - record_id: Record identifier
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
