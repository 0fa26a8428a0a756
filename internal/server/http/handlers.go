package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/helixir/research-aggregation-service/internal/domain"
	"github.com/helixir/research-aggregation-service/internal/observability"
)

// maxRequestBodySize is the 64 KB limit for request bodies.
const maxRequestBodySize = 64 << 10

// searchRequest is the JSON request body for an aggregated search.
type searchRequest struct {
	Query        string                 `json:"query" validate:"required,max=1000"`
	Sources      *domain.EnabledSources `json:"sources,omitempty"`
	MaxPerSource int                    `json:"max_per_source" validate:"min=0,max=50"`
	Top          int                    `json:"top" validate:"min=0,max=200"`
	SourceFilter string                 `json:"source_filter" validate:"omitempty,oneof=literature preprint web"`
}

// search handles POST /api/v1/research/search.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.LoggerFromContext(ctx, s.logger)

	// Parse and validate the request body.
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req searchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	req.Query = strings.TrimSpace(req.Query)
	if err := validateStruct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sources := s.defaults.Sources
	if req.Sources != nil {
		sources = *req.Sources
	}
	if !sources.Any() {
		logger.Warn().
			Str("query", req.Query).
			Msg("no sources enabled, falling back to web search")
		sources = domain.EnabledSources{Web: true}
	}

	maxPerSource := req.MaxPerSource
	if maxPerSource == 0 {
		maxPerSource = s.defaults.MaxPerSource
	}

	resp, err := s.searcher.SearchAll(ctx, req.Query, sources, maxPerSource)
	if err != nil {
		logger.Error().Err(err).Str("query", req.Query).Msg("search failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSearchResponse(
		observability.RequestIDFromContext(ctx),
		resp,
		req.SourceFilter,
		req.Top,
	))
}

// writeDomainError maps domain errors to HTTP status codes and writes a JSON
// error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNoSourcesEnabled):
		writeError(w, http.StatusBadRequest, "at least one source must be enabled")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
