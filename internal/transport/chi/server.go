// Package chi serves the askdb HTTP API.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	chirouter "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/askdb/internal/domain"
	"github.com/kailas-cloud/askdb/internal/domain/response"
	"github.com/kailas-cloud/askdb/internal/metrics"
	askuc "github.com/kailas-cloud/askdb/internal/usecase/ask"
	healthuc "github.com/kailas-cloud/askdb/internal/usecase/health"
	retrievaluc "github.com/kailas-cloud/askdb/internal/usecase/retrieval"
	usageuc "github.com/kailas-cloud/askdb/internal/usecase/usage"
)

const (
	maxBodyBytes  = 1 << 20
	maxSearchSize = 100
)

// Server holds the HTTP handlers.
type Server struct {
	ask           Asker
	reindexer     Reindexer      // nil: reindexing disabled
	searcher      SchemaSearcher // nil: schema search disabled
	health        HealthChecker
	usage         UsageReporter  // nil: usage reporting disabled
	searchOpts    retrievaluc.Options
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. searchOpts are the defaults of
// GET /v1/schema/search.
func NewServer(
	ask Asker,
	reindexer Reindexer,
	searcher SchemaSearcher,
	health HealthChecker,
	searchOpts retrievaluc.Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		ask:           ask,
		reindexer:     reindexer,
		searcher:      searcher,
		health:        health,
		searchOpts:    searchOpts,
		logger:        logger,
		errorHandlers: defaultErrorHandlers(),
	}
}

// WithUsage enables GET /v1/usage.
func (s *Server) WithUsage(u UsageReporter) *Server {
	s.usage = u
	return s
}

// Handler builds the router with the full middleware chain.
func (s *Server) Handler(apiKeys []string) http.Handler {
	r := chirouter.NewRouter()
	r.Use(JSONRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/v1", func(r chirouter.Router) {
		r.Post("/ask", s.Ask)
		r.Get("/pipelines", s.ListPipelines)
		r.Post("/pipelines/{pipeline}/ask", s.AskPipeline)
		r.Post("/schema/reindex", s.Reindex)
		r.Get("/schema/search", s.SearchSchema)
		r.Get("/usage", s.GetUsage)
	})
	return r
}

type askRequest struct {
	Question       string         `json:"question"`
	Pipeline       string         `json:"pipeline,omitempty"`
	Documents      []string       `json:"documents,omitempty"`
	Inputs         map[string]any `json:"inputs,omitempty"`
	SelectedStages []string       `json:"selected_stages,omitempty"`
	IncludeTrace   bool           `json:"include_trace,omitempty"`
}

// Ask handles POST /v1/ask.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.answer(w, r, req)
}

// AskPipeline handles POST /v1/pipelines/{pipeline}/ask.
func (s *Server) AskPipeline(w http.ResponseWriter, r *http.Request) {
	var id string
	err := runtime.BindStyledParameterWithLocation("simple", false, "pipeline",
		runtime.ParamLocationPath, chirouter.URLParam(r, "pipeline"), &id)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid pipeline: "+err.Error())
		return
	}

	var req askRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Pipeline = id
	s.answer(w, r, req)
}

func (s *Server) answer(w http.ResponseWriter, r *http.Request, req askRequest) {
	resp, err := s.ask.Ask(r.Context(), askuc.Request{
		Question:       req.Question,
		Pipeline:       req.Pipeline,
		Documents:      req.Documents,
		Inputs:         req.Inputs,
		SelectedStages: req.SelectedStages,
		IncludeTrace:   req.IncludeTrace,
	})

	if ev := eventFromContext(r.Context()); ev != nil {
		ev.pipeline = resp.Pipeline
		ev.runID = resp.RunID
		ev.attempts = resp.Attempts
	}
	setUsageHeaders(w, resp.Usage)

	if err != nil {
		if resp.Error == nil {
			resp.Error = askuc.ErrorInfo(err)
		}
		writeJSON(w, StatusFor(resp.Error.Code), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPipelines handles GET /v1/pipelines.
func (s *Server) ListPipelines(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.ask.Pipelines()})
}

// Reindex handles POST /v1/schema/reindex. Elements that could not be
// embedded are reported next to the stats; they stay keyword-searchable.
func (s *Server) Reindex(w http.ResponseWriter, r *http.Request) {
	if s.reindexer == nil {
		writeError(w, http.StatusNotImplemented, CodeBadRequest, "schema index has no source configured")
		return
	}
	stats, err := s.reindexer.Reindex(r.Context())
	var embErr *domain.EmbeddingError
	switch {
	case errors.As(err, &embErr):
		s.logger.Warn("reindex finished with embedding failures", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]any{"stats": stats, "warning": embErr.Error()})
	case err != nil:
		s.handleDomainError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
	}
}

type schemaMatch struct {
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	Parent      string  `json:"parent,omitempty"`
	DataType    string  `json:"data_type,omitempty"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score"`
}

type schemaSearchResponse struct {
	Query          string        `json:"query"`
	ThresholdUsed  float64       `json:"threshold_used"`
	FallbackUsed   bool          `json:"fallback_used"`
	DegradedReason string        `json:"degraded_reason,omitempty"`
	Items          []schemaMatch `json:"items"`
}

// SearchSchema handles GET /v1/schema/search?q=...&limit=...&threshold=...&columns=...
func (s *Server) SearchSchema(w http.ResponseWriter, r *http.Request) {
	if s.searcher == nil {
		writeError(w, http.StatusNotImplemented, CodeBadRequest, "schema search is not configured")
		return
	}

	q := r.URL.Query()
	var (
		text      string
		limit     *int
		threshold *float64
		columns   *bool
	)
	for _, p := range []struct {
		name     string
		required bool
		dest     any
	}{
		{"q", true, &text},
		{"limit", false, &limit},
		{"threshold", false, &threshold},
		{"columns", false, &columns},
	} {
		if err := runtime.BindQueryParameter("form", true, p.required, p.name, q, p.dest); err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid parameter "+p.name+": "+err.Error())
			return
		}
	}
	if text == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "parameter q is required")
		return
	}

	opts := s.searchOpts
	if limit != nil {
		if *limit < 1 || *limit > maxSearchSize {
			writeError(w, http.StatusBadRequest, CodeBadRequest,
				"limit must be between 1 and "+strconv.Itoa(maxSearchSize))
			return
		}
		opts.MaxTables = *limit
	}
	if threshold != nil {
		if *threshold < -1 || *threshold > 1 {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "threshold must be between -1 and 1")
			return
		}
		opts.SimilarityThreshold = *threshold
	}
	if columns != nil {
		opts.IncludeColumnMatches = *columns
	}

	res := s.searcher.Retrieve(r.Context(), text, opts)
	items := make([]schemaMatch, len(res.Matches))
	for i, m := range res.Matches {
		items[i] = schemaMatch{
			Name:        m.Element.QualifiedName(),
			Kind:        string(m.Element.Kind()),
			Parent:      m.Element.Parent(),
			DataType:    m.Element.DataType(),
			Description: m.Element.Description(),
			Score:       m.Score,
		}
	}
	writeJSON(w, http.StatusOK, schemaSearchResponse{
		Query:          res.QueryText,
		ThresholdUsed:  res.ThresholdUsed,
		FallbackUsed:   res.FallbackUsed,
		DegradedReason: res.DegradedReason,
		Items:          items,
	})
}

// GetUsage handles GET /v1/usage?period=day|month.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeError(w, http.StatusNotImplemented, CodeBadRequest, "usage reporting is not configured")
		return
	}
	period, err := usageuc.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.usage.GetReport(r.Context(), period))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func setUsageHeaders(w http.ResponseWriter, u response.Usage) {
	if u.EmbeddingTokens > 0 {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(u.EmbeddingTokens))
	}
	if u.CompletionTokens > 0 {
		w.Header().Set("X-Completion-Tokens", strconv.Itoa(u.CompletionTokens))
	}
}
