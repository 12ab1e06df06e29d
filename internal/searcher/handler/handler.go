package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/highlight"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/notesearch/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/notesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/notesearch/pkg/resilience"
)

type SearchExecutor interface {
	Search(ctx context.Context, query string, partial bool, limit int) (*executor.SearchResult, error)
	PartialMatchDefault() bool
}

type DocumentIndex interface {
	Index(ctx context.Context, id int64, content string) (indexer.Outcome, error)
	Reindex(ctx context.Context, id int64, content string) (indexer.Outcome, error)
	Deindex(ctx context.Context, id int64) (indexer.Outcome, error)
	IsIndexed(ctx context.Context, id int64) (bool, error)
	DocCount(ctx context.Context) (int64, error)
}

type Handler struct {
	executor     SearchExecutor
	index        DocumentIndex
	breaker      *resilience.CircuitBreaker
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	maxBodyBytes int64
	logger       *slog.Logger
}

type Options struct {
	DefaultLimit int
	MaxResults   int
	MaxBodyBytes int64
	// Breaker guards searches; nil disables it.
	Breaker *resilience.CircuitBreaker
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

func New(exec SearchExecutor, idx DocumentIndex, opts Options) *Handler {
	return &Handler{
		executor:     exec,
		index:        idx,
		breaker:      opts.Breaker,
		metrics:      opts.Metrics,
		defaultLimit: opts.DefaultLimit,
		maxResults:   opts.MaxResults,
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       slog.Default().With("component", "search-handler"),
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("PUT /api/v1/documents/{id}", h.IndexDocument)
	mux.HandleFunc("POST /api/v1/documents/{id}/reindex", h.ReindexDocument)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", h.DeindexDocument)
	mux.HandleFunc("GET /api/v1/documents/{id}", h.DocumentStatus)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("POST /api/v1/highlight", h.Highlight)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	params := r.URL.Query()
	if !params.Has("q") {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	query := params.Get("q")

	limit := h.defaultLimit
	if limitStr := params.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > h.maxResults {
			parsed = h.maxResults
		}
		limit = parsed
	}

	partial := h.executor.PartialMatchDefault()
	if partialStr := params.Get("partial"); partialStr != "" {
		parsed, err := strconv.ParseBool(partialStr)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "partial must be a boolean")
			return
		}
		partial = parsed
	}

	var result *executor.SearchResult
	run := func() error {
		var err error
		result, err = h.executor.Search(ctx, query, partial, limit)
		return err
	}
	var err error
	if h.breaker != nil {
		err = h.breaker.Execute(run)
	} else {
		err = run()
	}

	latency := time.Since(start)
	if err != nil {
		h.observeSearch(metrics.ResultError, partial, latency, 0)
		log.Error("search failed", "query", query, "error", err)
		// An unreachable index must never look like "no matches".
		h.writeError(w, http.StatusServiceUnavailable, "search unavailable")
		return
	}

	resultType := metrics.ResultHit
	if len(result.Results) == 0 {
		resultType = metrics.ResultZeroResult
	}
	h.observeSearch(resultType, partial, latency, len(result.Results))
	log.Info("search completed",
		"query", query,
		"tokens", result.Tokens,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

type documentRequest struct {
	Content string `json:"content"`
}

type documentResponse struct {
	ID      int64  `json:"id"`
	Outcome string `json:"outcome,omitempty"`
	Indexed bool   `json:"indexed"`
}

func (h *Handler) IndexDocument(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "index", true, h.index.Index)
}

func (h *Handler) ReindexDocument(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "reindex", true, h.index.Reindex)
}

func (h *Handler) DeindexDocument(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "deindex", false, func(ctx context.Context, id int64, _ string) (indexer.Outcome, error) {
		return h.index.Deindex(ctx, id)
	})
}

func (h *Handler) write(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	withBody bool,
	apply func(ctx context.Context, id int64, content string) (indexer.Outcome, error),
) {
	ctx := r.Context()
	id, err := pathID(r)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	var body documentRequest
	if withBody {
		if err := h.decode(w, r, &body); err != nil {
			h.writeAppError(w, err)
			return
		}
	}

	outcome, err := apply(ctx, id, body.Content)
	if h.metrics != nil {
		h.metrics.ObserveIndexOp(op, outcome.String(), err)
	}
	if err != nil {
		logger.FromContext(ctx).Error("index write failed", "op", op, "doc_id", id, "error", err)
		h.writeAppError(w, err)
		return
	}
	logger.FromContext(ctx).Info("index write applied", "op", op, "doc_id", id, "outcome", outcome.String())

	indexed := outcome == indexer.OutcomeCreated || outcome == indexer.OutcomeReplaced
	h.writeJSON(w, http.StatusOK, documentResponse{ID: id, Outcome: outcome.String(), Indexed: indexed})
}

func (h *Handler) DocumentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	indexed, err := h.index.IsIndexed(r.Context(), id)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, documentResponse{ID: id, Indexed: indexed})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	n, err := h.index.DocCount(r.Context())
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.IndexedDocuments.Set(float64(n))
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"doc_count": n})
}

type highlightRequest struct {
	HTML   string   `json:"html"`
	Tokens []string `json:"tokens"`
}

func (h *Handler) Highlight(w http.ResponseWriter, r *http.Request) {
	var req highlightRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"html": highlight.HTML(req.HTML, req.Tokens)})
}

func (h *Handler) observeSearch(resultType string, partial bool, latency time.Duration, results int) {
	if h.metrics == nil {
		return
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(resultType).Inc()
	h.metrics.SearchLatency.WithLabelValues(strconv.FormatBool(partial)).Observe(latency.Seconds())
	if resultType != metrics.ResultError {
		h.metrics.SearchResultsCount.Observe(float64(results))
	}
}

func pathID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "document id %q is not a non-negative integer", raw)
	}
	return id, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := r.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
		}
		if errors.Is(err, io.EOF) {
			return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "request body is empty")
		}
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body: %v", err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeAppError maps err onto a status code. Store failures hide their
// cause from the client.
func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		h.writeError(w, status, appErr.Message)
	case apperrors.IsStoreFailure(err):
		h.writeError(w, status, "index unavailable, retry the operation")
	default:
		h.writeError(w, status, http.StatusText(status))
	}
}
