package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/dismax-search/pkg/metrics"
)

const maxRequestBytes = 2 << 20

// Ingester accepts validated documents. *publisher.Publisher implements it.
type Ingester interface {
	Ingest(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error)
}

// StatusReader looks up a document's indexing status. *docstore.Store
// implements it.
type StatusReader interface {
	Status(ctx context.Context, id string) (string, error)
}

type Handler struct {
	ingester Ingester
	statuses StatusReader
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Handler. statuses and m may be nil; without statuses the
// status endpoint answers 503.
func New(ingester Ingester, statuses StatusReader, m *metrics.Metrics) *Handler {
	return &Handler{
		ingester: ingester,
		statuses: statuses,
		metrics:  m,
		logger:   slog.Default().With("component", "ingestion-handler"),
	}
}

// Ingest handles POST /api/v1/documents.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	var req ingestion.IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.count("invalid")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validator.ValidateIngestRequest(&req); err != nil {
		h.count("invalid")
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.ingester.Ingest(ctx, &req)
	if err != nil {
		h.count("error")
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("ingestion failed",
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, "ingestion failed")
		return
	}
	h.count("accepted")
	log.Info("document accepted",
		"doc_id", resp.DocumentID,
		"shard_id", resp.ShardID,
	)
	h.writeJSON(w, http.StatusAccepted, resp)
}

// Status handles GET /api/v1/documents/{id}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h.statuses == nil {
		h.writeError(w, http.StatusServiceUnavailable, "document status tracking is disabled")
		return
	}
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "document id is required")
		return
	}
	status, err := h.statuses.Status(r.Context(), id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		h.writeError(w, http.StatusNotFound, "document not found")
		return
	case err != nil:
		logger.FromContext(r.Context()).Error("status lookup failed", "doc_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "status lookup failed")
		return
	}
	h.writeJSON(w, http.StatusOK, ingestion.StatusResponse{DocumentID: id, Status: status})
}

func (h *Handler) count(result string) {
	if h.metrics != nil {
		h.metrics.DocsIngestedTotal.WithLabelValues(result).Inc()
	}
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
