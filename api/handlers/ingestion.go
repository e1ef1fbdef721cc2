package handlers

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/spanforge/spanforge/ingest"
	"github.com/spanforge/spanforge/types"
)

// IngestionRequest is the batch envelope accepted on the wire. Metadata
// is SDK-reported client context; it is logged, never stored.
type IngestionRequest struct {
	Batch    []ingest.Envelope `json:"batch"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// IngestionHandler serves the batch telemetry endpoint.
type IngestionHandler struct {
	dispatcher   *ingest.Dispatcher
	maxBatchSize int
	logger       *zap.Logger
}

// NewIngestionHandler creates the ingestion handler. maxBatchSize <= 0
// disables the batch ceiling.
func NewIngestionHandler(dispatcher *ingest.Dispatcher, maxBatchSize int, logger *zap.Logger) *IngestionHandler {
	return &IngestionHandler{
		dispatcher:   dispatcher,
		maxBatchSize: maxBatchSize,
		logger:       logger.With(zap.String("handler", "ingestion")),
	}
}

// HandleIngestion processes POST /api/public/ingestion. The response is
// always 207 with per-event outcomes; only a body that is not a batch
// envelope at all yields a 400. Individual event failures never change
// the HTTP status.
func (h *IngestionHandler) HandleIngestion(w http.ResponseWriter, r *http.Request) {
	projectID, ok := RequireProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req IngestionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Batch == nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"request body must contain a batch array", h.logger)
		return
	}
	if h.maxBatchSize > 0 && len(req.Batch) > h.maxBatchSize {
		WriteErrorMessage(w, http.StatusRequestEntityTooLarge, types.ErrInvalidRequest,
			fmt.Sprintf("batch exceeds maximum size of %d events", h.maxBatchSize), h.logger)
		return
	}

	if req.Metadata != nil {
		h.logger.Debug("batch metadata",
			zap.String("project_id", projectID),
			zap.Any("metadata", req.Metadata),
		)
	}

	result := h.dispatcher.Dispatch(r.Context(), projectID, req.Batch)

	h.logger.Info("batch processed",
		zap.String("project_id", projectID),
		zap.Int("events", len(req.Batch)),
		zap.Int("failed", len(result.Errors)),
	)

	WriteJSON(w, http.StatusMultiStatus, result)
}
