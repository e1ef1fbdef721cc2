package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spanforge/spanforge/ingest"
	"github.com/spanforge/spanforge/types"
)

// LegacyHandler serves the single-entity REST endpoints older SDKs use
// instead of the batch endpoint. Each request funnels through the same
// normalizer and reconciler as a batch event, so both surfaces share
// one set of merge semantics.
type LegacyHandler struct {
	normalizer *ingest.Normalizer
	reconciler *ingest.Reconciler
	logger     *zap.Logger
}

// NewLegacyHandler creates the legacy REST handler.
func NewLegacyHandler(normalizer *ingest.Normalizer, reconciler *ingest.Reconciler, logger *zap.Logger) *LegacyHandler {
	return &LegacyHandler{
		normalizer: normalizer,
		reconciler: reconciler,
		logger:     logger.With(zap.String("handler", "legacy")),
	}
}

// HandleCreateTrace processes POST /api/public/traces.
func (h *LegacyHandler) HandleCreateTrace(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, ingest.EventTraceCreate, false, http.StatusCreated)
}

// HandleCreateGeneration processes POST /api/public/generations.
func (h *LegacyHandler) HandleCreateGeneration(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, ingest.EventGenerationCreate, false, http.StatusCreated)
}

// HandleUpdateGeneration processes PATCH /api/public/generations. The
// target must already exist; a miss is a 404, not an implicit create.
func (h *LegacyHandler) HandleUpdateGeneration(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, ingest.EventGenerationUpdate, true, http.StatusOK)
}

// HandleCreateSpan processes POST /api/public/spans.
func (h *LegacyHandler) HandleCreateSpan(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, ingest.EventSpanCreate, false, http.StatusCreated)
}

// HandleUpdateSpan processes PATCH /api/public/spans.
func (h *LegacyHandler) HandleUpdateSpan(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, ingest.EventSpanUpdate, true, http.StatusOK)
}

// HandleCreateScore processes POST /api/public/scores.
func (h *LegacyHandler) HandleCreateScore(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, ingest.EventScoreCreate, false, http.StatusCreated)
}

// apply decodes the body, reshapes it as a canonical event of the given
// type, and runs one reconcile. requireExisting turns a dangling update
// into NOT_FOUND instead of an upsert.
func (h *LegacyHandler) apply(w http.ResponseWriter, r *http.Request, eventType string, requireExisting bool, okStatus int) {
	projectID, ok := RequireProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var body map[string]any
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}

	env := ingest.Envelope{
		ID:   uuid.NewString(),
		Type: eventType,
		Body: body,
	}

	ev, err := h.normalizer.Normalize(projectID, env)
	if err != nil {
		h.writeIngestError(w, err)
		return
	}
	ev.RequireExisting = requireExisting

	if err := h.reconciler.Apply(r.Context(), ev); err != nil {
		h.writeIngestError(w, err)
		return
	}

	WriteJSON(w, okStatus, Response{
		Success:   true,
		Data:      map[string]string{"id": ev.EntityID},
		Timestamp: time.Now(),
	})
}

func (h *LegacyHandler) writeIngestError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*types.Error); ok {
		WriteError(w, apiErr, h.logger)
		return
	}
	WriteError(w, types.NewError(types.ErrInternalError, err.Error()), h.logger)
}
