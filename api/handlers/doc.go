/*
Package handlers implements the public HTTP surface.

  - IngestionHandler: POST /api/public/ingestion, the batch endpoint.
    Always multi-status; the HTTP code reports transport-level health
    while per-event outcomes ride in the body.
  - LegacyHandler: single-entity REST endpoints for older SDKs
    (traces, generations, spans, scores). Same normalize+reconcile
    pipeline as the batch path, so merge semantics never diverge.
  - HealthHandler: /health, /ready, /version with pluggable checks.

Response and ErrorInfo provide the unified JSON envelope; WriteError
maps types.ErrorCode onto HTTP statuses in one place.
*/
package handlers
