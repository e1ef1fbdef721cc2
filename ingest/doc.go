// Package ingest implements the event ingestion pipeline: batch
// dispatch, event normalization, order-independent entity
// reconciliation, model matching, and usage derivation.
package ingest
