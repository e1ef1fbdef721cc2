/*
Package main provides the spanforge service entry point.

cmd/spanforge is the executable for the LLM telemetry ingestion
service. It exposes the public ingestion API, a Prometheus metrics
port, and subcommands for database migration and health probing.

Subcommands:

  - serve: start the HTTP and metrics listeners
  - migrate: apply, roll back, and inspect schema migrations; seed the
    model definition registry from a YAML file
  - version, health: build info and a liveness probe against a running
    instance

The middleware chain wraps the public API with panic recovery, request
IDs, security headers, request logging, Prometheus metrics, OTel server
spans, CORS, project authentication (static API keys or JWT), and a
per-project rate limiter. Version, BuildTime, and GitCommit are set via
ldflags.
*/
package main
