// Package telemetry wraps OpenTelemetry SDK initialization and provides
// the TracerProvider and MeterProvider used by the HTTP middleware. When
// telemetry is disabled, global providers stay noop and no external
// connection is made.
package telemetry
