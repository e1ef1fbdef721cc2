// Package server provides HTTP server lifecycle management: non-blocking
// start, graceful shutdown, and signal handling.
// This package is internal and should not be imported by external projects.
package server
