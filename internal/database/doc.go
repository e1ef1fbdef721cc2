// Package database manages the gorm connection pool used by the
// persistence gateway: pool sizing, periodic health checks, and stats.
// This package is internal and should not be imported by external projects.
package database
