// Package config provides unified configuration loading for spanforge:
// defaults, YAML file, and SPANFORGE_* environment variable overrides,
// applied in that order.
package config
