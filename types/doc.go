// Package types defines the shared entity model and error taxonomy for
// spanforge: traces, observations, scores, model definitions, and the
// normalized usage figures derived for LLM calls.
package types
