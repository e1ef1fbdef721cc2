// Package tokenizer counts tokens for usage derivation. It wraps
// tiktoken for OpenAI-family models and falls back to a character
// based estimate for everything else.
package tokenizer
