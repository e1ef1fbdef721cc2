package tokenizer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/spanforge/spanforge/types"
)

const (
	// TokenizerOpenAI selects BPE counting via tiktoken.
	TokenizerOpenAI = "openai"

	defaultEncoding         = "cl100k_base"
	defaultTokensPerMessage = 3
	defaultTokensPerName    = 1
	replyPrimingTokens      = 3
)

// Service counts tokens in arbitrary ingested content. The tokenizer id
// and config come from the matched model definition; an unknown id uses
// the character estimate.
type Service interface {
	Count(content any, tokenizerID string, cfg types.TokenizerConfig) (int, error)
}

// counter counts tokens in a plain string.
type counter func(text string) int

// TiktokenService implements Service with a cache of initialized
// encodings. Safe for concurrent use.
type TiktokenService struct {
	mu       sync.Mutex
	counters map[string]counter
}

// New creates a TiktokenService with an empty encoding cache.
// Encodings initialize lazily on first use.
func New() *TiktokenService {
	return &TiktokenService{counters: make(map[string]counter)}
}

// Count counts tokens in content. Strings are counted directly, chat
// message slices get per-message framing overhead, and any other shape
// is counted over its JSON serialization. Nil content counts zero.
func (s *TiktokenService) Count(content any, tokenizerID string, cfg types.TokenizerConfig) (int, error) {
	if content == nil {
		return 0, nil
	}

	count, err := s.counterFor(tokenizerID, cfg)
	if err != nil {
		return 0, err
	}

	switch v := content.(type) {
	case string:
		return count(v), nil
	case []any:
		if isChatMessages(v) {
			return countChat(v, cfg, count), nil
		}
	}

	data, err := json.Marshal(content)
	if err != nil {
		return 0, fmt.Errorf("serialize content for counting: %w", err)
	}
	return count(string(data)), nil
}

func (s *TiktokenService) counterFor(tokenizerID string, cfg types.TokenizerConfig) (counter, error) {
	if tokenizerID != TokenizerOpenAI {
		return estimateTokens, nil
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = defaultEncoding
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.counters[encoding]; ok {
		return c, nil
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("init tiktoken encoding %s: %w", encoding, err)
	}
	c := func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}
	s.counters[encoding] = c
	return c, nil
}

// countChat applies chat-format framing: a fixed overhead per message,
// extra tokens when a name is present, and a reply priming overhead.
func countChat(messages []any, cfg types.TokenizerConfig, count counter) int {
	perMessage := cfg.TokensPerMessage
	if perMessage == 0 {
		perMessage = defaultTokensPerMessage
	}
	perName := cfg.TokensPerName
	if perName == 0 {
		perName = defaultTokensPerName
	}

	total := 0
	for _, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		total += perMessage
		for key, value := range msg {
			switch v := value.(type) {
			case string:
				total += count(v)
			case nil:
			default:
				if data, err := json.Marshal(v); err == nil {
					total += count(string(data))
				}
			}
			if key == "name" {
				total += perName
			}
		}
	}
	return total + replyPrimingTokens
}

// isChatMessages reports whether v looks like a chat transcript: a
// non-empty slice of objects each carrying a role or content key.
func isChatMessages(v []any) bool {
	if len(v) == 0 {
		return false
	}
	for _, raw := range v {
		msg, ok := raw.(map[string]any)
		if !ok {
			return false
		}
		if _, hasRole := msg["role"]; hasRole {
			continue
		}
		if _, hasContent := msg["content"]; hasContent {
			continue
		}
		return false
	}
	return true
}

// estimateTokens approximates a token count from character density.
// CJK text packs fewer characters per token than Latin text.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	var cjkCount, otherCount int
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 {
			cjkCount++
		} else {
			otherCount++
		}
	}
	tokens := float64(cjkCount)/1.5 + float64(otherCount)/4.0
	if tokens < 1 {
		return 1
	}
	return int(tokens)
}
