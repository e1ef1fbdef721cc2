package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/spanforge/spanforge/types"
)

// ModelMatcher resolves external model names against the versioned
// model registry. Match patterns compile case-insensitively and are
// cached across calls.
type ModelMatcher struct {
	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp
}

// NewModelMatcher creates a matcher with an empty pattern cache.
func NewModelMatcher() *ModelMatcher {
	return &ModelMatcher{patterns: make(map[string]*regexp.Regexp)}
}

// Match selects the model definition for an external model name.
// Candidates must match the name, have validFrom at or before the
// observation start time, and be unit-compatible with the declared
// usage unit. Among candidates the latest non-nil validFrom wins; full
// ties resolve to the earliest registry entry so the choice is
// deterministic. Returns nil when nothing matches.
func (m *ModelMatcher) Match(
	models []types.ModelDefinition,
	name string,
	startTime *time.Time,
	declaredUnit types.UsageUnit,
) (*types.ModelDefinition, error) {
	if name == "" {
		return nil, nil
	}

	var best *types.ModelDefinition
	for i := range models {
		def := &models[i]

		re, err := m.pattern(def.MatchPattern)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", def.ID, err)
		}
		if !re.MatchString(name) {
			continue
		}
		// a nil start time constrains nothing
		if def.ValidFrom != nil && startTime != nil && def.ValidFrom.After(*startTime) {
			continue
		}
		if declaredUnit != "" && def.Unit != "" && def.Unit != declaredUnit {
			continue
		}

		if best == nil {
			best = def
			continue
		}
		// later validFrom supersedes; nil validFrom loses to any
		// non-nil; otherwise the earlier registry entry stands
		switch {
		case def.ValidFrom == nil:
		case best.ValidFrom == nil:
			best = def
		case def.ValidFrom.After(*best.ValidFrom):
			best = def
		}
	}
	return best, nil
}

func (m *ModelMatcher) pattern(expr string) (*regexp.Regexp, error) {
	m.mu.RLock()
	re, ok := m.patterns[expr]
	m.mu.RUnlock()
	if ok {
		return re, nil
	}

	compiled := expr
	if !strings.HasPrefix(compiled, "(?i)") {
		compiled = "(?i)" + compiled
	}
	re, err := regexp.Compile(compiled)
	if err != nil {
		return nil, fmt.Errorf("invalid match pattern %q: %w", expr, err)
	}

	m.mu.Lock()
	m.patterns[expr] = re
	m.mu.Unlock()
	return re, nil
}
