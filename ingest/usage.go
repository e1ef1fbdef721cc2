package ingest

import (
	"math"

	"github.com/spanforge/spanforge/types"
)

// NormalizeUsage canonicalizes a raw usage payload. Two shapes are
// accepted: token-named (promptTokens/completionTokens/totalTokens),
// which implies the TOKENS unit, and generic (input/output/total plus
// an optional unit). Missing counts default to zero; a missing total
// is the sum of the directions.
func NormalizeUsage(raw map[string]any) (types.Usage, error) {
	var usage types.Usage

	_, hasPrompt := raw["promptTokens"]
	_, hasCompletion := raw["completionTokens"]
	_, hasTotalTokens := raw["totalTokens"]

	if hasPrompt || hasCompletion || hasTotalTokens {
		prompt, err := intField(raw, "promptTokens")
		if err != nil {
			return usage, err
		}
		completion, err := intField(raw, "completionTokens")
		if err != nil {
			return usage, err
		}
		total, err := intField(raw, "totalTokens")
		if err != nil {
			return usage, err
		}
		usage.Unit = types.UnitTokens
		usage.PromptCount = prompt
		usage.CompletionCount = completion
		usage.TotalCount = total
	} else {
		prompt, err := intField(raw, "input")
		if err != nil {
			return usage, err
		}
		completion, err := intField(raw, "output")
		if err != nil {
			return usage, err
		}
		total, err := intField(raw, "total")
		if err != nil {
			return usage, err
		}
		unit, err := stringField(raw, "unit")
		if err != nil {
			return usage, err
		}
		if unit != "" {
			if !types.ValidUsageUnit(unit) {
				return usage, validationError("invalid usage unit %q", unit)
			}
			usage.Unit = types.UsageUnit(unit)
		}
		usage.PromptCount = prompt
		usage.CompletionCount = completion
		usage.TotalCount = total
	}

	if usage.TotalCount == 0 {
		usage.TotalCount = usage.PromptCount + usage.CompletionCount
	}
	return usage, nil
}

func intField(raw map[string]any, key string) (int, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, nil
	}
	f, ok := v.(float64)
	if !ok {
		return 0, validationError("usage field %s must be numeric, got %T", key, v)
	}
	if f != math.Trunc(f) {
		return 0, validationError("usage field %s must be an integer, got %v", key, f)
	}
	return int(f), nil
}

// usageFromFields reads the canonical usage map persisted in the merged
// fields back into a types.Usage. Returns ok=false when the entity has
// no provided usage.
func usageFromFields(fields map[string]any) (types.Usage, bool) {
	raw, ok := fields["usage"].(map[string]any)
	if !ok {
		return types.Usage{}, false
	}
	var usage types.Usage
	if unit, ok := raw["unit"].(string); ok {
		usage.Unit = types.UsageUnit(unit)
	}
	if n, ok := raw["promptCount"].(float64); ok {
		usage.PromptCount = int(n)
	}
	if n, ok := raw["completionCount"].(float64); ok {
		usage.CompletionCount = int(n)
	}
	if n, ok := raw["totalCount"].(float64); ok {
		usage.TotalCount = int(n)
	}
	return usage, true
}

// deriveCost prices normalized usage against the matched model. The
// total price, when defined, applies to the total count; otherwise the
// total is the sum of the priced directions. Returns nils when the
// model defines no applicable price or usage is empty.
func deriveCost(model *types.ModelDefinition, usage types.Usage) (input, output, total *float64) {
	if model == nil || usage.IsZero() {
		return nil, nil, nil
	}

	if model.InputPrice != nil {
		c := *model.InputPrice * float64(usage.PromptCount)
		input = &c
	}
	if model.OutputPrice != nil {
		c := *model.OutputPrice * float64(usage.CompletionCount)
		output = &c
	}
	switch {
	case model.TotalPrice != nil:
		c := *model.TotalPrice * float64(usage.TotalCount)
		total = &c
	case input != nil || output != nil:
		var c float64
		if input != nil {
			c += *input
		}
		if output != nil {
			c += *output
		}
		total = &c
	}
	return input, output, total
}
