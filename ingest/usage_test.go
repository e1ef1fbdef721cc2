package ingest

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spanforge/spanforge/types"
)

func TestNormalizeUsageTokenNamedShape(t *testing.T) {
	usage, err := NormalizeUsage(map[string]any{
		"promptTokens":     float64(11),
		"completionTokens": float64(22),
	})
	require.NoError(t, err)

	assert.Equal(t, types.UnitTokens, usage.Unit)
	assert.Equal(t, 11, usage.PromptCount)
	assert.Equal(t, 22, usage.CompletionCount)
	assert.Equal(t, 33, usage.TotalCount)
}

func TestNormalizeUsageGenericShape(t *testing.T) {
	usage, err := NormalizeUsage(map[string]any{
		"input":  float64(3),
		"output": float64(4),
		"total":  float64(9),
		"unit":   "CHARACTERS",
	})
	require.NoError(t, err)

	assert.Equal(t, types.UnitCharacters, usage.Unit)
	assert.Equal(t, 3, usage.PromptCount)
	assert.Equal(t, 4, usage.CompletionCount)
	assert.Equal(t, 9, usage.TotalCount)
}

func TestNormalizeUsageUnitOmitted(t *testing.T) {
	usage, err := NormalizeUsage(map[string]any{"input": float64(5)})
	require.NoError(t, err)

	assert.Equal(t, types.UsageUnit(""), usage.Unit)
	assert.Equal(t, 5, usage.PromptCount)
	assert.Equal(t, 5, usage.TotalCount)
}

func TestNormalizeUsageInvalid(t *testing.T) {
	_, err := NormalizeUsage(map[string]any{"input": float64(1), "unit": "FURLONGS"})
	assertValidation(t, err)

	_, err = NormalizeUsage(map[string]any{"promptTokens": "many"})
	assertValidation(t, err)
}

func TestNormalizeUsageRejectsFractionalCounts(t *testing.T) {
	// counts are integers; fractional values are rejected rather than
	// silently truncated
	_, err := NormalizeUsage(map[string]any{"promptTokens": 1.7})
	assertValidation(t, err)

	_, err = NormalizeUsage(map[string]any{"input": float64(3), "total": 3.5})
	assertValidation(t, err)

	usage, err := NormalizeUsage(map[string]any{"promptTokens": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, usage.PromptCount)
}

// usage normalization properties over arbitrary well-typed payloads
func TestNormalizeUsageProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	counts := gen.IntRange(0, 1_000_000)

	properties.Property("token-named shape implies TOKENS and consistent total",
		prop.ForAll(func(prompt, completion int) bool {
			usage, err := NormalizeUsage(map[string]any{
				"promptTokens":     float64(prompt),
				"completionTokens": float64(completion),
			})
			if err != nil {
				return false
			}
			return usage.Unit == types.UnitTokens &&
				usage.PromptCount == prompt &&
				usage.CompletionCount == completion &&
				usage.TotalCount == prompt+completion
		}, counts, counts))

	properties.Property("explicit total is preserved",
		prop.ForAll(func(prompt, completion, total int) bool {
			usage, err := NormalizeUsage(map[string]any{
				"input":  float64(prompt),
				"output": float64(completion),
				"total":  float64(total),
			})
			if err != nil {
				return false
			}
			if total == 0 {
				return usage.TotalCount == prompt+completion
			}
			return usage.TotalCount == total
		}, counts, counts, counts))

	properties.Property("normalization is idempotent through the field map",
		prop.ForAll(func(prompt, completion int) bool {
			usage, err := NormalizeUsage(map[string]any{
				"promptTokens":     float64(prompt),
				"completionTokens": float64(completion),
			})
			if err != nil {
				return false
			}
			roundTripped, ok := usageFromFields(map[string]any{"usage": usageFields(usage)})
			return ok && roundTripped == usage
		}, counts, counts))

	properties.TestingRun(t)
}

func TestDeriveCost(t *testing.T) {
	in, out, total := 0.001, 0.002, 0.0005
	usage := types.Usage{Unit: types.UnitTokens, PromptCount: 100, CompletionCount: 50, TotalCount: 150}

	t.Run("directional prices sum to total", func(t *testing.T) {
		model := &types.ModelDefinition{InputPrice: &in, OutputPrice: &out}
		i, o, tot := deriveCost(model, usage)
		require.NotNil(t, i)
		require.NotNil(t, o)
		require.NotNil(t, tot)
		assert.InDelta(t, 0.1, *i, 1e-9)
		assert.InDelta(t, 0.1, *o, 1e-9)
		assert.InDelta(t, 0.2, *tot, 1e-9)
	})

	t.Run("total price overrides directional sum", func(t *testing.T) {
		model := &types.ModelDefinition{InputPrice: &in, TotalPrice: &total}
		_, _, tot := deriveCost(model, usage)
		require.NotNil(t, tot)
		assert.InDelta(t, 0.075, *tot, 1e-9)
	})

	t.Run("unpriced model yields no cost", func(t *testing.T) {
		i, o, tot := deriveCost(&types.ModelDefinition{}, usage)
		assert.Nil(t, i)
		assert.Nil(t, o)
		assert.Nil(t, tot)
	})

	t.Run("zero usage yields no cost", func(t *testing.T) {
		model := &types.ModelDefinition{InputPrice: &in}
		i, _, _ := deriveCost(model, types.Usage{})
		assert.Nil(t, i)
	})

	t.Run("nil model yields no cost", func(t *testing.T) {
		i, o, tot := deriveCost(nil, usage)
		assert.Nil(t, i)
		assert.Nil(t, o)
		assert.Nil(t, tot)
	})
}
