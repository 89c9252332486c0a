package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeConfigOverrideWins(t *testing.T) {
	base := map[string]any{"a": 1, "nested": map[string]any{"x": 1, "y": 2}}
	override := map[string]any{"a": 2, "nested": map[string]any{"y": 9}}

	out := mergeConfig(base, override)

	assert.Equal(t, 2, out["a"])
	nested := out["nested"].(map[string]any)
	assert.Equal(t, 1, nested["x"])
	assert.Equal(t, 9, nested["y"])
}

func TestMergeConfigsInOrderLaterWins(t *testing.T) {
	base := map[string]any{"fps": 5}
	overrides := []map[string]any{
		{"fps": 10},
		{"fps": 15},
	}
	out := mergeConfigsInOrder(base, overrides)
	assert.Equal(t, 15, out["fps"])
}
