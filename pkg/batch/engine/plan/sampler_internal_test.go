package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/serendip/pkg/batch/core/config"
	"github.com/tigerroll/serendip/pkg/batch/core/registry"
)

func TestBalancedQuota(t *testing.T) {
	axes := []string{"A", "B", "C"}
	assert.Equal(t, map[string]int{"A": 4, "B": 3, "C": 3}, balancedQuota(axes, []float64{1, 1, 1}, 10))
	assert.Equal(t, map[string]int{"A": 2, "B": 5, "C": 3}, balancedQuota(axes, []float64{1, 3, 2}, 10))
	assert.Equal(t, map[string]int{"A": 1, "B": 1, "C": 1}, balancedQuota(axes, []float64{0, 0, 0}, 3))

	queue := balancedQueue(newRNG(1), axes, []float64{1, 1, 1}, 10)
	assert.Len(t, queue, 10)
}

func TestSamplerStateWindowAndCap(t *testing.T) {
	st := NewSamplerState()
	d := newDraft()
	d.tokens = []string{"a", "b"}
	st.commit(d, 2)
	assert.Equal(t, 1, st.TokenCount("a"))

	next := newDraft()
	assert.True(t, st.inWindow(next, "a", 2))
	assert.False(t, st.inWindow(next, "a", 1))
	assert.False(t, st.inWindow(next, "a", 0))

	assert.True(t, st.overCap(next, "a", 1))
	assert.False(t, st.overCap(next, "a", 2))
	next.tokens = []string{"a"}
	assert.True(t, st.overCap(next, "a", 2))
	assert.False(t, st.overCap(next, "a", 0))
}

func TestSampleSlotAvoidsWindowWhenPossible(t *testing.T) {
	cat := &registry.Category{Name: "X", Flat: []string{"x"}}
	st := NewSamplerState()
	d := newDraft()
	d.tokens = []string{"x"}
	st.commit(d, 3)

	// A single-value vocabulary cannot avoid the window or the cap; the draw is kept and flagged.
	choice := sampleSlot(newRNG(3), st, newDraft(), cat, config.TagSamplingOff, config.AvoidanceConfig{Window: 3, MaxTokenCount: 1})
	assert.Equal(t, "x", choice.value)
	assert.True(t, choice.capExceed)
}

func TestTagModeFallback(t *testing.T) {
	ts := config.TagSamplingConfig{Mode: config.TagSamplingWeighted, PerCategory: map[string]string{"SHAPE": config.TagSamplingUniform}}
	assert.Equal(t, config.TagSamplingUniform, tagMode(ts, "SHAPE"))
	assert.Equal(t, config.TagSamplingWeighted, tagMode(ts, "COLOR"))
	assert.Equal(t, config.TagSamplingOff, tagMode(config.TagSamplingConfig{}, "COLOR"))
}
