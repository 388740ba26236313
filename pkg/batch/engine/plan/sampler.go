package plan

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/tigerroll/serendip/pkg/batch/core/config"
	"github.com/tigerroll/serendip/pkg/batch/core/registry"
)

// avoidanceRetries is how many extra draws a slot gets when its token repeats too soon.
const avoidanceRetries = 5

func newRNG(seed int64) *rand.Rand {
	s := uint64(seed)
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

// weightedChoice picks one item with probability proportional to its weight.
// Non-positive totals fall back to a uniform pick.
func weightedChoice(rng *rand.Rand, items []string, weights []float64) string {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return items[rng.IntN(len(items))]
	}
	r := rng.Float64() * total
	cum := 0.0
	for i, w := range weights {
		cum += w
		if r < cum {
			return items[i]
		}
	}
	return items[len(items)-1]
}

// balancedQuota allocates n slots to axes proportionally to their weights with
// the largest-remainder rule. Ties on the remainder go to the earlier axis.
func balancedQuota(axes []string, weights []float64, n int) map[string]int {
	quota := make(map[string]int, len(axes))
	if n <= 0 || len(axes) == 0 {
		return quota
	}
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		weights = make([]float64, len(axes))
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(axes))
	}
	type rem struct {
		pos  int
		frac float64
	}
	rems := make([]rem, len(axes))
	assigned := 0
	for i, axis := range axes {
		exact := float64(n) * weights[i] / total
		floor := int(math.Floor(exact))
		quota[axis] += floor
		assigned += floor
		rems[i] = rem{pos: i, frac: exact - float64(floor)}
	}
	sort.SliceStable(rems, func(a, b int) bool { return rems[a].frac > rems[b].frac })
	for i := 0; assigned < n; i++ {
		quota[axes[rems[i%len(rems)].pos]]++
		assigned++
	}
	return quota
}

// balancedQueue expands the quota into an axis sequence and shuffles it once.
func balancedQueue(rng *rand.Rand, axes []string, weights []float64, n int) []string {
	quota := balancedQuota(axes, weights, n)
	queue := make([]string, 0, n)
	for _, axis := range axes {
		for i := 0; i < quota[axis]; i++ {
			queue = append(queue, axis)
		}
	}
	rng.Shuffle(len(queue), func(i, j int) { queue[i], queue[j] = queue[j], queue[i] })
	return queue
}

// SamplerState is the mutable state of one plan generation: tag round-robin
// cursors and token usage for repetition avoidance. It is owned by a single
// Generate call and passed explicitly to every sampling step.
type SamplerState struct {
	cursors map[string]int
	recent  []string
	counts  map[string]int
}

// NewSamplerState returns an empty state.
func NewSamplerState() *SamplerState {
	return &SamplerState{cursors: map[string]int{}, counts: map[string]int{}}
}

// TokenCount returns how often token was committed.
func (s *SamplerState) TokenCount(token string) int {
	return s.counts[token]
}

// draft accumulates the choices of one candidate item. It is committed to the
// state only when the item is accepted.
type draft struct {
	cursorDelta map[string]int
	tokens      []string
}

func newDraft() *draft {
	return &draft{cursorDelta: map[string]int{}}
}

func (s *SamplerState) commit(d *draft, window int) {
	for cat, delta := range d.cursorDelta {
		s.cursors[cat] += delta
	}
	for _, tok := range d.tokens {
		s.counts[tok]++
		s.recent = append(s.recent, tok)
	}
	if window > 0 && len(s.recent) > window {
		s.recent = append([]string(nil), s.recent[len(s.recent)-window:]...)
	} else if window <= 0 {
		s.recent = nil
	}
}

func (s *SamplerState) inWindow(d *draft, token string, window int) bool {
	if window <= 0 {
		return false
	}
	look := append(append([]string(nil), s.recent...), d.tokens...)
	if len(look) > window {
		look = look[len(look)-window:]
	}
	for _, t := range look {
		if t == token {
			return true
		}
	}
	return false
}

func (s *SamplerState) overCap(d *draft, token string, limit int) bool {
	if limit <= 0 {
		return false
	}
	n := s.counts[token]
	for _, t := range d.tokens {
		if t == token {
			n++
		}
	}
	return n >= limit
}

// slotChoice is the outcome of sampling one placeholder.
type slotChoice struct {
	value     string
	tag       string
	capExceed bool
}

// tagMode resolves the sampling mode of a category with the global fallback.
func tagMode(ts config.TagSamplingConfig, category string) string {
	if m, ok := ts.PerCategory[category]; ok && m != "" {
		return m
	}
	if ts.Mode == "" {
		return config.TagSamplingOff
	}
	return ts.Mode
}

// sampleSlot draws one value for cat. The candidate pool comes from the tag
// sampling mode; the value is redrawn up to avoidanceRetries times while it
// repeats within the window or has reached the per-token cap.
func sampleSlot(rng *rand.Rand, st *SamplerState, d *draft, cat *registry.Category, mode string, av config.AvoidanceConfig) slotChoice {
	pool, tag := candidatePool(rng, st, d, cat, mode)
	var choice slotChoice
	for attempt := 0; attempt <= avoidanceRetries; attempt++ {
		choice = slotChoice{value: pool[rng.IntN(len(pool))], tag: tag}
		repeats := st.inWindow(d, choice.value, av.Window)
		choice.capExceed = st.overCap(d, choice.value, av.MaxTokenCount)
		if !repeats && !choice.capExceed {
			break
		}
	}
	d.tokens = append(d.tokens, choice.value)
	return choice
}

func candidatePool(rng *rand.Rand, st *SamplerState, d *draft, cat *registry.Category, mode string) ([]string, string) {
	if !cat.Tagged() || mode == config.TagSamplingOff {
		all := cat.All()
		return all, ""
	}
	var groups []registry.TagGroup
	for _, g := range cat.Tags {
		if len(g.Values) > 0 {
			groups = append(groups, g)
		}
	}
	switch mode {
	case config.TagSamplingUniform:
		cursor := st.cursors[cat.Name] + d.cursorDelta[cat.Name]
		d.cursorDelta[cat.Name]++
		g := groups[cursor%len(groups)]
		return g.Values, g.Name
	default:
		names := make([]string, len(groups))
		weights := make([]float64, len(groups))
		for i, g := range groups {
			names[i] = g.Name
			weights[i] = cat.TagWeight(g.Name)
		}
		picked := weightedChoice(rng, names, weights)
		for _, g := range groups {
			if g.Name == picked {
				return g.Values, g.Name
			}
		}
		return groups[0].Values, groups[0].Name
	}
}
