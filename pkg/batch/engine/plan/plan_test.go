package plan_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/serendip/pkg/batch/core/config"
	"github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/core/registry"
	"github.com/tigerroll/serendip/pkg/batch/engine/plan"
)

const testAxes = `
axis_templates:
  A:
    template: "Paint {COLOR} {SHAPE}. {context}"
  B:
    template: "Sculpt {SHAPE} from {MATERIAL}. {h1} {h2}"
  C:
    template: "Photograph {COLOR} {MATERIAL}"
`

const testVocab = `
vocab:
  COLOR: [red, green, blue, amber, teal, violet]
  SHAPE:
    round: [circle, sphere, ring]
    sharp: [cube, spike, shard]
  MATERIAL: [glass, clay, steel, paper]
`

const testDomains = `
domains:
  - domain_id: lab
    bundle: science
    context: Inside a clean lab.
    hints: [pipette, centrifuge, beaker]
  - domain_id: dock
    bundle: industry
    context: At a cargo dock.
    hints: [crane, rope]
`

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.Parse([]byte(testAxes), []byte(testVocab), []byte(testDomains))
	require.NoError(t, err)
	return r
}

func seed(v int64) *int64 { return &v }

func baseOptions() plan.Options {
	pc := config.NewConfig().Serendip.Plan
	pc.AxisIDs = []string{"A", "B", "C"}
	pc.TargetCount = 10
	pc.Seed = seed(7)
	pc.GlobalSuffix = "high detail"
	return plan.Options{Profile: "p", PlanName: "explore", Plan: pc}
}

func axisCounts(items []model.PlanItem) map[string]int {
	counts := map[string]int{}
	for _, it := range items {
		counts[it.AxisID]++
	}
	return counts
}

func TestGenerateBalancedUsesLargestRemainder(t *testing.T) {
	opts := baseOptions()
	opts.Plan.AxisDistribution = config.DistributionBalanced

	res, err := plan.Generate(testRegistry(t), opts)
	require.NoError(t, err)
	require.Len(t, res.Items, 10)

	counts := axisCounts(res.Items)
	got := []int{counts["A"], counts["B"], counts["C"]}
	assert.ElementsMatch(t, []int{4, 3, 3}, got)
	for i, it := range res.Items {
		assert.Equal(t, i, it.Index)
		assert.Equal(t, model.GenerationStandard, it.GenerationType)
		assert.True(t, strings.HasSuffix(it.FinalPrompt, "high detail"))
		require.NotNil(t, it.SeedUsed)
		assert.Equal(t, int64(7), *it.SeedUsed)
	}
}

func TestGenerateIsDeterministicForASeed(t *testing.T) {
	opts := baseOptions()
	opts.Plan.AxisDistribution = config.DistributionBalanced
	opts.Plan.TagSampling.Mode = config.TagSamplingUniform
	opts.Plan.Avoidance.Window = 2
	reg := testRegistry(t)

	first, err := plan.Generate(reg, opts)
	require.NoError(t, err)
	second, err := plan.Generate(reg, opts)
	require.NoError(t, err)
	if diff := cmp.Diff(first.Items, second.Items); diff != "" {
		t.Fatalf("plans differ (-first +second):\n%s", diff)
	}

	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.jsonl"), filepath.Join(dir, "b.jsonl")
	require.NoError(t, plan.Freeze(a, first.Items, false))
	require.NoError(t, plan.Freeze(b, second.Items, false))
	rawA, err := os.ReadFile(a)
	require.NoError(t, err)
	rawB, err := os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, rawA, rawB)
}

func TestGenerateWithoutSeedRecordsGeneratedSeed(t *testing.T) {
	opts := baseOptions()
	opts.Plan.Seed = nil

	res, err := plan.Generate(testRegistry(t), opts)
	require.NoError(t, err)
	for _, it := range res.Items {
		require.NotNil(t, it.SeedUsed)
		assert.Equal(t, res.Seed, *it.SeedUsed)
	}
}

func TestGenerateStrictDedupeHonorsExclusions(t *testing.T) {
	reg := testRegistry(t)
	opts := baseOptions()
	opts.Plan.TargetCount = 30

	earlier, err := plan.Generate(reg, opts)
	require.NoError(t, err)

	opts.Plan.Seed = seed(8)
	opts.Exclusions = plan.Keys(earlier.Items)
	opts.ExcludedPlans = []string{"earlier"}
	res, err := plan.Generate(reg, opts)
	require.NoError(t, err)

	seen := plan.KeySet{}
	for _, it := range res.Items {
		key := it.DedupeKey()
		assert.False(t, seen.Has(key), "duplicate key %s", key)
		assert.False(t, opts.Exclusions.Has(key), "excluded key %s", key)
		seen.Add(key)
		assert.Equal(t, []string{"earlier"}, it.ExcludedPlans)
	}
}

func TestGenerateReportsShortfall(t *testing.T) {
	reg, err := registry.Parse([]byte("axis_templates:\n  A:\n    template: \"{X}\"\n"), []byte("vocab:\n  X: [one, two]\n"), nil)
	require.NoError(t, err)
	opts := baseOptions()
	opts.Plan.AxisIDs = []string{"A"}
	opts.Plan.TargetCount = 3
	opts.Plan.MaxAttemptsFactor = 10

	res, err := plan.Generate(reg, opts)
	var shortfall *plan.ShortfallError
	require.True(t, errors.As(err, &shortfall))
	assert.Equal(t, 3, shortfall.Want)
	assert.Equal(t, 2, shortfall.Got)
	assert.Equal(t, 30, shortfall.Attempts)
	assert.Len(t, res.Items, 2)
}

func TestGenerateDedupeNoneAllowsRepeats(t *testing.T) {
	reg, err := registry.Parse([]byte("axis_templates:\n  A:\n    template: \"{X}\"\n"), []byte("vocab:\n  X: [only]\n"), nil)
	require.NoError(t, err)
	opts := baseOptions()
	opts.Plan.AxisIDs = []string{"A"}
	opts.Plan.TargetCount = 3
	opts.Plan.DedupeMode = config.DedupeNone

	res, err := plan.Generate(reg, opts)
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)
}

func TestGenerateFailsOnMissingVocabulary(t *testing.T) {
	reg, err := registry.Parse([]byte("axis_templates:\n  A:\n    template: \"{X} {Y}\"\n"), []byte("vocab:\n  X: [one]\n"), nil)
	require.NoError(t, err)
	opts := baseOptions()
	opts.Plan.AxisIDs = []string{"A"}

	_, err = plan.Generate(reg, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vocab missing for placeholder Y")
}

func TestGenerateUniformTagSamplingCyclesTags(t *testing.T) {
	opts := baseOptions()
	opts.Plan.AxisIDs = []string{"A"}
	opts.Plan.TargetCount = 6
	opts.Plan.TagSampling.Mode = config.TagSamplingUniform

	res, err := plan.Generate(testRegistry(t), opts)
	require.NoError(t, err)
	var tags []string
	for _, it := range res.Items {
		tags = append(tags, it.SlotTags["SHAPE"])
		_, colorTagged := it.SlotTags["COLOR"]
		assert.False(t, colorTagged, "flat categories carry no tag")
	}
	assert.Equal(t, []string{"round", "sharp", "round", "sharp", "round", "sharp"}, tags)
}

func TestGenerateInjectsDomainContextAndHints(t *testing.T) {
	opts := baseOptions()
	opts.Plan.AxisIDs = []string{"B"}
	opts.Plan.DomainInjection = config.DomainInjectionContextAndHints

	res, err := plan.Generate(testRegistry(t), opts)
	require.NoError(t, err)
	for _, it := range res.Items {
		require.Len(t, it.HintsUsed, 2)
		assert.NotEqual(t, it.HintsUsed[0], it.HintsUsed[1])
		assert.Contains(t, []string{"lab", "dock"}, it.DomainID)
		assert.Contains(t, it.FinalPrompt, it.HintsUsed[0])
	}
}

func TestGenerateMixItems(t *testing.T) {
	opts := baseOptions()
	opts.Plan.Mix.Ratio = 1
	opts.Plan.Mix.MinLen = 100
	opts.Plan.Mix.MaxLen = 300

	res, err := plan.Generate(testRegistry(t), opts)
	require.NoError(t, err)
	for _, it := range res.Items {
		assert.Equal(t, model.GenerationMix, it.GenerationType)
		require.Len(t, it.AxisPair, 2)
		assert.NotEqual(t, it.AxisPair[0], it.AxisPair[1])
		assert.Equal(t, it.AxisPair[0]+"+"+it.AxisPair[1], it.AxisID)
		for slot := range it.Slots {
			assert.True(t, strings.HasPrefix(slot, it.AxisPair[0]+".") || strings.HasPrefix(slot, it.AxisPair[1]+"."), slot)
		}
		assert.True(t, strings.HasPrefix(it.FinalPrompt, "Hybrid exploration combining axis"))
		assert.LessOrEqual(t, utf8.RuneCountInString(it.FinalPrompt), 300)
	}
}

func TestClampLength(t *testing.T) {
	short := plan.ClampLength("tiny", 50, 800)
	assert.Equal(t, "tiny"+plan.MixPadding, short)

	long := strings.Repeat("é", 900)
	clamped := plan.ClampLength(long, 500, 800)
	assert.Equal(t, 800, utf8.RuneCountInString(clamped))

	inBand := strings.Repeat("x", 600)
	assert.Equal(t, inBand, plan.ClampLength(inBand, 500, 800))
}

func TestFreezeRefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "explore.jsonl")
	items := []model.PlanItem{{Index: 0, PlanName: "explore", AxisID: "A", Slots: map[string]string{"X": "1"}}}

	require.NoError(t, plan.Freeze(path, items, false))
	err := plan.Freeze(path, items, false)
	assert.True(t, errors.Is(err, plan.ErrPlanExists))
	require.NoError(t, plan.Freeze(path, items, true))

	loaded, err := plan.Load(path)
	require.NoError(t, err)
	assert.Equal(t, items, loaded)

	_, err = plan.Load(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	items := []model.PlanItem{
		{Index: 0, AxisID: "A", Bundle: "x"},
		{Index: 1, AxisID: "B", Bundle: "x"},
		{Index: 2, AxisID: "A+B", AxisPair: []string{"A", "B"}, Bundle: "y"},
		{Index: 3, AxisID: "A", Bundle: "y"},
	}

	byAxis := plan.Filter{Axis: "A"}.Apply(items)
	assert.Equal(t, []int{0, 2, 3}, indices(byAxis))
	assert.Equal(t, []int{0, 2}, indices(plan.Filter{Axis: "A", Count: 2}.Apply(items)))
	assert.Equal(t, []int{2, 3}, indices(plan.Filter{Bundle: "y"}.Apply(items)))
	assert.Equal(t, []int{1, 3}, indices(plan.Filter{Indices: []int{3, 1}}.Apply(items)))
}

func indices(items []model.PlanItem) []int {
	out := []int{}
	for _, it := range items {
		out = append(out, it.Index)
	}
	return out
}

func TestRerunAndResolve(t *testing.T) {
	source := []model.PlanItem{
		{Index: 0, PlanName: "explore", AxisID: "A", FinalPrompt: "p0"},
		{Index: 1, PlanName: "explore", AxisID: "B", FinalPrompt: "p1"},
		{Index: 2, PlanName: "explore", AxisID: "C", FinalPrompt: "p2"},
	}
	items, err := plan.Rerun(source, "explore", "p", "explore_rerun", []int{2, 0, 2, 1})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "A", items[0].AxisID)
	assert.Equal(t, model.GenerationRerun, items[2].GenerationType)
	assert.Equal(t, 2, *items[2].SourceIndex)
	assert.Equal(t, 2, items[2].Index)

	_, err = plan.Rerun(source, "explore", "p", "r", []int{9})
	assert.Error(t, err)

	resolver := &plan.Resolver{
		Registry: testRegistry(t),
		Latest: plan.LatestRecords{
			{PlanName: "explore", Index: 0}: {FinalPrompt: "from manifest"},
			{PlanName: "explore", Index: 1}: {},
		},
	}
	prompt, ierr := resolver.Resolve(items[0])
	require.Nil(t, ierr)
	assert.Equal(t, "from manifest", prompt)

	_, ierr = resolver.Resolve(items[1])
	require.NotNil(t, ierr)
	assert.Equal(t, model.ErrorTypeMissingSourcePrompt, ierr.Type)

	_, ierr = resolver.Resolve(items[2])
	require.NotNil(t, ierr)
	assert.Equal(t, model.ErrorTypeMissingSource, ierr.Type)

	_, ierr = resolver.Resolve(model.PlanItem{Index: 5, DomainID: "gone", FinalPrompt: "x"})
	require.NotNil(t, ierr)
	assert.Equal(t, model.ErrorTypeMissingDomain, ierr.Type)

	prompt, ierr = resolver.Resolve(model.PlanItem{DomainID: "lab", FinalPrompt: "x"})
	require.Nil(t, ierr)
	assert.Equal(t, "x", prompt)
}

func TestBiasAndOverlap(t *testing.T) {
	a := []model.PlanItem{
		{AxisID: "A", Slots: map[string]string{"X": "red"}, SlotTags: map[string]string{"X": "warm"}},
		{AxisID: "A", Slots: map[string]string{"X": "blue"}, SlotTags: map[string]string{"X": "cold"}},
		{AxisID: "B", Slots: map[string]string{"X": "red"}, SlotTags: map[string]string{"X": "warm"}},
	}
	report := plan.Bias(a, 1)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, []plan.Count{{Name: "A", Count: 2}, {Name: "B", Count: 1}}, report.Axes)
	assert.Equal(t, []plan.Count{{Name: "red", Count: 2}}, report.Tokens)
	require.Len(t, report.Tags, 1)
	assert.Equal(t, plan.TagStats{Slot: "X", Total: 3, Unique: 2, Top: []plan.Count{{Name: "warm", Count: 2}}}, report.Tags[0])

	b := []model.PlanItem{a[0], {AxisID: "C", Slots: map[string]string{"X": "red"}}}
	overlap := plan.Overlap(a, b)
	assert.Equal(t, 3, overlap.KeysA)
	assert.Equal(t, 2, overlap.KeysB)
	assert.Equal(t, 1, overlap.Overlap)
	assert.Equal(t, []string{"A|X=red"}, overlap.Sample)
}
