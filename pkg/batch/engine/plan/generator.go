// Package plan expands a vocabulary registry into a frozen, ordered list of
// plan items and provides the operations that read, filter and audit plans.
package plan

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/tigerroll/serendip/pkg/batch/core/config"
	"github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	"github.com/tigerroll/serendip/pkg/batch/core/registry"
	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
	"github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

const moduleName = "plan"

// KeySet is a set of dedupe keys.
type KeySet map[string]struct{}

// Add inserts key.
func (k KeySet) Add(key string) { k[key] = struct{}{} }

// Has reports whether key is present.
func (k KeySet) Has(key string) bool {
	_, ok := k[key]
	return ok
}

// Options are the inputs of Generate besides the registry.
type Options struct {
	Profile  string
	PlanName string
	Plan     config.PlanConfig
	// Exclusions are dedupe keys of earlier plans that must not be produced again.
	Exclusions KeySet
	// ExcludedPlans names the plans Exclusions came from; it is recorded on every item.
	ExcludedPlans []string
}

// ShortfallError reports that the target count could not be reached within the attempt bound.
type ShortfallError struct {
	Want     int
	Got      int
	Attempts int
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("plan generation produced %d of %d items after %d attempts; dedupe and exclusions exhaust the vocabulary", e.Got, e.Want, e.Attempts)
}

// Result is the outcome of Generate.
type Result struct {
	Items []model.PlanItem
	Seed  int64
	// CapWarnings counts slots that exceeded the per-token cap.
	CapWarnings int
}

type generator struct {
	reg     *registry.Registry
	opts    Options
	pc      config.PlanConfig
	rng     *rand.Rand
	st      *SamplerState
	seed    int64
	axes    []string
	weights []float64
	seen    KeySet
	capHits int
}

// Generate produces opts.Plan.TargetCount plan items. It is a pure function of
// the registry, the options and the seed: given a seed the output is identical
// across runs. When the target is unreachable within TargetCount *
// MaxAttemptsFactor draws it returns the items found and a *ShortfallError.
func Generate(reg *registry.Registry, opts Options) (*Result, error) {
	pc := opts.Plan
	if len(pc.AxisIDs) == 0 {
		pc.AxisIDs = reg.AxisIDs()
	}
	injectDomains := pc.DomainInjection != "" && pc.DomainInjection != config.DomainInjectionNone
	if err := reg.Validate(pc.AxisIDs, injectDomains, pc.DomainInjection == config.DomainInjectionContextAndHints); err != nil {
		return nil, err
	}
	if pc.Mix.Ratio > 0 && len(pc.AxisIDs) < 2 {
		return nil, exception.NewBatchError(moduleName, "mix items need at least two axes", nil, false)
	}

	var seed int64
	if pc.Seed != nil {
		seed = *pc.Seed
	} else {
		seed = rand.Int64N(math.MaxInt32)
	}
	g := &generator{
		reg:  reg,
		opts: opts,
		pc:   pc,
		rng:  newRNG(seed),
		st:   NewSamplerState(),
		seed: seed,
		axes: pc.AxisIDs,
		seen: KeySet{},
	}
	for _, ax := range g.axes {
		w := 1.0
		if v, ok := pc.AxisWeights[ax]; ok {
			w = v
		}
		g.weights = append(g.weights, w)
	}

	target := pc.TargetCount
	mixCount := int(math.Round(float64(target) * pc.Mix.Ratio))
	kinds := make([]model.GenerationType, target)
	for i := range kinds {
		kinds[i] = model.GenerationStandard
		if i < mixCount {
			kinds[i] = model.GenerationMix
		}
	}
	g.rng.Shuffle(len(kinds), func(i, j int) { kinds[i], kinds[j] = kinds[j], kinds[i] })

	var queue []string
	if pc.AxisDistribution == config.DistributionBalanced {
		queue = balancedQueue(g.rng, g.axes, g.weights, target-mixCount)
	}

	factor := pc.MaxAttemptsFactor
	if factor <= 0 {
		factor = 50
	}
	maxAttempts := target * factor
	items := make([]model.PlanItem, 0, target)
	standard := 0
	attempts := 0
	for len(items) < target && attempts < maxAttempts {
		attempts++
		d := newDraft()
		var item model.PlanItem
		var err error
		if kinds[len(items)] == model.GenerationMix {
			item, err = g.mixItem(d)
		} else {
			axis := ""
			if queue != nil {
				// Balanced mode keeps the queued axis on collision and redraws slots only.
				axis = queue[standard]
			} else {
				axis = weightedChoice(g.rng, g.axes, g.weights)
			}
			item, err = g.standardItem(axis, d)
		}
		if err != nil {
			return nil, err
		}
		key := item.DedupeKey()
		if g.strict() && (g.seen.Has(key) || opts.Exclusions.Has(key)) {
			continue
		}
		g.seen.Add(key)
		g.st.commit(d, pc.Avoidance.Window)
		if item.GenerationType == model.GenerationStandard {
			standard++
		}
		item.Index = len(items)
		items = append(items, item)
	}

	res := &Result{Items: items, Seed: seed, CapWarnings: g.capHits}
	if g.capHits > 0 {
		logger.Warnf("Plan %s: %d slot selections exceeded the per-token cap of %d.", opts.PlanName, g.capHits, pc.Avoidance.MaxTokenCount)
	}
	if len(items) < target {
		return res, &ShortfallError{Want: target, Got: len(items), Attempts: attempts}
	}
	return res, nil
}

func (g *generator) strict() bool {
	return g.pc.DedupeMode == "" || g.pc.DedupeMode == config.DedupeStrict
}

func (g *generator) base(axisID string) model.PlanItem {
	seed := g.seed
	return model.PlanItem{
		Profile:       g.opts.Profile,
		PlanName:      g.opts.PlanName,
		AxisID:        axisID,
		SeedUsed:      &seed,
		ExcludedPlans: g.opts.ExcludedPlans,
	}
}

// resolveSlots samples every placeholder of axis. keyPrefix namespaces the slot keys of mix items.
func (g *generator) resolveSlots(axis registry.AxisTemplate, d *draft, keyPrefix string, slots, tags map[string]string) map[string]string {
	values := map[string]string{}
	for _, ph := range axis.Placeholders {
		cat, _ := g.reg.Category(ph)
		mode := tagMode(g.pc.TagSampling, ph)
		choice := sampleSlot(g.rng, g.st, d, cat, mode, g.pc.Avoidance)
		if choice.capExceed {
			g.capHits++
			logger.Debugf("Token %q exceeds the per-token cap in %s.", choice.value, ph)
		}
		values[ph] = choice.value
		slots[keyPrefix+ph] = choice.value
		if choice.tag != "" {
			tags[keyPrefix+ph] = choice.tag
		}
	}
	return values
}

// domainContext draws the domain and hints injected into the item, if any.
func (g *generator) domainContext() (*registry.Domain, []string) {
	if g.pc.DomainInjection == "" || g.pc.DomainInjection == config.DomainInjectionNone {
		return nil, nil
	}
	domains := g.reg.Domains()
	d := domains[g.rng.IntN(len(domains))]
	if g.pc.DomainInjection != config.DomainInjectionContextAndHints {
		return &d, nil
	}
	perm := g.rng.Perm(len(d.Hints))
	return &d, []string{d.Hints[perm[0]], d.Hints[perm[1]]}
}

func reservedValues(d *registry.Domain, hints []string) map[string]string {
	v := map[string]string{registry.FieldContext: "", registry.FieldHint1: "", registry.FieldHint2: ""}
	if d != nil {
		v[registry.FieldContext] = d.Context
	}
	if len(hints) == 2 {
		v[registry.FieldHint1], v[registry.FieldHint2] = hints[0], hints[1]
	}
	return v
}

func (g *generator) render(axis registry.AxisTemplate, slotValues, reserved map[string]string) (string, error) {
	values := make(map[string]string, len(slotValues)+len(reserved))
	for k, v := range reserved {
		values[k] = v
	}
	for k, v := range slotValues {
		values[k] = v
	}
	out, err := registry.Render(axis.Template, values)
	if err != nil {
		return "", exception.NewBatchError(moduleName, fmt.Sprintf("axis %s", axis.ID), err, false)
	}
	return out, nil
}

func (g *generator) withSuffix(body string) string {
	return strings.TrimSpace(strings.TrimSpace(body) + " " + g.pc.GlobalSuffix)
}

func (g *generator) standardItem(axisID string, d *draft) (model.PlanItem, error) {
	axis, _ := g.reg.Axis(axisID)
	item := g.base(axisID)
	item.GenerationType = model.GenerationStandard
	item.TemplateText = axis.Template
	item.Slots = map[string]string{}
	tags := map[string]string{}

	values := g.resolveSlots(axis, d, "", item.Slots, tags)
	domain, hints := g.domainContext()
	body, err := g.render(axis, values, reservedValues(domain, hints))
	if err != nil {
		return model.PlanItem{}, err
	}
	item.FinalPrompt = g.withSuffix(body)
	applyDomain(&item, domain, hints)
	if len(tags) > 0 {
		item.SlotTags = tags
	}
	return item, nil
}

func (g *generator) mixItem(d *draft) (model.PlanItem, error) {
	a := weightedChoice(g.rng, g.axes, g.weights)
	var rest []string
	var restW []float64
	for i, ax := range g.axes {
		if ax != a {
			rest = append(rest, ax)
			restW = append(restW, g.weights[i])
		}
	}
	b := weightedChoice(g.rng, rest, restW)

	item := g.base(a + "+" + b)
	item.GenerationType = model.GenerationMix
	item.AxisPair = []string{a, b}
	item.Slots = map[string]string{}
	tags := map[string]string{}

	domain, hints := g.domainContext()
	reserved := reservedValues(domain, hints)
	var parts, templates []string
	for _, axisID := range item.AxisPair {
		axis, _ := g.reg.Axis(axisID)
		values := g.resolveSlots(axis, d, axisID+".", item.Slots, tags)
		body, err := g.render(axis, values, reserved)
		if err != nil {
			return model.PlanItem{}, err
		}
		parts = append(parts, strings.TrimSpace(body))
		templates = append(templates, axis.Template)
	}
	item.TemplateText = strings.Join(templates, " | ")
	combined := combineMix(a, b, domain, hints, parts[0], parts[1])
	item.FinalPrompt = ClampLength(g.withSuffix(combined), g.pc.Mix.MinLen, g.pc.Mix.MaxLen)
	applyDomain(&item, domain, hints)
	if len(tags) > 0 {
		item.SlotTags = tags
	}
	return item, nil
}

func applyDomain(item *model.PlanItem, d *registry.Domain, hints []string) {
	if d == nil {
		return
	}
	item.Bundle = d.Bundle
	item.DomainID = d.DomainID
	item.HintsUsed = hints
}
