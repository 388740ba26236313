package main

import (
	"github.com/spf13/cobra"

	config "github.com/tigerroll/serendip/pkg/batch/core/config"
	"github.com/tigerroll/serendip/pkg/batch/engine/plan"
)

// filterFlags select a subset of a frozen plan.
type filterFlags struct {
	axis    string
	bundle  string
	indices []int
	count   int
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.axis, "axis", "", "only items of this axis (or mix items containing it)")
	cmd.Flags().StringVar(&f.bundle, "bundle", "", "only items of this bundle")
	cmd.Flags().IntSliceVar(&f.indices, "indices", nil, "only these plan indices, e.g. --indices 3,7,12")
	cmd.Flags().IntVar(&f.count, "count", 0, "at most this many matching items (0 = all)")
}

func (f *filterFlags) filter() plan.Filter {
	return plan.Filter{Axis: f.axis, Bundle: f.bundle, Indices: f.indices, Count: f.count}
}

// planFlags cover plan creation.
type planFlags struct {
	name         string
	regenerate   bool
	allowPartial bool
	seed         int64
}

func (p *planFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.name, "plan", "", "plan name (default from config)")
	cmd.Flags().BoolVar(&p.regenerate, "regen", false, "regenerate the plan even if it is frozen")
	cmd.Flags().BoolVar(&p.allowPartial, "allow-partial", false, "freeze a plan smaller than target_count")
	cmd.Flags().Int64Var(&p.seed, "seed", 0, "random seed for a new plan (default from config, else random)")
}

// applySeed sets the plan seed when --seed was given.
func (p *planFlags) applySeed(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("seed") {
		seed := p.seed
		cfg.Serendip.Plan.Seed = &seed
	}
}

func (c *cli) planName(name string) string {
	if name != "" {
		return name
	}
	return c.cfg.Serendip.Plan.Name
}
