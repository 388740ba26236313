package usecase

import (
	"context"
	"errors"
	"fmt"

	config "github.com/tigerroll/serendip/pkg/batch/core/config"
	model "github.com/tigerroll/serendip/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/serendip/pkg/batch/core/domain/repository"
	"github.com/tigerroll/serendip/pkg/batch/engine/plan"
	"github.com/tigerroll/serendip/pkg/batch/engine/tracker"
	exception "github.com/tigerroll/serendip/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

// EnsureOptions controls plan generation in Ensure.
type EnsureOptions struct {
	Regenerate bool
	// AllowPartial freezes a plan that fell short of the target count.
	AllowPartial bool
}

// DefaultPlanner implements Planner over the profile registry and the plan files.
type DefaultPlanner struct {
	cfg      *config.Config
	registry RegistryLoader
	manifest repository.ManifestRepository
}

// NewDefaultPlanner creates a planner. The registry is loaded only when a
// plan has to be generated.
func NewDefaultPlanner(cfg *config.Config, reg RegistryLoader, manifest repository.ManifestRepository) *DefaultPlanner {
	return &DefaultPlanner{cfg: cfg, registry: reg, manifest: manifest}
}

// Load implements Planner.
func (p *DefaultPlanner) Load(ctx context.Context, planName string) ([]model.PlanItem, error) {
	return plan.Load(p.cfg.PlanPath(planName))
}

// Ensure implements Planner.
func (p *DefaultPlanner) Ensure(ctx context.Context, planName string, opts EnsureOptions) ([]model.PlanItem, error) {
	path := p.cfg.PlanPath(planName)
	if plan.Exists(path) && !opts.Regenerate {
		items, err := plan.Load(path)
		if err != nil {
			return nil, err
		}
		logger.Infof("Loaded frozen plan %s (%d items).", path, len(items))
		return items, nil
	}

	reg, err := p.registry()
	if err != nil {
		return nil, err
	}
	pc := p.cfg.Serendip.Plan
	exclusions := plan.KeySet{}
	if len(pc.ExcludePlans) > 0 {
		paths := make([]string, len(pc.ExcludePlans))
		for i, name := range pc.ExcludePlans {
			paths[i] = p.cfg.PlanPath(name)
		}
		if exclusions, err = plan.LoadExclusions(paths); err != nil {
			return nil, err
		}
		logger.Infof("Excluding %d keys from plans %v.", len(exclusions), pc.ExcludePlans)
	}

	res, err := plan.Generate(reg, plan.Options{
		Profile:       p.cfg.Serendip.Profile,
		PlanName:      planName,
		Plan:          pc,
		Exclusions:    exclusions,
		ExcludedPlans: pc.ExcludePlans,
	})
	var short *plan.ShortfallError
	switch {
	case errors.As(err, &short) && opts.AllowPartial:
		logger.Warnf("%v; freezing the partial plan.", err)
	case err != nil:
		return nil, err
	}
	if err := plan.Freeze(path, res.Items, opts.Regenerate); err != nil {
		return nil, err
	}
	logger.Infof("Froze plan %s (%d items, seed %d).", path, len(res.Items), res.Seed)
	return res.Items, nil
}

// FreezeRerun implements Planner.
func (p *DefaultPlanner) FreezeRerun(ctx context.Context, planName, sourcePlan string, indices []int, errorsOnly bool) ([]model.PlanItem, error) {
	if planName == sourcePlan {
		return nil, exception.NewBatchErrorf("usecase", "rerun plan must differ from its source plan %s", sourcePlan)
	}
	source, err := plan.Load(p.cfg.PlanPath(sourcePlan))
	if err != nil {
		return nil, err
	}
	if errorsOnly {
		records, err := p.manifest.LoadAll(ctx)
		if err != nil {
			return nil, err
		}
		tr := tracker.New(records, nil)
		indices = tr.ErrorIndices(sourcePlan)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("no indices selected for rerun of %s", sourcePlan)
	}
	items, err := plan.Rerun(source, sourcePlan, p.cfg.Serendip.Profile, planName, indices)
	if err != nil {
		return nil, err
	}
	if err := plan.Freeze(p.cfg.PlanPath(planName), items, false); err != nil {
		return nil, err
	}
	logger.Infof("Froze rerun plan %s with %d items from %s.", planName, len(items), sourcePlan)
	return items, nil
}

var _ Planner = (*DefaultPlanner)(nil)
