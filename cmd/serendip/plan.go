package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tigerroll/serendip/internal/app"
	usecase "github.com/tigerroll/serendip/pkg/batch/core/application/usecase"
)

func (c *cli) newPlanCmd() *cobra.Command {
	var pf planFlags
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate and freeze a plan without generating images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pf.applySeed(cmd, c.cfg)
			planName := c.planName(pf.name)
			var planner usecase.Planner
			return app.Execute(cmd.Context(), c.cfg, func(ctx context.Context) error {
				items, err := planner.Ensure(ctx, planName, usecase.EnsureOptions{
					Regenerate:   pf.regenerate,
					AllowPartial: pf.allowPartial,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d items (%s)\n", planName, len(items), c.cfg.PlanPath(planName))
				return nil
			}, &planner)
		},
	}
	pf.register(cmd)
	cmd.AddCommand(c.newPlanRerunCmd())
	return cmd
}

func (c *cli) newPlanRerunCmd() *cobra.Command {
	var (
		source     string
		indices    []int
		errorsOnly bool
	)
	cmd := &cobra.Command{
		Use:   "rerun <plan>",
		Short: "Freeze a rerun plan over items of another plan",
		Long: `Copies the selected items of --source-plan into a new frozen plan. The new
items keep the source prompts, reference their source index, and are
recorded under the new plan name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(indices) == 0 && !errorsOnly {
				return errors.New("either --indices or --errors is required")
			}
			var planner usecase.Planner
			return app.Execute(cmd.Context(), c.cfg, func(ctx context.Context) error {
				items, err := planner.FreezeRerun(ctx, args[0], source, indices, errorsOnly)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d items from %s\n", args[0], len(items), source)
				return nil
			}, &planner)
		},
	}
	cmd.Flags().StringVar(&source, "source-plan", "", "plan to copy items from")
	cmd.Flags().IntSliceVar(&indices, "indices", nil, "source indices to rerun")
	cmd.Flags().BoolVar(&errorsOnly, "errors", false, "rerun every source index whose latest record is an error")
	_ = cmd.MarkFlagRequired("source-plan")
	cmd.MarkFlagsMutuallyExclusive("indices", "errors")
	return cmd
}
