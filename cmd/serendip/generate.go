package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tigerroll/serendip/internal/app"
	usecase "github.com/tigerroll/serendip/pkg/batch/core/application/usecase"
)

func (c *cli) newGenerateCmd() *cobra.Command {
	var (
		pf planFlags
		ff filterFlags
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate images for a plan synchronously",
		Long: `Freezes the plan if needed and generates every pending item one request at
a time. Items that already have a successful record are skipped, so an
interrupted run can be restarted with the same command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.RequireAPIKey(); err != nil {
				return err
			}
			pf.applySeed(cmd, c.cfg)
			planName := c.planName(pf.name)
			var planner usecase.Planner
			var launcher usecase.RunLauncher
			return app.Execute(cmd.Context(), c.cfg, func(ctx context.Context) error {
				if pf.regenerate || pf.allowPartial {
					opts := usecase.EnsureOptions{Regenerate: pf.regenerate, AllowPartial: pf.allowPartial}
					if _, err := planner.Ensure(ctx, planName, opts); err != nil {
						return err
					}
				}
				summary, err := launcher.Launch(ctx, planName, ff.filter())
				fmt.Fprintf(cmd.OutOrStdout(), "total=%d success=%d failed=%d skipped=%d integrity=%d\n",
					summary.Total, summary.Success, summary.Failed, summary.Skipped, summary.Integrity)
				return err
			}, &planner, &launcher)
		},
	}
	pf.register(cmd)
	ff.register(cmd)
	return cmd
}
