package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tigerroll/serendip/internal/app"
	usecase "github.com/tigerroll/serendip/pkg/batch/core/application/usecase"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/partition"
	"github.com/tigerroll/serendip/pkg/batch/support/util/logger"
)

func (c *cli) newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a plan through asynchronous batch jobs",
	}
	cmd.AddCommand(
		c.newBatchSubmitCmd(),
		c.newBatchStatusCmd(),
		c.newBatchCollectCmd(),
		c.newBatchRehydrateCmd(),
	)
	return cmd
}

func (c *cli) newBatchSubmitCmd() *cobra.Command {
	var (
		pf        planFlags
		ff        filterFlags
		force     bool
		chunkSize int
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Split pending plan items into chunks and submit one job per chunk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.RequireAPIKey(); err != nil {
				return err
			}
			if chunkSize > 0 {
				c.cfg.Serendip.Batch.ChunkSize = chunkSize
			}
			pf.applySeed(cmd, c.cfg)
			planName := c.planName(pf.name)
			var planner usecase.Planner
			var operator usecase.BatchOperator
			return app.Execute(cmd.Context(), c.cfg, func(ctx context.Context) error {
				if pf.regenerate || pf.allowPartial {
					opts := usecase.EnsureOptions{Regenerate: pf.regenerate, AllowPartial: pf.allowPartial}
					if _, err := planner.Ensure(ctx, planName, opts); err != nil {
						return err
					}
				}
				res, err := operator.Submit(ctx, planName, ff.filter(), partition.SubmitOptions{
					Force:  force,
					DryRun: c.cfg.Serendip.DryRun,
				})
				if res != nil {
					printSubmit(cmd.OutOrStdout(), res)
				}
				return err
			}, &planner, &operator)
		},
	}
	pf.register(cmd)
	ff.register(cmd)
	cmd.Flags().BoolVar(&force, "force", false, "resubmit chunks the ledger already holds")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "items per batch job (default from config)")
	return cmd
}

func printSubmit(w io.Writer, res *partition.SubmitResult) {
	for _, row := range res.Submitted {
		fmt.Fprintf(w, "chunk %d [%d-%d] %d items -> %s\n", row.ChunkID, row.FirstIndex, row.LastIndex, row.ItemCount, row.JobName)
	}
	for _, f := range res.DryRunFiles {
		fmt.Fprintf(w, "dry run: wrote %s\n", f)
	}
	fmt.Fprintf(w, "submitted=%d skipped_completed=%d skipped_existing=%d range_changed=%d integrity_failures=%d\n",
		len(res.Submitted), len(res.SkippedCompleted), len(res.SkippedExisting), len(res.RangeChanged), res.IntegrityFailures)
}

func (c *cli) newBatchStatusCmd() *cobra.Command {
	var planName string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of every submitted chunk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.RequireAPIKey(); err != nil {
				return err
			}
			var operator usecase.BatchOperator
			return app.Execute(cmd.Context(), c.cfg, func(ctx context.Context) error {
				report, err := operator.Status(ctx, c.planName(planName))
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), report)
				return nil
			}, &operator)
		},
	}
	cmd.Flags().StringVar(&planName, "plan", "", "plan name (default from config)")
	return cmd
}

func printStatus(w io.Writer, report *partition.StatusReport) {
	for _, ch := range report.Chunks {
		line := fmt.Sprintf("chunk %d [%d-%d] %s %s", ch.Row.ChunkID, ch.Row.FirstIndex, ch.Row.LastIndex, ch.Row.JobName, ch.State())
		if ch.Err != nil {
			line += " (" + ch.Err.Error() + ")"
		} else if ch.Job != nil && ch.Job.Error != "" {
			line += " (" + ch.Job.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
	parts := make([]string, 0, len(report.Histogram))
	for _, s := range report.States() {
		parts = append(parts, fmt.Sprintf("%s=%d", s, report.Histogram[s]))
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
}

// allTerminal reports whether no chunk of the report can change state anymore.
func allTerminal(report *partition.StatusReport) bool {
	for _, ch := range report.Chunks {
		if ch.Err == nil && !ch.State().IsTerminal() {
			return false
		}
	}
	return true
}

func (c *cli) newBatchCollectCmd() *cobra.Command {
	var (
		planName string
		wait     bool
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Download succeeded job outputs and reconcile them into the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.RequireAPIKey(); err != nil {
				return err
			}
			name := c.planName(planName)
			var operator usecase.BatchOperator
			return app.Execute(cmd.Context(), c.cfg, func(ctx context.Context) error {
				if wait {
					if err := waitTerminal(ctx, operator, name, time.Duration(c.cfg.Serendip.Batch.PollingIntervalSeconds)*time.Second); err != nil {
						return err
					}
				}
				res, err := operator.Collect(ctx, name)
				if res != nil {
					for _, ch := range res.Chunks {
						line := fmt.Sprintf("chunk %d %s %s", ch.ChunkID, ch.JobName, ch.State)
						if ch.OutputPath != "" {
							line += " -> " + ch.OutputPath
						}
						if ch.Err != nil {
							line += " (" + ch.Err.Error() + ")"
						}
						fmt.Fprintln(cmd.OutOrStdout(), line)
					}
					printReconcile(cmd.OutOrStdout(), res.Stats)
				}
				return err
			}, &operator)
		},
	}
	cmd.Flags().StringVar(&planName, "plan", "", "plan name (default from config)")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until every chunk is terminal before collecting")
	return cmd
}

func waitTerminal(ctx context.Context, operator usecase.BatchOperator, planName string, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := operator.Status(ctx, planName)
		if err != nil {
			return err
		}
		if allTerminal(report) {
			return nil
		}
		logger.Infof("Waiting for %d chunk(s) of plan '%s'; next poll in %s.", len(report.Chunks), planName, interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printReconcile(w io.Writer, s partition.ReconcileStats) {
	fmt.Fprintf(w, "lines=%d success=%d errors=%d skipped=%d invalid=%d\n", s.Lines, s.Success, s.Errors, s.Skipped, s.Invalid)
}

func (c *cli) newBatchRehydrateCmd() *cobra.Command {
	var (
		planName  string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "rehydrate",
		Short: "Reconcile already downloaded batch outputs into the manifest",
		Long: `Replays every downloaded output file of the plan without contacting the
remote service, restoring images and records lost from the output tree.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var operator usecase.BatchOperator
			return app.Execute(cmd.Context(), c.cfg, func(ctx context.Context) error {
				stats, err := operator.Rehydrate(ctx, c.planName(planName), overwrite)
				if stats != nil {
					printReconcile(cmd.OutOrStdout(), *stats)
				}
				return err
			}, &operator)
		},
	}
	cmd.Flags().StringVar(&planName, "plan", "", "plan name (default from config)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "rewrite images that already exist")
	return cmd
}
