package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/tigerroll/serendip/internal/app"
	usecase "github.com/tigerroll/serendip/pkg/batch/core/application/usecase"
)

func (c *cli) newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect frozen plans",
	}
	cmd.AddCommand(c.newReportBiasCmd(), c.newReportOverlapCmd())
	return cmd
}

func (c *cli) newReportBiasCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "bias <plan>",
		Short: "Print the axis, tag and token distribution of a plan as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var explorer usecase.ManifestExplorer
			return app.Execute(cmd.Context(), c.cfg, func(ctx context.Context) error {
				report, err := explorer.Bias(ctx, args[0], top)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			}, &explorer)
		},
	}
	cmd.Flags().IntVar(&top, "top", 20, "number of most frequent values per slot")
	return cmd
}

func (c *cli) newReportOverlapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "overlap <plan_a> <plan_b>",
		Short: "Print the dedupe keys two plans share as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var explorer usecase.ManifestExplorer
			return app.Execute(cmd.Context(), c.cfg, func(ctx context.Context) error {
				report, err := explorer.Overlap(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			}, &explorer)
		},
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
