package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tigerroll/serendip/internal/app"
	storage "github.com/tigerroll/serendip/pkg/batch/adapter/storage"
	usecase "github.com/tigerroll/serendip/pkg/batch/core/application/usecase"
	"github.com/tigerroll/serendip/pkg/batch/engine/tracker"
)

func (c *cli) newManifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Maintain the manifest and metadata side-files",
	}
	cmd.AddCommand(
		c.newManifestCleanCmd(),
		c.newManifestExportCmd(),
		c.newManifestMoveErrorsCmd(),
		c.newManifestCleanLegacyCmd(),
	)
	return cmd
}

func (c *cli) newManifestCleanCmd() *cobra.Command {
	var (
		plans []string
		yes   bool
	)
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Compact the manifest to the latest successful record per item",
		Long: `Keeps one record per (plan, index): the latest success whose image still
exists. Without --yes only the statistics are printed; with --yes the
manifest is backed up and rewritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var explorer usecase.ManifestExplorer
			return app.Execute(cmd.Context(), c.cfg, func(ctx context.Context) error {
				res, err := explorer.Clean(ctx, plans, yes)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "input=%d kept=%d skipped_missing_image=%d\n",
					res.Stats.Input, res.Stats.Kept, res.Stats.SkippedMissingImage)
				if res.Applied {
					fmt.Fprintf(out, "rewrote %s (backup %s)\n", c.cfg.ManifestPath(), res.Backup)
				} else {
					fmt.Fprintln(out, "dry run; pass --yes to rewrite the manifest")
				}
				return nil
			}, &explorer)
		},
	}
	cmd.Flags().StringSliceVar(&plans, "plans", nil, "only compact records of these plans")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "rewrite the manifest")
	return cmd
}

func (c *cli) newManifestExportCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the latest record per item as a Parquet file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var explorer usecase.ManifestExplorer
			return app.Execute(cmd.Context(), c.cfg, func(ctx context.Context) error {
				n, err := explorer.ExportParquet(ctx, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", n, path)
				return nil
			}, &explorer)
		},
	}
	cmd.Flags().StringVar(&path, "parquet", "manifest.parquet", "destination file")
	return cmd
}

func (c *cli) newManifestMoveErrorsCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "move-errors <meta_root> <dest_root>",
		Short: "Move metadata side-files of failed items out of the metadata tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			moves, err := tracker.MoveErrorMeta(args[0], args[1], dryRun || c.cfg.Serendip.DryRun)
			for _, m := range moves {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", m.From, m.To)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d file(s)\n", len(moves))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "list", false, "only list the files that would move")
	return cmd
}

func (c *cli) newManifestCleanLegacyCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clean-legacy",
		Short: "Remove batch images and side-files named without their plan",
		Long: `Finds batch_NNNN_* images and metadata side-files left by the old naming,
which carried no plan name. Without --yes only the matches are printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := c.cfg.ArtifactRoot()
			found, err := tracker.RemoveLegacyArtifacts(!yes || c.cfg.Serendip.DryRun,
				filepath.Join(root, storage.ImagesDir), filepath.Join(root, storage.MetaDir))
			for _, path := range found {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			if err != nil {
				return err
			}
			if !yes || c.cfg.Serendip.DryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d file(s); dry run, pass --yes to remove\n", len(found))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d file(s)\n", len(found))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "remove the matches")
	return cmd
}
