package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tigerroll/serendip/internal/app"
	port "github.com/tigerroll/serendip/pkg/batch/core/application/port"
	usecase "github.com/tigerroll/serendip/pkg/batch/core/application/usecase"
	"github.com/tigerroll/serendip/pkg/batch/engine/step/partition"
)

func (c *cli) newFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "List and delete files held by the remote Files API",
	}
	cmd.AddCommand(
		c.newFilesListCmd(),
		c.newFilesDeleteCmd(),
		c.newFilesPurgeCmd(),
	)
	return cmd
}

func (c *cli) newFilesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every remote file, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.RequireAPIKey(); err != nil {
				return err
			}
			var files usecase.RemoteFileManager
			return app.Execute(cmd.Context(), c.cfg, func(ctx context.Context) error {
				list, err := files.List(ctx)
				if err != nil {
					return err
				}
				printFiles(cmd.OutOrStdout(), list)
				return nil
			}, &files)
		},
	}
}

func printFiles(w io.Writer, files []port.RemoteFile) {
	var total int64
	for _, f := range files {
		total += f.SizeBytes
		fmt.Fprintf(w, "%s | size=%s | created=%s | expires=%s | display=%s\n",
			f.Name, formatSize(f.SizeBytes), formatTime(f.CreateTime), formatTime(f.ExpirationTime), orDash(f.DisplayName))
	}
	fmt.Fprintf(w, "count=%d total=%s\n", len(files), formatSize(total))
}

func (c *cli) newFilesDeleteCmd() *cobra.Command {
	var (
		olderThan time.Duration
		prefixes  []string
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "delete [file...]",
		Short: "Delete named remote files or those matching --older-than and --display-prefix",
		Long: `Deletes the named files plus every listed file that matches all of the
given filters. Without --yes only the candidates are printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sel := partition.FileSelector{Names: args, OlderThan: olderThan, DisplayPrefixes: prefixes}
			if len(sel.Names) == 0 && sel.OlderThan <= 0 && len(sel.DisplayPrefixes) == 0 {
				return errors.New("name files to delete or pass --older-than or --display-prefix")
			}
			if err := c.cfg.RequireAPIKey(); err != nil {
				return err
			}
			var files usecase.RemoteFileManager
			return app.Execute(cmd.Context(), c.cfg, func(ctx context.Context) error {
				res, err := files.Delete(ctx, sel, yes && !c.cfg.Serendip.DryRun)
				if res != nil {
					printCleanup(cmd.OutOrStdout(), res)
				}
				return err
			}, &files)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "select files created longer ago than this (e.g. 48h)")
	cmd.Flags().StringSliceVar(&prefixes, "display-prefix", nil, "select files whose display name starts with one of these")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "delete the candidates")
	return cmd
}

func (c *cli) newFilesPurgeCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every remote input and output file of the profile",
		Long: `Selects uploads whose display name carries the profile prefix, every input
file named in the profile's ledgers and the output file of every ledger job.
Without --yes only the candidates are printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.RequireAPIKey(); err != nil {
				return err
			}
			var files usecase.RemoteFileManager
			return app.Execute(cmd.Context(), c.cfg, func(ctx context.Context) error {
				res, err := files.Purge(ctx, yes && !c.cfg.Serendip.DryRun)
				if res != nil {
					printCleanup(cmd.OutOrStdout(), res)
				}
				return err
			}, &files)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "delete the candidates")
	return cmd
}

func printCleanup(w io.Writer, res *partition.FileCleanup) {
	if !res.Applied {
		for _, name := range res.Candidates {
			fmt.Fprintln(w, name)
		}
		fmt.Fprintf(w, "candidates=%d; dry run, pass --yes to delete\n", len(res.Candidates))
		return
	}
	for _, name := range res.Deleted {
		fmt.Fprintf(w, "deleted %s\n", name)
	}
	for _, name := range res.Missing {
		fmt.Fprintf(w, "not found %s\n", name)
	}
	fmt.Fprintf(w, "deleted=%d missing=%d failed=%d\n", len(res.Deleted), len(res.Missing), len(res.Failed))
}

func formatSize(n int64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(n)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	return fmt.Sprintf("%.2f%s", size, units[i])
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
