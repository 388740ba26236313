package main

import (
	"fmt"

	"github.com/spf13/cobra"

	sqlRepo "github.com/tigerroll/serendip/pkg/batch/infrastructure/repository/sql"
)

func (c *cli) newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the SQL mirror of the manifest and ledgers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema migrations of the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbCfg := c.cfg.Serendip.Database
			version, err := sqlRepo.MigrateConfigured(dbCfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", dbCfg.Type, version)
			return nil
		},
	})
	return cmd
}
