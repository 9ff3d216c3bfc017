package cmd

import (
	"errors"
	"fmt"

	"github.com/goliatone/go-tenant-auth/config"
	"github.com/goliatone/go-tenant-auth/repository"
	"github.com/spf13/cobra"
)

var errNoDatabase = errors.New("stores.database_dsn is not set")

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the tenant auth tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings()
			if err != nil {
				return err
			}
			if s.Stores.DatabaseDSN == "" {
				return errNoDatabase
			}

			db, err := config.OpenDatabase(cmd.Context(), s.Stores.DatabaseDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.Migrate(cmd.Context(), db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newPurgeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete revocation entries past their retention",
		Long:  `Purge removes expired revocation rows from the database store. Redis entries expire on their own.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings()
			if err != nil {
				return err
			}
			if s.Stores.DatabaseDSN == "" {
				return errNoDatabase
			}

			db, err := config.OpenDatabase(cmd.Context(), s.Stores.DatabaseDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := repository.NewRevocationStore(db).Purge(cmd.Context(), a.now())
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d revocation entries\n", n)
			return nil
		},
	}
}
