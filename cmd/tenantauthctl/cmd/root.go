package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/goliatone/go-tenant-auth/config"
	"github.com/spf13/cobra"
)

// app carries the state shared by every subcommand
type app struct {
	configPath string
	now        func() time.Time
}

func (a *app) settings() (*config.Settings, error) {
	s, err := config.Load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return s, nil
}

// NewRootCmd builds the tenantauthctl command tree
func NewRootCmd() *cobra.Command {
	a := &app{now: time.Now}

	root := &cobra.Command{
		Use:   "tenantauthctl",
		Short: "Operator tool for tenant auth",
		Long: `tenantauthctl hashes secrets, inspects and verifies tokens, and manages
revocations and lockouts in the configured redis or database store.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("TENANT_AUTH_CONFIG"), "Path to the YAML settings file (also TENANT_AUTH_CONFIG)")

	root.AddCommand(newHashCmd(a))
	root.AddCommand(newInspectCmd(a))
	root.AddCommand(newVerifyCmd(a))
	root.AddCommand(newRevokeCmd(a))
	root.AddCommand(newUnlockCmd(a))
	root.AddCommand(newMigrateCmd(a))
	root.AddCommand(newPurgeCmd(a))

	return root
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
