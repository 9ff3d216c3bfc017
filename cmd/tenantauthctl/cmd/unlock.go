package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/spf13/cobra"
)

func newUnlockCmd(a *app) *cobra.Command {
	var (
		key        string
		tenantID   string
		schoolID   string
		identifier string
	)

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Clear the login lockout for an identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := auth.TenantScope{TenantID: tenantID, SchoolID: schoolID}
			if key == "" {
				if identifier == "" || scope.Validate() != nil {
					return errors.New("unlock needs --tenant, --school and --identifier, or --key")
				}
				key = auth.AttemptKey(scope, identifier)
			}

			s, err := a.settings()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			b, err := openBackend(ctx, s)
			if err != nil {
				return err
			}
			defer b.close()

			logger := auth.NewSlogLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)))
			policy := auth.NewLoginAttemptPolicy(b.attempts,
				s.GetLoginAttemptThreshold(),
				s.GetLoginAttemptWindow(),
				auth.WithAttemptClock(a.now),
				auth.WithAttemptLogger(logger),
			)

			if err := policy.Unlock(ctx, key); err != nil {
				return fmt.Errorf("unlock: %w", err)
			}

			b.auditor(cmd.ErrOrStderr(), logger).Record(ctx, auth.AuditEvent{
				EventType: auth.EventIdentityUnlocked,
				TenantID:  tenantID,
				Outcome:   auth.OutcomeGranted,
				Metadata:  map[string]any{"attempt_key": key, "actor_type": "operator"},
			})

			fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s in %s store\n", key, b.kind)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Raw attempt key")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id")
	cmd.Flags().StringVar(&schoolID, "school", "", "School id")
	cmd.Flags().StringVar(&identifier, "identifier", "", "Login identifier")
	return cmd
}
