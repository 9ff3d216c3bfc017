package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/spf13/cobra"
)

func newRevokeCmd(a *app) *cobra.Command {
	var (
		scope    string
		key      string
		tenantID string
		subject  string
		reason   string
	)

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a token, a session or every token of a user",
		Long: `Revoke records a revocation entry in the configured store.

  --scope token   --key <jti>
  --scope session --key <session id>
  --scope user    --tenant <tenant id> --subject <subject id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			revScope := auth.RevocationScope(strings.ToLower(scope))
			if revScope == auth.ScopeUser && key == "" {
				if tenantID == "" || subject == "" {
					return errors.New("user scope needs --tenant and --subject or --key")
				}
				key = auth.UserRevocationKey(tenantID, subject)
			}

			s, err := a.settings()
			if err != nil {
				return err
			}

			codec, err := auth.NewTokenCodecFromConfig(s)
			if err != nil {
				return fmt.Errorf("build codec: %w", err)
			}

			ctx := cmd.Context()
			b, err := openBackend(ctx, s)
			if err != nil {
				return err
			}
			defer b.close()

			logger := auth.NewSlogLogger(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil)))
			registry := auth.NewRevocationRegistry(b.revocations, codec.MaxTTL(),
				auth.WithRevocationClock(a.now),
				auth.WithRevocationLogger(logger),
			)

			if err := registry.Revoke(ctx, revScope, key, reason); err != nil {
				return err
			}

			event := auth.AuditEvent{
				EventType: auth.EventLogout,
				Outcome:   auth.OutcomeGranted,
				Reason:    reason,
				Metadata:  map[string]any{"scope": string(revScope), "key": key, "actor_type": "operator"},
			}
			if revScope == auth.ScopeUser {
				event.EventType = auth.EventIdentityRevoked
				event.TenantID = tenantID
				event.SubjectID = subject
			}
			b.auditor(cmd.ErrOrStderr(), logger).Record(ctx, event)

			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s %s in %s store\n", revScope, key, b.kind)
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", string(auth.ScopeSession), "Revocation scope: token, session or user")
	cmd.Flags().StringVar(&key, "key", "", "Token jti, session id or prebuilt user key")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id for user scope")
	cmd.Flags().StringVar(&subject, "subject", "", "Subject id for user scope")
	cmd.Flags().StringVar(&reason, "reason", "operator", "Reason stored with the entry")
	return cmd
}
