package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-tenant-auth"
	"github.com/spf13/cobra"
)

func newInspectCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <token>",
		Short: "Decode a token without checking its signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claims := jwt.MapClaims{}
			token, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(args[0]), claims)
			if err != nil {
				return fmt.Errorf("decode token: %w", err)
			}

			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"verified": false,
				"header":   token.Header,
				"claims":   claims,
			})
		},
	}
}

func newVerifyCmd(a *app) *cobra.Command {
	var (
		class           string
		checkRevocation bool
	)

	cmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a token with the configured keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings()
			if err != nil {
				return err
			}

			codec, err := auth.NewTokenCodecFromConfig(s, auth.WithCodecClock(a.now))
			if err != nil {
				return fmt.Errorf("build codec: %w", err)
			}

			tokenClass := auth.TokenClass(strings.ToLower(class))
			payload, err := codec.Verify(strings.TrimSpace(args[0]), tokenClass)
			if err != nil {
				return fmt.Errorf("%s: %w", auth.TextCode(err), err)
			}

			if checkRevocation {
				b, err := openBackend(cmd.Context(), s)
				if err != nil {
					return err
				}
				defer b.close()

				registry := auth.NewRevocationRegistry(b.revocations, codec.MaxTTL(), auth.WithRevocationClock(a.now))
				if err := registry.CheckPayload(cmd.Context(), payload); err != nil {
					return fmt.Errorf("%s: %w", auth.TextCode(err), err)
				}
			}

			return writeJSON(cmd.OutOrStdout(), payloadView(payload))
		},
	}

	cmd.Flags().StringVar(&class, "class", string(auth.ClassAccess), "Expected token class: access or refresh")
	cmd.Flags().BoolVar(&checkRevocation, "check-revocation", false, "Also consult the revocation store")
	return cmd
}

func payloadView(p auth.TokenPayload) map[string]any {
	return map[string]any{
		"verified":    true,
		"class":       p.Class,
		"subject_id":  p.SubjectID,
		"tenant_id":   p.TenantID,
		"school_id":   p.SchoolID,
		"roles":       p.Roles,
		"permissions": p.Permissions,
		"session_id":  p.SessionID,
		"jti":         p.JTI,
		"issued_at":   p.IssuedAt.UTC().Format(time.RFC3339),
		"expires_at":  p.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
