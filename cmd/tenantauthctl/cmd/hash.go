package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	auth "github.com/goliatone/go-tenant-auth"
	"github.com/spf13/cobra"
)

func newHashCmd(a *app) *cobra.Command {
	var cost int

	cmd := &cobra.Command{
		Use:   "hash [secret]",
		Short: "Hash a login secret",
		Long: `Hash prints the bcrypt hash of a secret. Without an argument the secret is read from the first line of stdin.
The cost comes from tokens.bcrypt_cost unless --cost is given.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFromArgs(cmd, args)
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("cost") {
				s, err := a.settings()
				if err != nil {
					return err
				}
				cost = s.GetBcryptCost()
			}

			hash, err := auth.HashSecret(secret, cost)
			if err != nil {
				return fmt.Errorf("hash secret: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().IntVar(&cost, "cost", 0, "bcrypt cost, overrides tokens.bcrypt_cost")
	return cmd
}

func secretFromArgs(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	secret := strings.TrimRight(line, "\r\n")
	if secret == "" {
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return "", errors.New("empty secret")
	}
	return secret, nil
}
