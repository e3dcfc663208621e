package auth

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// CLIConfig wires the token commands to a database.
type CLIConfig struct {
	// OpenDB opens the migrated database. The command closes it.
	OpenDB func() (*sql.DB, error)
}

// TokenRootCmd creates the root token command with subcommands
func TokenRootCmd(config *CLIConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage admin API tokens",
	}
	cmd.AddCommand(createTokenCmd(config))
	cmd.AddCommand(listTokensCmd(config))
	cmd.AddCommand(revokeTokenCmd(config))
	return cmd
}

func createTokenCmd(config *CLIConfig) *cobra.Command {
	var clientName, role, expiresIn string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API token",
		Long:  `Create a new API token. The token is displayed once and cannot be retrieved again.`,
		Example: `  licensehub token create --client-name ops-dashboard
  licensehub token create --client-name grafana --role viewer --expires-in 90d`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var expiresAt *time.Time
			if expiresIn != "" {
				d, err := parseDuration(expiresIn)
				if err != nil {
					return fmt.Errorf("invalid --expires-in: %w", err)
				}
				t := time.Now().Add(d)
				expiresAt = &t
			}

			return withStorage(config, func(storage *TokenStorage) error {
				resp, err := storage.CreateToken(cmd.Context(), CreateTokenRequest{
					ClientName: clientName,
					Role:       role,
					ExpiresAt:  expiresAt,
				})
				if err != nil {
					return err
				}
				printCreated(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&clientName, "client-name", "", "Name of the client (required)")
	cmd.Flags().StringVar(&role, "role", RoleAdmin, "Token role (admin, viewer)")
	cmd.Flags().StringVar(&expiresIn, "expires-in", "", "Expiration (e.g. 1y, 30d, 24h)")
	_ = cmd.MarkFlagRequired("client-name")
	return cmd
}

func listTokensCmd(config *CLIConfig) *cobra.Command {
	var includeRevoked bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(config, func(storage *TokenStorage) error {
				tokens, err := storage.ListTokens(cmd.Context(), includeRevoked)
				if err != nil {
					return err
				}
				printTokens(cmd.OutOrStdout(), tokens, time.Now())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&includeRevoked, "include-revoked", false, "Include revoked tokens")
	return cmd
}

func revokeTokenCmd(config *CLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:     "revoke <token-id>",
		Short:   "Revoke an API token",
		Example: `  licensehub token revoke 3f2a9c1e`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(config, func(storage *TokenStorage) error {
				id, err := findTokenByPrefix(cmd.Context(), storage, args[0])
				if err != nil {
					return err
				}
				if err := storage.RevokeToken(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Token %s revoked.\n", id)
				return nil
			})
		},
	}
}

func withStorage(config *CLIConfig, fn func(*TokenStorage) error) error {
	db, err := config.OpenDB()
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	return fn(NewTokenStorage(db))
}

func printCreated(w io.Writer, resp *CreateTokenResponse) {
	fmt.Fprintf(w, "Token created.\n\n")
	fmt.Fprintf(w, "Token:    %s\n", resp.Token)
	fmt.Fprintf(w, "Token ID: %s\n", resp.TokenInfo.TokenID)
	fmt.Fprintf(w, "Client:   %s\n", resp.TokenInfo.ClientName)
	fmt.Fprintf(w, "Role:     %s\n", resp.TokenInfo.Role())
	if resp.TokenInfo.ExpiresAt != nil {
		fmt.Fprintf(w, "Expires:  %s\n", resp.TokenInfo.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Fprintf(w, "Expires:  never\n")
	}
	fmt.Fprintf(w, "\nSave this token now. It cannot be retrieved again.\n")
}

func printTokens(w io.Writer, tokens []TokenInfo, now time.Time) {
	if len(tokens) == 0 {
		fmt.Fprintln(w, "No tokens found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCLIENT\tROLE\tCREATED\tEXPIRES\tLAST USED\tSTATUS")
	for _, t := range tokens {
		status := "active"
		switch {
		case !t.IsActive:
			status = "revoked"
		case t.Expired(now):
			status = "expired"
		}
		expires, lastUsed := "never", "never"
		if t.ExpiresAt != nil {
			expires = t.ExpiresAt.Format("2006-01-02")
		}
		if t.LastUsedAt != nil {
			lastUsed = t.LastUsedAt.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.TokenID[:8], t.ClientName, t.Role(), t.CreatedAt.Format("2006-01-02"), expires, lastUsed, status)
	}
	tw.Flush()
}

// parseDuration extends time.ParseDuration with d (days) and y (years).
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	unit := map[byte]time.Duration{'d': 24 * time.Hour, 'y': 365 * 24 * time.Hour}
	if mult, ok := unit[s[len(s)-1]]; ok {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * mult, nil
	}
	return time.ParseDuration(s)
}

// findTokenByPrefix resolves a unique token ID from a prefix of it.
func findTokenByPrefix(ctx context.Context, storage *TokenStorage, prefix string) (string, error) {
	tokens, err := storage.ListTokens(ctx, true)
	if err != nil {
		return "", err
	}

	var matches []string
	for _, t := range tokens {
		if strings.HasPrefix(t.TokenID, prefix) {
			matches = append(matches, t.TokenID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no token matches %q", ErrTokenNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("ambiguous token prefix %q matches %d tokens", prefix, len(matches))
	}
}
