package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"quiz-rooms/internal/auth"
	"quiz-rooms/internal/config"
)

// NewTokenCmd mints a host token for local testing.
func NewTokenCmd(configPath *string) *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a host token signed with auth.jwtSecret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwtSecret not configured")
			}
			tokens := auth.NewTokenService(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
			token, err := tokens.Generate(accountID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "dev-host", "account id carried by the token")
	return cmd
}
