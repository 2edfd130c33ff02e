package main

import (
	"fmt"
	"time"

	"crmchat/server/internal/models"
	"crmchat/server/internal/utils"

	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var (
		id  models.Identity
		ttl time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a session token for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id.UID == "" && id.Email == "" {
				return fmt.Errorf("--uid or --email is required")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if ttl == 0 {
				ttl = cfg.Auth.TokenTTL
			}
			tok, err := utils.GenerateToken([]byte(cfg.Auth.JWTSecret), id, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&id.UID, "uid", "", "agent user id")
	cmd.Flags().StringVar(&id.Email, "email", "", "agent email")
	cmd.Flags().StringVar(&id.Name, "name", "", "agent display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	return cmd
}
