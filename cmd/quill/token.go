package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/phrazzld/quill/internal/auth"
	"github.com/phrazzld/quill/internal/config"
)

type tokenOutput struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expires_at"`
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator API token signed with api.jwt_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return issueToken(cmd, cfg.API, subject)
		},
	}
	cmd.Flags().String("subject", "operator", "token subject")
	return cmd
}

func issueToken(cmd *cobra.Command, cfg config.APIConfig, subject string) error {
	tokens, err := auth.NewTokenService(cfg)
	if err != nil {
		return err
	}
	token, expiresAt, err := tokens.IssueToken(cmd.Context(), subject)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), tokenOutput{Token: token, Subject: subject, ExpiresAt: expiresAt})
}
