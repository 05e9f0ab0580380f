package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/linechain/internal/auth"
	"github.com/spf13/cobra"
)

// ── token ────────────────────────────────────────────────────────────────────

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		Long: `Token signs a read-only API token with serve.auth.secret. Pass it to
'linechain remote --token' or send it as "Authorization: Bearer <token>".`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := a.tokenIssuer(ttl)
			if err != nil {
				return err
			}
			token, err := issuer.Issue(subject, []string{auth.ScopeRead})
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "linechain-cli", "Subject recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default serve.auth.token_ttl)")
	return cmd
}

// tokenIssuer builds the issuer from serve.auth; ttl overrides the
// configured lifetime when non-zero.
func (a *app) tokenIssuer(ttl time.Duration) (*auth.TokenIssuer, error) {
	cfg := a.cfg.Serve.Auth
	if cfg.Secret == "" {
		return nil, usageError{errors.New("serve.auth.secret is not configured")}
	}
	if ttl == 0 {
		ttl = cfg.TokenTTL
	}
	if ttl < 0 {
		return nil, usageError{fmt.Errorf("token ttl must be positive, got %s", ttl)}
	}
	issuer, err := auth.NewTokenIssuer(cfg.Secret, cfg.Issuer, ttl)
	if err != nil {
		return nil, usageError{err}
	}
	return issuer, nil
}
