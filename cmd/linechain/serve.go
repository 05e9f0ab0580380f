package main

import (
	"fmt"

	"github.com/jmerrifield20/linechain/internal/alert"
	"github.com/jmerrifield20/linechain/internal/anchor"
	"github.com/jmerrifield20/linechain/internal/api"
	"github.com/jmerrifield20/linechain/internal/audit"
	"github.com/jmerrifield20/linechain/internal/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ── serve ────────────────────────────────────────────────────────────────────

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a read-only HTTP API over the configured chains",
		Long: `Serve exposes the chains listed under serve.chains in the config file:

  GET /healthz
  GET /metrics
  GET /api/v1/chains
  GET /api/v1/chains/:name
  GET /api/v1/chains/:name/verify[?anchor=true]
  GET /api/v1/chains/:name/records[?from=N&limit=M]
  GET /api/v1/chains/:name/records/:idx
  GET /api/v1/chains/:name/checkpoints
  GET /api/v1/chains/:name/audit

Checkpoint endpoints and anchored verification need database.url. When
serve.audit_interval is set every chain is re-verified in the background and
the latest result is served under /audit; changes of verdict are sent to
the webhook and SMTP recipients configured under alert. The API never writes
to a log or artifact. With serve.auth.secret set, /api/v1 requires a bearer
token from 'linechain token'.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if len(a.cfg.Serve.Chains) == 0 {
				a.logger.Warn("no chains configured under serve.chains")
			}

			chains := make([]api.Chain, 0, len(a.cfg.Serve.Chains))
			for _, src := range a.cfg.Serve.Chains {
				chains = append(chains, api.Chain{
					Name:     src.Name,
					Log:      src.Log,
					Artifact: src.ArtifactPath(a.format()),
				})
			}

			var store anchor.Store
			if a.cfg.Database.URL != "" {
				s, closeStore, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer closeStore()
				if err := s.Verify(ctx); err != nil {
					a.logger.Warn("checkpoint chain integrity check FAILED", zap.Error(err))
				} else {
					a.logger.Info("checkpoint chain verified")
				}
				store = s
			}

			h := api.NewChainHandler(chains, store, a.cfg.Chain.MaxLineBytes, a.logger)
			h.SetVerifyCacheTTL(a.cfg.Serve.VerifyCacheTTL)

			if a.cfg.Serve.AuditInterval > 0 {
				targets := make([]audit.Target, 0, len(chains))
				for _, c := range chains {
					targets = append(targets, audit.Target{Name: c.Name, Log: c.Log, Artifact: c.Artifact})
				}
				auditor := audit.New(targets, store, audit.Config{
					Interval:     a.cfg.Serve.AuditInterval,
					MaxLineBytes: a.cfg.Chain.MaxLineBytes,
				}, a.logger)
				auditor.SetMetricsRecord(metrics.RecordVerify)
				auditor.SetOnTransition(a.alertDispatcher().OnAuditTransition)
				go auditor.Start(ctx)
				h.SetAuditor(auditor)
			}

			rc := api.RouterConfig{
				CORSOrigins:  a.cfg.Serve.CORSOrigins,
				RateLimitRPS: a.cfg.Serve.RateLimitRPS,
			}
			if a.cfg.Serve.Auth.Secret != "" {
				tokens, err := a.tokenIssuer(0)
				if err != nil {
					return err
				}
				rc.Tokens = tokens
				a.logger.Info("bearer token auth enabled for /api/v1")
			}
			router := api.NewRouter(ctx, rc, h, a.logger)
			return api.Serve(ctx, fmt.Sprintf(":%d", a.cfg.Serve.Port), router, a.logger)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP port (default from config, 8080)")
	return cmd
}

// alertDispatcher builds the notifiers configured under alert.
func (a *app) alertDispatcher() *alert.Dispatcher {
	var notifiers []alert.Notifier
	if cfg := a.cfg.Alert; cfg.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret))
	}
	if smtp := a.cfg.Alert.SMTP; smtp.Host != "" {
		notifiers = append(notifiers, alert.NewEmailNotifier(alert.SMTPConfig{
			Host:     smtp.Host,
			Port:     smtp.Port,
			Username: smtp.Username,
			Password: smtp.Password,
			From:     smtp.From,
			To:       smtp.To,
		}))
	}
	d := alert.NewDispatcher(a.logger, notifiers...)
	d.SetMetricsRecorder(metrics.RecordAlert)
	return d
}
