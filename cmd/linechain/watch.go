package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/linechain/internal/api"
	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/jmerrifield20/linechain/internal/metrics"
	"github.com/jmerrifield20/linechain/internal/watch"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ── watch ────────────────────────────────────────────────────────────────────

func newWatchCmd(a *app) *cobra.Command {
	var (
		anchored    bool
		name        string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch <log> [artifact]",
		Short: "Follow a log and append to its artifact as it grows",
		Long: `Watch first catches the artifact up with the log (building it if missing),
then follows the log and appends once each burst of writes has been quiet
for --debounce. It stops on SIGINT or SIGTERM after appending any pending
lines, and exits with status 6 or 7 if the committed part of the log
changes underneath it.`,
		Args: usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			artifact := a.resolveArtifact(args)
			cfg := watch.Config{
				Name:         name,
				LogPath:      args[0],
				ArtifactPath: artifact,
				Append: chain.AppendOptions{
					Algorithm:    a.appendAlgorithm(cmd, artifact),
					Format:       a.format(),
					MaxLineBytes: a.cfg.Chain.MaxLineBytes,
				},
				Debounce: a.cfg.Watch.Debounce,
				Poll:     a.cfg.Watch.Poll,
			}
			if anchored {
				store, closeStore, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				defer closeStore()
				cfg.Anchors = store
				if cfg.Name == "" {
					cfg.Name = anchorName(args[0])
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			if metricsAddr != "" {
				g.Go(func() error {
					return api.Serve(gctx, metricsAddr, metrics.Handler(), a.logger)
				})
			}
			g.Go(func() error {
				return watch.New(cfg, a.logger).Run(gctx)
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			a.logger.Info("watch finished", zap.String("log", args[0]))
			return nil
		},
	}
	cmd.Flags().String("algorithm", "", "Require the artifact to use this digest algorithm")
	cmd.Flags().String("format", "", "Artifact encoding when the artifact is created: jsonl or cbor")
	cmd.Flags().Duration("debounce", 0, fmt.Sprintf("Quiet period before appending (default from config, %s)", watch.DefaultDebounce))
	cmd.Flags().Bool("poll", false, "Poll the log for changes instead of using inotify")
	cmd.Flags().BoolVar(&anchored, "anchor", false, "Record a checkpoint after every append")
	cmd.Flags().StringVar(&name, "name", "", "Name for metrics and checkpoints (default the log path)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")
	return cmd
}
