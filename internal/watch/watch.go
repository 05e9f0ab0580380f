// Package watch follows a growing log and keeps its artifact current by
// appending after each burst of writes settles.
package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/linechain/internal/anchor"
	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/jmerrifield20/linechain/internal/metrics"
	"github.com/nxadm/tail"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period used when Config.Debounce is zero.
const DefaultDebounce = 500 * time.Millisecond

// Config describes one log to follow.
type Config struct {
	// Name labels metrics and checkpoints; defaults to LogPath.
	Name         string
	LogPath      string
	ArtifactPath string
	Append       chain.AppendOptions
	// Debounce is how long the log must stay quiet before an append.
	Debounce time.Duration
	// Poll uses stat polling instead of inotify.
	Poll bool
	// Anchors, when set, receives a checkpoint after every committed append.
	Anchors anchor.Store
	// OnAppend, when set, is called after every append attempt that
	// returned without error.
	OnAppend func(*chain.BuildResult)
}

// Watcher follows a single log.
type Watcher struct {
	cfg    Config
	logger *zap.Logger
}

// New returns a Watcher for cfg.
func New(cfg Config, logger *zap.Logger) *Watcher {
	if cfg.Name == "" {
		cfg.Name = cfg.LogPath
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Append.Logger = logger
	return &Watcher{cfg: cfg, logger: logger.With(zap.String("log", cfg.LogPath))}
}

// Run catches the artifact up with the log, then follows the log until ctx
// is cancelled. Lines written before cancellation are appended before Run
// returns nil. A corrupted or truncated chain stops the watcher with that
// error; a held writer lock is retried after the next quiet period.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.sync(ctx); err != nil {
		return err
	}

	// Follow from the start: lines already chained only mark the log dirty,
	// and nothing written between the catch-up and the tail opening is missed.
	t, err := tail.TailFile(w.cfg.LogPath, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Poll:      w.cfg.Poll,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("%w: follow %s: %w", chain.ErrIO, w.cfg.LogPath, err)
	}
	defer t.Cleanup()
	defer t.Stop() //nolint:errcheck

	w.logger.Info("watching log", zap.Duration("debounce", w.cfg.Debounce), zap.Bool("poll", w.cfg.Poll))

	timer := time.NewTimer(w.cfg.Debounce)
	timer.Stop()
	defer timer.Stop()
	dirty := false

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				return fmt.Errorf("%w: follow %s: %w", chain.ErrIO, w.cfg.LogPath, t.Err())
			}
			if line.Err != nil {
				w.logger.Warn("tail", zap.Error(line.Err))
			}
			dirty = true
			timer.Reset(w.cfg.Debounce)

		case <-timer.C:
			if err := w.sync(ctx); err != nil {
				if errors.Is(err, chain.ErrLocked) {
					w.logger.Warn("artifact locked, retrying", zap.Error(err))
					timer.Reset(w.cfg.Debounce)
					continue
				}
				return err
			}
			dirty = false

		case <-ctx.Done():
			if dirty {
				if err := w.sync(context.WithoutCancel(ctx)); err != nil {
					return err
				}
			}
			w.logger.Info("watch stopped")
			return nil
		}
	}
}

// sync appends whatever the log holds beyond the artifact.
func (w *Watcher) sync(ctx context.Context) error {
	opts := w.cfg.Append
	opts.CreateIfMissing = true

	start := time.Now()
	res, err := chain.Append(ctx, w.cfg.LogPath, w.cfg.ArtifactPath, opts)
	metrics.RecordBuild("append", res, err, time.Since(start))
	if err != nil {
		w.logger.Error("append failed", zap.Error(err))
		return err
	}
	metrics.SetChainRecords(w.cfg.Name, res.Records)
	if res.Committed {
		w.logger.Info("appended",
			zap.Int("appended", res.Appended),
			zap.Int("records", res.Records),
			zap.String("head", res.Head),
		)
		if err := w.anchor(ctx); err != nil {
			return err
		}
	}
	if w.cfg.OnAppend != nil {
		w.cfg.OnAppend(res)
	}
	return nil
}

func (w *Watcher) anchor(ctx context.Context) error {
	if w.cfg.Anchors == nil {
		return nil
	}
	_, cp, err := anchor.Anchor(ctx, w.cfg.Anchors, w.cfg.Name, w.cfg.ArtifactPath)
	metrics.RecordAnchor(err == nil)
	if err != nil {
		return fmt.Errorf("anchor %s: %w", w.cfg.Name, err)
	}
	w.logger.Debug("anchored", zap.Int("checkpoint", cp.Index), zap.Int("records", cp.Records))
	return nil
}
