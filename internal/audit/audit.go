// Package audit re-verifies a set of chains on a fixed interval and keeps
// the latest result for each, logging every change of verdict.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jmerrifield20/linechain/internal/anchor"
	"github.com/jmerrifield20/linechain/internal/chain"
	"go.uber.org/zap"
)

// Config holds audit loop configuration.
type Config struct {
	Interval time.Duration
	// Concurrency bounds simultaneous verifications.
	Concurrency  int
	MaxLineBytes int
}

// Target is one log and artifact to audit.
type Target struct {
	Name     string
	Log      string
	Artifact string
}

// Result is the outcome of the most recent audit of a target.
type Result struct {
	Name      string        `json:"name"`
	CheckedAt time.Time     `json:"checked_at"`
	Report    *chain.Report `json:"report,omitempty"`
	Error     string        `json:"error,omitempty"`
	// Since is when the current verdict (or error) was first observed.
	Since time.Time `json:"since"`
}

// Healthy reports whether the last audit found the chain VALID.
func (r Result) Healthy() bool {
	return r.Error == "" && r.Report != nil && r.Report.Verdict == chain.VerdictValid
}

// State is the verdict of the last audit, or "error".
func (r Result) State() string {
	if r.Error != "" {
		return "error"
	}
	return string(r.Report.Verdict)
}

// MetricsRecordFunc is an optional callback for recording each verification.
type MetricsRecordFunc func(rep *chain.Report, err error, d time.Duration)

// TransitionFunc is called whenever a target's state changes, including
// its first audit. prev is nil for the first audit.
type TransitionFunc func(ctx context.Context, prev *Result, curr Result)

// Auditor runs periodic verifications.
type Auditor struct {
	targets   []Target
	anchors   anchor.Store
	cfg       Config
	onMetrics MetricsRecordFunc
	onChange  TransitionFunc
	logger    *zap.Logger

	mu      sync.RWMutex
	results map[string]Result
}

// New creates a new Auditor. anchors may be nil for unanchored audits.
func New(targets []Target, anchors anchor.Store, cfg Config, logger *zap.Logger) *Auditor {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Auditor{
		targets: targets,
		anchors: anchors,
		cfg:     cfg,
		logger:  logger,
		results: make(map[string]Result, len(targets)),
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (a *Auditor) SetMetricsRecord(fn MetricsRecordFunc) {
	a.onMetrics = fn
}

// SetOnTransition configures the state change callback.
func (a *Auditor) SetOnTransition(fn TransitionFunc) {
	a.onChange = fn
}

// Start audits every target immediately and then on each interval until
// ctx is done.
func (a *Auditor) Start(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.CheckAll(ctx)
	for {
		select {
		case <-ticker.C:
			a.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Result returns the latest audit result for name.
func (a *Auditor) Result(name string) (Result, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.results[name]
	return r, ok
}

// CheckAll verifies every target with bounded concurrency.
func (a *Auditor) CheckAll(ctx context.Context) {
	sem := make(chan struct{}, a.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, t := range a.targets {
		wg.Add(1)
		go func(target Target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			a.record(ctx, target, a.check(ctx, target))
		}(t)
	}

	wg.Wait()
}

func (a *Auditor) check(ctx context.Context, t Target) Result {
	res := Result{Name: t.Name, CheckedAt: time.Now().UTC()}
	opts := chain.VerifyOptions{MaxLineBytes: a.cfg.MaxLineBytes}

	if a.anchors != nil {
		cp, err := a.anchors.Latest(ctx, t.Name)
		switch {
		case errors.Is(err, anchor.ErrNotFound):
		case err != nil:
			res.Error = err.Error()
			return res
		default:
			if opts.Checkpoint, err = cp.Chain(); err != nil {
				res.Error = err.Error()
				return res
			}
		}
	}

	start := time.Now()
	rep, err := chain.Verify(ctx, t.Log, t.Artifact, opts)
	if a.onMetrics != nil {
		a.onMetrics(rep, err, time.Since(start))
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Report = rep
	return res
}

// record stores res and reports a transition when the state changed.
func (a *Auditor) record(ctx context.Context, t Target, res Result) {
	a.mu.Lock()
	prev, seen := a.results[t.Name]
	res.Since = res.CheckedAt
	if seen && prev.State() == res.State() {
		res.Since = prev.Since
	}
	a.results[t.Name] = res
	a.mu.Unlock()

	if seen && prev.State() == res.State() {
		return
	}
	if a.onChange != nil {
		var p *Result
		if seen {
			p = &prev
		}
		a.onChange(ctx, p, res)
	}
	switch {
	case res.Healthy() && seen:
		a.logger.Info("audit: recovered", zap.String("chain", t.Name), zap.String("was", prev.State()))
	case res.Healthy():
		a.logger.Debug("audit: valid", zap.String("chain", t.Name))
	case res.Error != "":
		a.logger.Error("audit: verification failed", zap.String("chain", t.Name), zap.String("error", res.Error))
	default:
		a.logger.Warn("audit: degraded",
			zap.String("chain", t.Name),
			zap.String("verdict", string(res.Report.Verdict)),
			zap.String("kind", string(res.Report.Kind)),
			zap.Intp("index", res.Report.Index),
		)
	}
}
