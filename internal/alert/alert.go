// Package alert delivers notifications when a chain's audited state changes.
//
// A Dispatcher fans each Event out to its Notifiers: a signed JSON webhook
// and SMTP email are provided.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/linechain/internal/audit"
	"github.com/jmerrifield20/linechain/internal/chain"
	"go.uber.org/zap"
)

// Event types.
const (
	EventTampered     = "chain.tampered"
	EventDegraded     = "chain.degraded"
	EventError        = "chain.error"
	EventRecovered    = "chain.recovered"
	EventInconclusive = "chain.inconclusive"
)

// Event is one change of a chain's audited state.
type Event struct {
	Type      string        `json:"type"`
	Chain     string        `json:"chain"`
	Timestamp time.Time     `json:"timestamp"`
	Previous  string        `json:"previous,omitempty"`
	Verdict   chain.Verdict `json:"verdict,omitempty"`
	Kind      chain.Kind    `json:"kind,omitempty"`
	Index     *int          `json:"index,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Summary is a one-line human description of e.
func (e Event) Summary() string {
	switch {
	case e.Error != "":
		return fmt.Sprintf("%s: verification failed: %s", e.Chain, e.Error)
	case e.Index != nil:
		return fmt.Sprintf("%s: %s (%s at index %d)", e.Chain, e.Verdict, e.Kind, *e.Index)
	}
	return fmt.Sprintf("%s: %s", e.Chain, e.Verdict)
}

// Notifier delivers a single event on one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, e Event) error
}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(channel string, success bool)

// Dispatcher fans events out to every configured notifier.
type Dispatcher struct {
	notifiers []Notifier
	onMetrics MetricsRecorder
	logger    *zap.Logger
}

// NewDispatcher creates a Dispatcher. With no notifiers it only logs.
func NewDispatcher(logger *zap.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers, logger: logger}
}

// SetMetricsRecorder configures the metrics callback.
func (d *Dispatcher) SetMetricsRecorder(fn MetricsRecorder) {
	d.onMetrics = fn
}

// Dispatch delivers e to every notifier concurrently and waits for all of
// them. Failures are logged, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) {
	d.logger.Info("alert", zap.String("type", e.Type), zap.String("summary", e.Summary()))

	var wg sync.WaitGroup
	for _, n := range d.notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			err := n.Notify(ctx, e)
			if d.onMetrics != nil {
				d.onMetrics(n.Name(), err == nil)
			}
			if err != nil {
				d.logger.Warn("alert: delivery failed",
					zap.String("channel", n.Name()),
					zap.String("chain", e.Chain),
					zap.Error(err),
				)
			}
		}(n)
	}
	wg.Wait()
}

// OnAuditTransition is an audit.TransitionFunc that dispatches an event
// for every change except a chain's first VALID result.
func (d *Dispatcher) OnAuditTransition(ctx context.Context, prev *audit.Result, curr audit.Result) {
	if prev == nil && curr.Healthy() {
		return
	}
	d.Dispatch(ctx, EventFromResult(prev, curr))
}

// EventFromResult builds the event describing a move from prev (nil when
// the chain had not been audited before) to curr.
func EventFromResult(prev *audit.Result, curr audit.Result) Event {
	e := Event{Chain: curr.Name, Timestamp: curr.CheckedAt}
	if prev != nil {
		e.Previous = prev.State()
	}
	switch {
	case curr.Error != "":
		e.Type, e.Error = EventError, curr.Error
		return e
	case curr.Healthy():
		e.Type = EventRecovered
	case curr.Report.Verdict == chain.VerdictTampered:
		e.Type = EventTampered
	case curr.Report.Verdict == chain.VerdictInconclusive:
		e.Type = EventInconclusive
	default:
		e.Type = EventDegraded
	}
	e.Verdict = curr.Report.Verdict
	e.Kind = curr.Report.Kind
	e.Index = curr.Report.Index
	return e
}
