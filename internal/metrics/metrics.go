// Package metrics holds the Prometheus collectors for chain operations.
// They are registered with the default registry and served by the API's
// /metrics endpoint and by watch's optional metrics listener.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/jmerrifield20/linechain/internal/chain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linechain_builds_total",
		Help: "Total builds and appends by operation and result.",
	}, []string{"op", "result"})

	recordsAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linechain_records_appended_total",
		Help: "Total records written by appends.",
	})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linechain_verifications_total",
		Help: "Total verifications by verdict.",
	}, []string{"verdict"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "linechain_operation_duration_seconds",
		Help:    "Duration of build, append and verify operations in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"op"})

	chainRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "linechain_chain_records",
		Help: "Records in the most recently observed artifact, by chain.",
	}, []string{"chain"})

	anchorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linechain_anchors_total",
		Help: "Total checkpoint attempts by result.",
	}, []string{"result"})

	alertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linechain_alerts_total",
		Help: "Total alert deliveries by channel and result.",
	}, []string{"channel", "result"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// errorLabel names the failure class of err for the result label.
func errorLabel(err error) string {
	switch {
	case errors.Is(err, chain.ErrChainCorrupted):
		return "corrupted"
	case errors.Is(err, chain.ErrLogTruncated):
		return "truncated"
	case errors.Is(err, chain.ErrAlgorithmMismatch):
		return "algorithm_mismatch"
	case errors.Is(err, chain.ErrLocked):
		return "locked"
	case errors.Is(err, chain.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, chain.ErrIO):
		return "io"
	}
	return "error"
}

// RecordBuild records the outcome of a Build ("build") or Append ("append").
func RecordBuild(op string, res *chain.BuildResult, err error, d time.Duration) {
	operationDuration.WithLabelValues(op).Observe(d.Seconds())
	switch {
	case err != nil:
		buildsTotal.WithLabelValues(op, errorLabel(err)).Inc()
	case !res.Committed:
		buildsTotal.WithLabelValues(op, "unchanged").Inc()
	default:
		buildsTotal.WithLabelValues(op, "committed").Inc()
		recordsAppendedTotal.Add(float64(res.Appended))
	}
}

// RecordVerify records a verification verdict, or its failure class.
func RecordVerify(rep *chain.Report, err error, d time.Duration) {
	operationDuration.WithLabelValues("verify").Observe(d.Seconds())
	if err != nil {
		verificationsTotal.WithLabelValues(errorLabel(err)).Inc()
		return
	}
	verificationsTotal.WithLabelValues(string(rep.Verdict)).Inc()
}

// SetChainRecords sets the record gauge for a named chain.
func SetChainRecords(name string, n int) {
	chainRecords.WithLabelValues(name).Set(float64(n))
}

// RecordAnchor records a checkpoint attempt.
func RecordAnchor(success bool) {
	if success {
		anchorsTotal.WithLabelValues("success").Inc()
	} else {
		anchorsTotal.WithLabelValues("failure").Inc()
	}
}

// RecordAlert records one alert delivery on channel.
func RecordAlert(channel string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	alertsTotal.WithLabelValues(channel, result).Inc()
}
