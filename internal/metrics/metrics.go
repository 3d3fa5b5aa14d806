// Package metrics implements the operation metrics the services record,
// backed by prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is what services see. One instance per service, labeled by
// component.
type Recorder interface {
	RecordOperationAttempt(ctx context.Context, operation string)
	RecordOperationSuccess(ctx context.Context, operation string)
	RecordOperationFailure(ctx context.Context, operation string)
	RecordOperationDuration(ctx context.Context, operation string, d time.Duration)
	RecordTierAttempt(ctx context.Context, tier string, outcome string)
}

type promRecorder struct {
	component string
	attempts  *prometheus.CounterVec
	successes *prometheus.CounterVec
	failures  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	tiers     *prometheus.CounterVec
}

// NewRecorder registers the operation metric families on reg and returns a
// Recorder scoped to component.
func NewRecorder(reg prometheus.Registerer, component string) Recorder {
	r := &promRecorder{
		component: component,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rostersync_operation_attempts_total",
			Help: "Service operations started.",
		}, []string{"component", "operation"}),
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rostersync_operation_successes_total",
			Help: "Service operations that returned a success result.",
		}, []string{"component", "operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rostersync_operation_failures_total",
			Help: "Service operations that errored or panicked.",
		}, []string{"component", "operation"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rostersync_operation_duration_seconds",
			Help:    "Service operation wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"component", "operation"}),
		tiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rostersync_resolver_tier_attempts_total",
			Help: "Resolver tier attempts by outcome.",
		}, []string{"component", "tier", "outcome"}),
	}

	for _, c := range []prometheus.Collector{r.attempts, r.successes, r.failures, r.durations, r.tiers} {
		if err := reg.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				// Another recorder registered the family first; share it.
				switch existing := are.ExistingCollector.(type) {
				case *prometheus.CounterVec:
					switch c {
					case r.attempts:
						r.attempts = existing
					case r.successes:
						r.successes = existing
					case r.failures:
						r.failures = existing
					case r.tiers:
						r.tiers = existing
					}
				case *prometheus.HistogramVec:
					r.durations = existing
				}
				continue
			}
			panic(err)
		}
	}

	return r
}

func (r *promRecorder) RecordOperationAttempt(_ context.Context, operation string) {
	r.attempts.WithLabelValues(r.component, operation).Inc()
}

func (r *promRecorder) RecordOperationSuccess(_ context.Context, operation string) {
	r.successes.WithLabelValues(r.component, operation).Inc()
}

func (r *promRecorder) RecordOperationFailure(_ context.Context, operation string) {
	r.failures.WithLabelValues(r.component, operation).Inc()
}

func (r *promRecorder) RecordOperationDuration(_ context.Context, operation string, d time.Duration) {
	r.durations.WithLabelValues(r.component, operation).Observe(d.Seconds())
}

func (r *promRecorder) RecordTierAttempt(_ context.Context, tier string, outcome string) {
	r.tiers.WithLabelValues(r.component, tier, outcome).Inc()
}

// Noop returns a Recorder that drops everything. Used in tests.
func Noop() Recorder {
	return noopRecorder{}
}

type noopRecorder struct{}

func (noopRecorder) RecordOperationAttempt(context.Context, string)                 {}
func (noopRecorder) RecordOperationSuccess(context.Context, string)                 {}
func (noopRecorder) RecordOperationFailure(context.Context, string)                 {}
func (noopRecorder) RecordOperationDuration(context.Context, string, time.Duration) {}
func (noopRecorder) RecordTierAttempt(context.Context, string, string)              {}
