// Package prom exports latch and mutex activity as Prometheus metrics. A
// Metrics value implements both latch.Observer and mutex.Observer.
package prom

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NetPo4ki/go-syncx/mutex"
)

// Metrics holds the collectors. Register them before use.
type Metrics struct {
	latchTicks       prometheus.Counter
	latchCompletions prometheus.Counter
	latchResets      prometheus.Counter
	latchWaits       *prometheus.CounterVec
	latchWaitSeconds prometheus.Histogram

	mutexAcquires    *prometheus.CounterVec
	mutexWaitSeconds *prometheus.HistogramVec
	mutexHeldSeconds *prometheus.HistogramVec
	mutexReleaseErrs *prometheus.CounterVec
	mutexHeld        *prometheus.GaugeVec
}

// New returns metrics whose names are prefixed with namespace.
func New(namespace string) *Metrics {
	return &Metrics{
		latchTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latch_ticks_total",
			Help:      "Total number of latch ticks that did not complete the latch",
		}),
		latchCompletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latch_completions_total",
			Help:      "Total number of latch arm cycles that reached zero",
		}),
		latchResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latch_resets_total",
			Help:      "Total number of latch resets",
		}),
		latchWaits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "latch_waits_total",
			Help:      "Total number of latch waits by result",
		}, []string{"result"}),
		latchWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "latch_wait_seconds",
			Help:      "Time spent waiting on latches",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		mutexAcquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutex_acquires_total",
			Help:      "Total number of named mutex acquisitions by outcome",
		}, []string{"name", "outcome"}),
		mutexWaitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutex_wait_seconds",
			Help:      "Time spent waiting to acquire named mutexes",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"name"}),
		mutexHeldSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutex_held_seconds",
			Help:      "Time named mutexes were held",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"name"}),
		mutexReleaseErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutex_release_errors_total",
			Help:      "Total number of failed named mutex releases",
		}, []string{"name"}),
		mutexHeld: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mutex_held",
			Help:      "Named mutexes currently held by this process",
		}, []string{"name"}),
	}
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.latchTicks, m.latchCompletions, m.latchResets, m.latchWaits, m.latchWaitSeconds,
		m.mutexAcquires, m.mutexWaitSeconds, m.mutexHeldSeconds, m.mutexReleaseErrs, m.mutexHeld,
	}
}

// MustRegister registers the collectors on reg and panics on conflicts.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.Collectors()...)
}

func (m *Metrics) LatchTicked(_ context.Context, _ int) { m.latchTicks.Inc() }

func (m *Metrics) LatchCompleted(_ context.Context) { m.latchCompletions.Inc() }

func (m *Metrics) LatchReset(_ context.Context, _ int) { m.latchResets.Inc() }

func (m *Metrics) LatchWaited(_ context.Context, wait time.Duration, signaled bool) {
	result := "signaled"
	if !signaled {
		result = "expired"
	}
	m.latchWaits.WithLabelValues(result).Inc()
	m.latchWaitSeconds.Observe(wait.Seconds())
}

func (m *Metrics) MutexAcquired(_ context.Context, name string, outcome mutex.Outcome, wait time.Duration, _ error) {
	m.mutexAcquires.WithLabelValues(name, outcome.String()).Inc()
	m.mutexWaitSeconds.WithLabelValues(name).Observe(wait.Seconds())
	if outcome == mutex.Acquired || outcome == mutex.AcquiredAfterAbandonment {
		m.mutexHeld.WithLabelValues(name).Inc()
	}
}

func (m *Metrics) MutexReleased(_ context.Context, name string, held time.Duration, err error) {
	if err != nil {
		m.mutexReleaseErrs.WithLabelValues(name).Inc()
		return
	}
	m.mutexHeld.WithLabelValues(name).Dec()
	m.mutexHeldSeconds.WithLabelValues(name).Observe(held.Seconds())
}
