package workflow

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tombee/maestro/pkg/run"
)

// Metrics counts step executions and store contention for a Stepper.
type Metrics struct {
	steps        *prometheus.CounterVec
	storeErrors  prometheus.Counter
	lockTimeouts prometheus.Counter
}

// NewMetrics creates and registers the stepper counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "maestro",
			Name:      "steps_total",
			Help:      "Step executions by outcome.",
		}, []string{"outcome"}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maestro",
			Name:      "store_errors_total",
			Help:      "Run store mutations that failed.",
		}),
		lockTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "maestro",
			Name:      "lock_timeouts_total",
			Help:      "Run lock acquisitions that timed out.",
		}),
	}
	reg.MustRegister(m.steps, m.storeErrors, m.lockTimeouts)
	return m
}

func (m *Metrics) observeStep(outcome *Outcome) {
	if m == nil {
		return
	}
	switch {
	case outcome.Skipped:
		m.steps.WithLabelValues("skipped").Inc()
	case outcome.AwaitingApproval:
		m.steps.WithLabelValues("awaiting_approval").Inc()
	case outcome.RunStatus == run.StatusFailed:
		m.steps.WithLabelValues("failed").Inc()
	default:
		m.steps.WithLabelValues("completed").Inc()
	}
}

func (m *Metrics) observeStoreError() {
	if m != nil {
		m.storeErrors.Inc()
	}
}

func (m *Metrics) observeLockTimeout() {
	if m != nil {
		m.lockTimeouts.Inc()
	}
}
