package health

import "github.com/prometheus/client_golang/prometheus"

// Metrics publishes health reports as prometheus gauges.
type Metrics struct {
	runsTotal       *prometheus.GaugeVec
	runsStalled     prometheus.Gauge
	routingAccuracy prometheus.Gauge
	successRate     prometheus.Gauge
	patternCoverage prometheus.Gauge
	score           prometheus.Gauge
}

// NewMetrics creates and registers the health gauges.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "maestro",
			Name:      "runs",
			Help:      "Run counts by lifecycle bucket.",
		}, []string{"bucket"}),
		runsStalled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "maestro",
			Name:      "runs_stalled",
			Help:      "Runs with no record update inside the stall threshold.",
		}),
		routingAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "maestro",
			Name:      "routing_accuracy",
			Help:      "Fraction of executions led by the matrix primary.",
		}),
		successRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "maestro",
			Name:      "success_rate",
			Help:      "Fraction of recorded executions that succeeded.",
		}),
		patternCoverage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "maestro",
			Name:      "pattern_coverage",
			Help:      "Fraction of task types with enough recorded executions.",
		}),
		score: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "maestro",
			Name:      "health_score",
			Help:      "Composite health score, 0-100.",
		}),
	}
	reg.MustRegister(m.runsTotal, m.runsStalled, m.routingAccuracy,
		m.successRate, m.patternCoverage, m.score)
	return m
}

// Observe publishes one report.
func (m *Metrics) Observe(report *Report) {
	m.runsTotal.WithLabelValues("total").Set(float64(report.TotalRuns))
	m.runsTotal.WithLabelValues("active").Set(float64(report.ActiveRuns))
	m.runsTotal.WithLabelValues("completed").Set(float64(report.CompletedRuns))
	m.runsTotal.WithLabelValues("failed").Set(float64(report.FailedRuns))
	m.runsStalled.Set(float64(report.StalledRuns))
	m.routingAccuracy.Set(report.RoutingAccuracy)
	m.successRate.Set(report.SuccessRate)
	m.patternCoverage.Set(report.PatternCoverage)
	m.score.Set(report.Score)
}
