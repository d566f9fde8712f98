// Package health derives run and routing health from the run store and the
// pattern registry. It is read-only: reports are computed from snapshots and
// never block the stepper.
package health

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/tombee/maestro/pkg/patterns"
	"github.com/tombee/maestro/pkg/route"
	"github.com/tombee/maestro/pkg/run"
)

// DefaultStallThreshold marks a non-terminal run stalled when its record has
// not been touched for this long.
const DefaultStallThreshold = 5 * time.Minute

// patternCoverageFloor is the executions a task type needs to count as
// covered.
const patternCoverageFloor = 3

// Status classifies a composite score.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// RunSummary is one run's health view.
type RunSummary struct {
	RunID       string     `json:"run_id"`
	Status      run.Status `json:"status"`
	CurrentStep int        `json:"current_step"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Stalled     bool       `json:"stalled"`
}

// Report aggregates system health across all runs and the pattern registry.
type Report struct {
	TotalRuns     int `json:"totalRuns"`
	ActiveRuns    int `json:"activeRuns"`
	StalledRuns   int `json:"stalledRuns"`
	CompletedRuns int `json:"completedRuns"`
	FailedRuns    int `json:"failedRuns"`

	RoutingAccuracy    float64            `json:"routingAccuracy"`
	SuccessRate        float64            `json:"successRate"`
	PatternCoverage    float64            `json:"patternCoverage"`
	UtilizationBalance float64            `json:"utilizationBalance"`
	AgentUtilization   map[string]float64 `json:"agentUtilization,omitempty"`
	AvgDurationMinutes float64            `json:"avgDurationMinutes"`

	// Score is 0-100: 0.4 routing accuracy, 0.3 success rate, 0.2 pattern
	// coverage, 0.1 utilization balance.
	Score  float64 `json:"score"`
	Status string  `json:"status"`

	Runs []RunSummary `json:"runs,omitempty"`
}

// RegistryProvider supplies a pattern registry snapshot.
type RegistryProvider interface {
	Snapshot() (*patterns.Registry, error)
}

// Monitor computes health reports.
type Monitor struct {
	store          *run.Store
	registry       RegistryProvider
	logger         *slog.Logger
	now            func() time.Time
	stallThreshold time.Duration
	metrics        *Metrics
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithStallThreshold overrides the stall threshold.
func WithStallThreshold(d time.Duration) Option {
	return func(m *Monitor) { m.stallThreshold = d }
}

// WithMetrics publishes each report to prometheus gauges.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// New creates a Monitor over a run store and a pattern registry provider.
func New(store *run.Store, registry RegistryProvider, opts ...Option) *Monitor {
	m := &Monitor{
		store:          store,
		registry:       registry,
		logger:         slog.Default(),
		now:            time.Now,
		stallThreshold: DefaultStallThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Stalled reports whether a run record is stalled.
func (m *Monitor) Stalled(record *run.Record) bool {
	return !record.Status.Terminal() && m.now().Sub(record.UpdatedAt) > m.stallThreshold
}

// Summarize returns the health view of a single run.
func (m *Monitor) Summarize(runID string) (*RunSummary, error) {
	record, err := m.store.ReadRun(runID)
	if err != nil {
		return nil, err
	}
	return &RunSummary{
		RunID:       record.RunID,
		Status:      record.Status,
		CurrentStep: record.CurrentStep,
		UpdatedAt:   record.UpdatedAt,
		Stalled:     m.Stalled(record),
	}, nil
}

// Report scans all run records and the pattern registry.
func (m *Monitor) Report() (*Report, error) {
	report := &Report{}

	runIDs, err := m.store.ListRunIDs()
	if err != nil {
		return nil, err
	}
	for _, runID := range runIDs {
		record, err := m.store.ReadRun(runID)
		if err != nil {
			// Corrupt or half-written records are reported, not fatal.
			m.logger.Warn("skipping unreadable run", "run_id", runID, "error", err)
			continue
		}
		summary := RunSummary{
			RunID:       record.RunID,
			Status:      record.Status,
			CurrentStep: record.CurrentStep,
			UpdatedAt:   record.UpdatedAt,
			Stalled:     m.Stalled(record),
		}
		report.Runs = append(report.Runs, summary)
		report.TotalRuns++
		switch {
		case summary.Stalled:
			report.StalledRuns++
		case record.Status == run.StatusCompleted:
			report.CompletedRuns++
		case record.Status == run.StatusFailed:
			report.FailedRuns++
		default:
			report.ActiveRuns++
		}
	}

	registry, err := m.registry.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("pattern registry snapshot: %w", err)
	}
	m.aggregate(report, registry)

	report.Score = 100 * (0.4*report.RoutingAccuracy +
		0.3*report.SuccessRate +
		0.2*report.PatternCoverage +
		0.1*report.UtilizationBalance)
	switch {
	case report.Score >= 80:
		report.Status = StatusHealthy
	case report.Score >= 60:
		report.Status = StatusWarning
	default:
		report.Status = StatusCritical
	}

	if m.metrics != nil {
		m.metrics.Observe(report)
	}
	return report, nil
}

// aggregate fills the pattern-derived quantities.
func (m *Monitor) aggregate(report *Report, registry *patterns.Registry) {
	var total, successes, accurate, judged, covered int
	var totalMinutes float64
	agentCounts := make(map[string]int)

	for taskType, execs := range registry.TaskTypes {
		if len(execs) >= patternCoverageFloor {
			covered++
		}
		expected := route.Primary(strings.ToUpper(taskType))
		for _, exec := range execs {
			total++
			totalMinutes += exec.DurationMinutes
			if exec.Outcome == patterns.OutcomeSuccess {
				successes++
			}
			for _, agent := range exec.Agents {
				agentCounts[agent]++
			}
			if len(exec.Agents) > 0 {
				judged++
				if exec.Agents[0] == expected {
					accurate++
				}
			}
		}
	}

	if judged > 0 {
		report.RoutingAccuracy = float64(accurate) / float64(judged)
	}
	if total > 0 {
		report.SuccessRate = float64(successes) / float64(total)
		report.AvgDurationMinutes = totalMinutes / float64(total)
	}
	if types := len(registry.TaskTypes); types > 0 {
		report.PatternCoverage = float64(covered) / float64(types)
	}

	if len(agentCounts) > 0 {
		report.AgentUtilization = make(map[string]float64, len(agentCounts))
		var sum float64
		agents := make([]string, 0, len(agentCounts))
		for agent := range agentCounts {
			agents = append(agents, agent)
		}
		sort.Strings(agents)
		for _, agent := range agents {
			share := float64(agentCounts[agent]) / float64(total)
			report.AgentUtilization[agent] = share
			sum += share
		}
		avg := sum / float64(len(agentCounts))
		balance := 1 - abs(0.5-avg)
		if balance < 0 {
			balance = 0
		}
		report.UtilizationBalance = balance
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
