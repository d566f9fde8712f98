package health

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/pkg/patterns"
	"github.com/tombee/maestro/pkg/run"
)

type staticRegistry struct {
	registry *patterns.Registry
}

func (s *staticRegistry) Snapshot() (*patterns.Registry, error) {
	if s.registry == nil {
		return &patterns.Registry{TaskTypes: map[string][]patterns.Execution{}}, nil
	}
	return s.registry, nil
}

func exec(lead string, outcome patterns.Outcome, minutes float64) patterns.Execution {
	return patterns.Execution{
		Agents:          []string{lead, "code-reviewer"},
		Outcome:         outcome,
		DurationMinutes: minutes,
	}
}

func TestStalledDetection(t *testing.T) {
	now := time.Now()
	m := New(run.NewStore(t.TempDir()), &staticRegistry{},
		WithClock(func() time.Time { return now }))

	fresh := &run.Record{Status: run.StatusInProgress, UpdatedAt: now.Add(-time.Minute)}
	old := &run.Record{Status: run.StatusInProgress, UpdatedAt: now.Add(-6 * time.Minute)}
	done := &run.Record{Status: run.StatusCompleted, UpdatedAt: now.Add(-time.Hour)}

	assert.False(t, m.Stalled(fresh))
	assert.True(t, m.Stalled(old))
	assert.False(t, m.Stalled(done))
}

func TestReportCountsRuns(t *testing.T) {
	store := run.NewStore(t.TempDir())
	_, err := store.CreateRun("active-1", run.CreateOptions{})
	require.NoError(t, err)
	_, err = store.CreateRun("failed-1", run.CreateOptions{})
	require.NoError(t, err)
	failed := run.StatusFailed
	_, err = store.UpdateRun("failed-1", run.Patch{Status: &failed})
	require.NoError(t, err)

	m := New(store, &staticRegistry{})
	report, err := m.Report()
	require.NoError(t, err)

	assert.Equal(t, 2, report.TotalRuns)
	assert.Equal(t, 1, report.ActiveRuns)
	assert.Equal(t, 1, report.FailedRuns)
	assert.Equal(t, 0, report.StalledRuns)
	assert.Len(t, report.Runs, 2)
}

func TestReportAggregatesPatterns(t *testing.T) {
	registry := &patterns.Registry{
		TaskTypes: map[string][]patterns.Execution{
			"database": {
				exec("database-architect", patterns.OutcomeSuccess, 10),
				exec("database-architect", patterns.OutcomeSuccess, 20),
				exec("developer", patterns.OutcomeFailure, 30),
			},
			"documentation": {
				exec("technical-writer", patterns.OutcomeSuccess, 4),
			},
		},
	}
	m := New(run.NewStore(t.TempDir()), &staticRegistry{registry: registry})

	report, err := m.Report()
	require.NoError(t, err)

	// 3 of 4 executions led by the matrix primary.
	assert.InDelta(t, 0.75, report.RoutingAccuracy, 1e-9)
	assert.InDelta(t, 0.75, report.SuccessRate, 1e-9)
	// Only database has >= 3 executions.
	assert.InDelta(t, 0.5, report.PatternCoverage, 1e-9)
	assert.InDelta(t, 16.0, report.AvgDurationMinutes, 1e-9)
	assert.InDelta(t, 0.5, report.AgentUtilization["database-architect"], 1e-9)
	assert.InDelta(t, 1.0, report.AgentUtilization["code-reviewer"], 1e-9)
}

func TestReportScoreAndStatus(t *testing.T) {
	// All perfect signals score at least healthy.
	registry := &patterns.Registry{
		TaskTypes: map[string][]patterns.Execution{
			"database": {
				exec("database-architect", patterns.OutcomeSuccess, 5),
				exec("database-architect", patterns.OutcomeSuccess, 5),
				exec("database-architect", patterns.OutcomeSuccess, 5),
			},
		},
	}
	m := New(run.NewStore(t.TempDir()), &staticRegistry{registry: registry})

	report, err := m.Report()
	require.NoError(t, err)
	assert.Greater(t, report.Score, 80.0)
	assert.Equal(t, StatusHealthy, report.Status)

	// An empty registry is critical.
	m = New(run.NewStore(t.TempDir()), &staticRegistry{})
	report, err = m.Report()
	require.NoError(t, err)
	assert.Equal(t, StatusCritical, report.Status)
	assert.Zero(t, report.Score)
}

func TestReportPublishesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	store := run.NewStore(t.TempDir())
	_, err := store.CreateRun("run-1", run.CreateOptions{})
	require.NoError(t, err)

	m := New(store, &staticRegistry{}, WithMetrics(metrics))
	report, err := m.Report()
	require.NoError(t, err)

	assert.InDelta(t, float64(report.TotalRuns),
		testutil.ToFloat64(metrics.runsTotal.WithLabelValues("total")), 1e-9)
	assert.InDelta(t, report.Score, testutil.ToFloat64(metrics.score), 1e-9)
}

func TestSummarize(t *testing.T) {
	store := run.NewStore(t.TempDir())
	_, err := store.CreateRun("run-1", run.CreateOptions{})
	require.NoError(t, err)

	m := New(store, &staticRegistry{})
	summary, err := m.Summarize("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, run.StatusPending, summary.Status)
	assert.False(t, summary.Stalled)

	_, err = m.Summarize("missing")
	assert.Error(t, err)
}
