package patterns

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, l *Learner, taskType string, lead string, outcome Outcome) {
	t.Helper()
	require.NoError(t, l.Record(Execution{
		Task:            "task",
		TaskType:        taskType,
		Agents:          []string{lead, "code-reviewer"},
		Outcome:         outcome,
		DurationMinutes: 4,
	}))
}

func TestRecordAppendsNDJSON(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	record(t, l, "SECURITY", "security-architect", OutcomeSuccess)
	record(t, l, "SECURITY", "security-architect", OutcomeFailure)

	data, err := os.ReadFile(filepath.Join(dir, "security.ndjson"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"outcome":"success"`)
	assert.Contains(t, lines[1], `"outcome":"failure"`)
}

func TestSnapshotAggregates(t *testing.T) {
	l := New(t.TempDir())

	record(t, l, "SECURITY", "security-architect", OutcomeSuccess)
	record(t, l, "DATABASE", "database-architect", OutcomeSuccess)
	record(t, l, "DATABASE", "database-architect", OutcomePartial)

	// Force a re-read from disk rather than the write-through snapshot.
	l.EvictCaches()

	registry, err := l.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 3, registry.Metadata.TotalExecutions)
	assert.Len(t, registry.TaskTypes["security"], 1)
	assert.Len(t, registry.TaskTypes["database"], 2)
}

func TestSnapshotSkipsTornLine(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	record(t, l, "TESTING", "test-engineer", OutcomeSuccess)

	f, err := os.OpenFile(filepath.Join(dir, "testing.ndjson"), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"task":"torn`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	l.EvictCaches()
	registry, err := l.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Metadata.TotalExecutions)
}

func TestRecordFillsTimestamp(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(t.TempDir(), WithClock(func() time.Time { return fixed }))

	record(t, l, "UI_UX", "ui-engineer", OutcomeSuccess)

	registry, err := l.Snapshot()
	require.NoError(t, err)
	require.Len(t, registry.TaskTypes["ui_ux"], 1)
	assert.Equal(t, fixed, registry.TaskTypes["ui_ux"][0].Timestamp)
}

func TestSuggestBelowThreshold(t *testing.T) {
	l := New(t.TempDir())
	record(t, l, "SECURITY", "security-architect", OutcomeSuccess)
	record(t, l, "SECURITY", "security-architect", OutcomeSuccess)

	s, err := l.SuggestRoutingImprovement("task", "SECURITY", []string{"developer"})
	require.NoError(t, err)
	assert.False(t, s.HasRecommendations)
	assert.Empty(t, s.Recommendations)
}

func TestSuggestBetterLeadAgent(t *testing.T) {
	l := New(t.TempDir())
	for range 4 {
		record(t, l, "DATABASE", "database-architect", OutcomeSuccess)
	}

	s, err := l.SuggestRoutingImprovement("task", "DATABASE", []string{"developer", "code-reviewer"})
	require.NoError(t, err)
	assert.True(t, s.HasRecommendations)
	require.Len(t, s.Recommendations, 1)
	assert.Contains(t, s.Recommendations[0], "database-architect")
}

func TestSuggestReviewOnLowSuccess(t *testing.T) {
	l := New(t.TempDir())
	record(t, l, "IMPLEMENTATION", "developer", OutcomeFailure)
	record(t, l, "IMPLEMENTATION", "developer", OutcomeFailure)
	record(t, l, "IMPLEMENTATION", "developer", OutcomeFailure)
	record(t, l, "IMPLEMENTATION", "developer", OutcomeSuccess)

	s, err := l.SuggestRoutingImprovement("task", "IMPLEMENTATION", []string{"developer"})
	require.NoError(t, err)
	assert.True(t, s.HasRecommendations)
	assert.Contains(t, strings.Join(s.Recommendations, "\n"), "review")
}

func TestSuggestConfidenceScalesWithVolume(t *testing.T) {
	l := New(t.TempDir())
	for range 10 {
		record(t, l, "TESTING", "test-engineer", OutcomeSuccess)
	}

	s, err := l.SuggestRoutingImprovement("task", "TESTING", []string{"test-engineer"})
	require.NoError(t, err)
	assert.Equal(t, "high", s.Confidence)
	// The chain already leads with the best agent, so nothing to recommend.
	assert.False(t, s.HasRecommendations)
}
