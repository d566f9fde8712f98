package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/pkg/errors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStartGetEnd(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	session, err := store.Start(ctx, "run-123", "developer")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, StatusActive, session.Status)

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "run-123", loaded.RunID)
	assert.Equal(t, "developer", loaded.Agent)
	assert.Nil(t, loaded.EndedAt)

	ended, err := store.End(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)

	// Ending twice is a no-op.
	again, err := store.End(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, again.Status)

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestComplianceCounters(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	session, err := store.Start(ctx, "run-1", "developer")
	require.NoError(t, err)

	require.NoError(t, store.RecordCompliance(ctx, session.ID, true))
	require.NoError(t, store.RecordCompliance(ctx, session.ID, true))
	require.NoError(t, store.RecordCompliance(ctx, session.ID, false))
	require.NoError(t, store.RecordCompliance(ctx, session.ID, true))

	loaded, err := store.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.ComplianceChecks)
	assert.Equal(t, 1, loaded.ComplianceViolations)
	assert.InDelta(t, 0.75, loaded.ComplianceRate(), 1e-9)

	err = store.RecordCompliance(ctx, "missing", true)
	assert.True(t, errors.IsNotFound(err))
}

func TestComplianceRateWithNoChecks(t *testing.T) {
	session := &Session{}
	assert.Equal(t, 1.0, session.ComplianceRate())
}

func TestCostAccounting(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first, err := store.Start(ctx, "run-1", "developer")
	require.NoError(t, err)
	second, err := store.Start(ctx, "run-1", "code-reviewer")
	require.NoError(t, err)
	other, err := store.Start(ctx, "run-2", "developer")
	require.NoError(t, err)

	require.NoError(t, store.RecordUsage(ctx, first.ID, Usage{Model: "large", InputTokens: 1000, OutputTokens: 200, CostUSD: 0.05}))
	require.NoError(t, store.RecordUsage(ctx, first.ID, Usage{Model: "large", InputTokens: 500, OutputTokens: 100, CostUSD: 0.02}))
	require.NoError(t, store.RecordUsage(ctx, second.ID, Usage{Model: "small", InputTokens: 200, OutputTokens: 50, CostUSD: 0.01}))
	require.NoError(t, store.RecordUsage(ctx, other.ID, Usage{Model: "large", InputTokens: 9000, OutputTokens: 900, CostUSD: 0.40}))

	summary, err := store.SessionCost(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), summary.InputTokens)
	assert.Equal(t, int64(300), summary.OutputTokens)
	assert.InDelta(t, 0.07, summary.CostUSD, 1e-9)

	runSummary, err := store.RunCost(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, runSummary.Sessions)
	assert.Equal(t, int64(1700), runSummary.InputTokens)
	assert.InDelta(t, 0.08, runSummary.CostUSD, 1e-9)

	empty, err := store.RunCost(ctx, "run-absent")
	require.NoError(t, err)
	assert.Zero(t, empty.Sessions)
	assert.Zero(t, empty.CostUSD)
}

func TestRecordUsageValidation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	session, err := store.Start(ctx, "run-1", "developer")
	require.NoError(t, err)

	err = store.RecordUsage(ctx, session.ID, Usage{InputTokens: -1})
	assert.True(t, errors.IsValidation(err))

	err = store.RecordUsage(ctx, "missing", Usage{InputTokens: 1})
	assert.True(t, errors.IsNotFound(err))
}

func TestListByRun(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Start(ctx, "run-1", "developer")
	require.NoError(t, err)
	_, err = store.Start(ctx, "run-1", "code-reviewer")
	require.NoError(t, err)
	_, err = store.Start(ctx, "run-2", "developer")
	require.NoError(t, err)

	sessions, err := store.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	sessions, err = store.ListByRun(ctx, "run-absent")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	assert.True(t, errors.IsValidation(err))
}
