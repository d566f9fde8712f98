package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/run"
)

var secret = []byte("test-approval-secret")

func pausedRun(t *testing.T) (*run.Store, string) {
	t.Helper()
	store := run.NewStore(t.TempDir())
	const runID = "run-approval"
	_, err := store.CreateRun(runID, run.CreateOptions{WorkflowID: "feature-development"})
	require.NoError(t, err)

	inProgress := run.StatusInProgress
	_, err = store.UpdateRun(runID, run.Patch{Status: &inProgress})
	require.NoError(t, err)
	awaiting := run.StatusAwaitingApproval
	_, err = store.UpdateRun(runID, run.Patch{Status: &awaiting})
	require.NoError(t, err)
	return store, runID
}

func TestApproveResumesRun(t *testing.T) {
	store, runID := pausedRun(t)
	m, err := NewManager(store, secret)
	require.NoError(t, err)

	token, err := m.Issue(runID, 0, "tech-lead", DecisionApprove)
	require.NoError(t, err)

	record, err := m.Apply(token)
	require.NoError(t, err)
	assert.Equal(t, run.StatusInProgress, record.Status)

	approval, ok := record.Metadata["approval"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tech-lead", approval["approver"])
	assert.Equal(t, DecisionApprove, approval["decision"])
}

func TestDenyFailsRun(t *testing.T) {
	store, runID := pausedRun(t)
	m, err := NewManager(store, secret)
	require.NoError(t, err)

	token, err := m.Issue(runID, 0, "tech-lead", DecisionDeny)
	require.NoError(t, err)

	record, err := m.Apply(token)
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, record.Status)
}

func TestApplyIsSingleUse(t *testing.T) {
	store, runID := pausedRun(t)
	m, err := NewManager(store, secret)
	require.NoError(t, err)

	token, err := m.Issue(runID, 0, "tech-lead", DecisionApprove)
	require.NoError(t, err)

	_, err = m.Apply(token)
	require.NoError(t, err)

	// The run is no longer awaiting approval, so a replay is rejected.
	_, err = m.Apply(token)
	assert.True(t, errors.IsStateTransition(err))
}

func TestIssueRequiresAwaitingApproval(t *testing.T) {
	store := run.NewStore(t.TempDir())
	_, err := store.CreateRun("run-1", run.CreateOptions{WorkflowID: "feature-development"})
	require.NoError(t, err)

	m, err := NewManager(store, secret)
	require.NoError(t, err)

	_, err = m.Issue("run-1", 0, "tech-lead", DecisionApprove)
	assert.True(t, errors.IsStateTransition(err))
}

func TestIssueValidation(t *testing.T) {
	store, runID := pausedRun(t)
	m, err := NewManager(store, secret)
	require.NoError(t, err)

	_, err = m.Issue(runID, 0, "", DecisionApprove)
	assert.True(t, errors.IsValidation(err))

	_, err = m.Issue(runID, 0, "tech-lead", "maybe")
	assert.True(t, errors.IsValidation(err))

	// Wrong step.
	_, err = m.Issue(runID, 3, "tech-lead", DecisionApprove)
	assert.True(t, errors.IsValidation(err))

	_, err = m.Issue("absent", 0, "tech-lead", DecisionApprove)
	assert.True(t, errors.IsNotFound(err))
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	store, runID := pausedRun(t)
	m, err := NewManager(store, secret)
	require.NoError(t, err)

	token, err := m.Issue(runID, 0, "tech-lead", DecisionApprove)
	require.NoError(t, err)

	other, err := NewManager(store, []byte("other-secret"))
	require.NoError(t, err)
	_, err = other.Verify(token)
	assert.Error(t, err)

	_, err = m.Verify("")
	assert.True(t, errors.IsValidation(err))
	_, err = m.Verify("not-a-token")
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	store, runID := pausedRun(t)

	past := time.Now().Add(-48 * time.Hour)
	m, err := NewManager(store, secret, WithTTL(time.Minute), WithClock(func() time.Time { return past }))
	require.NoError(t, err)

	token, err := m.Issue(runID, 0, "tech-lead", DecisionApprove)
	require.NoError(t, err)

	live, err := NewManager(store, secret)
	require.NoError(t, err)
	_, err = live.Verify(token)
	assert.Error(t, err)
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager(run.NewStore(t.TempDir()), nil)
	assert.True(t, errors.IsValidation(err))
}
