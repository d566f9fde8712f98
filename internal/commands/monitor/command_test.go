package monitor

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/internal/commands/shared"
	runstore "github.com/tombee/maestro/pkg/run"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewMonitorCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func testHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	shared.SetHomeForTest(home)
	t.Cleanup(func() { shared.SetHomeForTest("") })
	return home
}

func seedRun(t *testing.T, home, runID string, status runstore.Status) {
	t.Helper()
	store := runstore.NewStore(filepath.Join(home, "runs"))
	_, err := store.CreateRun(runID, runstore.CreateOptions{WorkflowID: "feature-development"})
	require.NoError(t, err)
	if status != runstore.StatusPending {
		inProgress := runstore.StatusInProgress
		_, err = store.UpdateRun(runID, runstore.Patch{Status: &inProgress})
		require.NoError(t, err)
		if status != runstore.StatusInProgress {
			_, err = store.UpdateRun(runID, runstore.Patch{Status: &status})
			require.NoError(t, err)
		}
	}
}

func TestMonitorList(t *testing.T) {
	home := testHome(t)
	seedRun(t, home, "run-a", runstore.StatusCompleted)
	seedRun(t, home, "run-b", runstore.StatusInProgress)

	out, err := execute(t, "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "run-a")
	assert.Contains(t, out, "run-b")
	assert.Contains(t, out, "completed")
}

func TestMonitorListEmpty(t *testing.T) {
	testHome(t)

	out, err := execute(t, "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "no runs")
}

func TestMonitorRunSummary(t *testing.T) {
	home := testHome(t)
	seedRun(t, home, "run-a", runstore.StatusCompleted)

	out, err := execute(t, "--run-id", "run-a")
	require.NoError(t, err)
	assert.Contains(t, out, "run-a")
	assert.Contains(t, out, "completed")
}

func TestMonitorMissingRun(t *testing.T) {
	testHome(t)

	_, err := execute(t, "--run-id", "absent")
	assert.Error(t, err)
}

func TestMonitorStatusEmptySystemFails(t *testing.T) {
	testHome(t)

	// An empty system scores zero, which is critical: exit code 1.
	_, err := execute(t, "--status")
	require.Error(t, err)
	assert.Equal(t, shared.ExitFailure, shared.CodeFor(err))
}
