package iteration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/pkg/errors"
)

func TestInitAndGet(t *testing.T) {
	m := NewManager(t.TempDir())

	state, err := m.Init("feature-development", 8)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, state.Status)
	assert.Equal(t, CompletionIncomplete, state.CompletionStatus)
	assert.Zero(t, state.IterationCount)

	loaded, err := m.Get("feature-development")
	require.NoError(t, err)
	assert.Equal(t, state.WorkflowID, loaded.WorkflowID)
	assert.Equal(t, 8.0, loaded.TargetRating)

	// Re-initialising is rejected.
	_, err = m.Init("feature-development", 8)
	assert.True(t, errors.IsValidation(err))

	_, err = m.Get("absent")
	assert.True(t, errors.IsNotFound(err))
}

func TestInitValidation(t *testing.T) {
	m := NewManager(t.TempDir())

	_, err := m.Init("bad id with spaces", 8)
	assert.Error(t, err)

	_, err = m.Init("ok-id", 0)
	assert.True(t, errors.IsValidation(err))
}

func TestBumpAndStatus(t *testing.T) {
	m := NewManager(t.TempDir())
	_, err := m.Init("wf", 8)
	require.NoError(t, err)

	state, err := m.Bump("wf")
	require.NoError(t, err)
	assert.Equal(t, 1, state.IterationCount)
	state, err = m.Bump("wf")
	require.NoError(t, err)
	assert.Equal(t, 2, state.IterationCount)

	state, err = m.SetStatus("wf", StatusPaused)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, state.Status)

	_, err = m.SetStatus("wf", "bogus")
	assert.True(t, errors.IsValidation(err))
}

func TestCompletionRequiresAllRatings(t *testing.T) {
	m := NewManager(t.TempDir())
	_, err := m.Init("wf", 8)
	require.NoError(t, err)

	// No ratings yet: not complete.
	_, err = m.MarkComplete("wf")
	assert.True(t, errors.IsValidation(err))

	_, err = m.SetRating("wf", "api", 9)
	require.NoError(t, err)
	_, err = m.SetRating("wf", "ui", 6)
	require.NoError(t, err)

	_, err = m.MarkComplete("wf")
	assert.True(t, errors.IsValidation(err))

	state, err := m.SetRating("wf", "ui", 8)
	require.NoError(t, err)
	assert.True(t, state.Complete())

	state, err = m.MarkComplete("wf")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, CompletionComplete, state.CompletionStatus)
}

func TestFixHistory(t *testing.T) {
	fixed := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	m := NewManager(t.TempDir(), WithClock(func() time.Time { return fixed }))
	_, err := m.Init("wf", 8)
	require.NoError(t, err)

	state, err := m.AddFix("wf", "api", "handle empty payloads")
	require.NoError(t, err)
	require.Len(t, state.FixHistory, 1)
	assert.Equal(t, "api", state.FixHistory[0].Component)
	assert.Equal(t, fixed, state.FixHistory[0].Timestamp)

	loaded, err := m.Get("wf")
	require.NoError(t, err)
	assert.Len(t, loaded.FixHistory, 1)
}

func TestSetRatingRequiresComponent(t *testing.T) {
	m := NewManager(t.TempDir())
	_, err := m.Init("wf", 8)
	require.NoError(t, err)

	_, err = m.SetRating("wf", "", 5)
	assert.True(t, errors.IsValidation(err))
}
