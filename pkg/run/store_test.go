package run

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/pkg/artifact"
	"github.com/tombee/maestro/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func statusPtr(s Status) *Status { return &s }
func intPtr(i int) *int          { return &i }
func strPtr(s string) *string    { return &s }

func TestCreateRun(t *testing.T) {
	s := newTestStore(t)

	record, err := s.CreateRun("run-1", CreateOptions{
		SelectedWorkflow: "feature-implementation",
		Metadata:         map[string]any{"user_request": "add login"},
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", record.RunID)
	assert.Equal(t, StatusPending, record.Status)
	assert.Equal(t, 0, record.CurrentStep)
	assert.False(t, record.UpdatedAt.Before(record.CreatedAt))

	for _, sub := range []string{"artifacts", "plans", "reasoning", "gates"} {
		info, err := os.Stat(filepath.Join(s.RunDir("run-1"), sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	// Empty registry written on create.
	registry, err := s.ReadArtifactRegistry("run-1")
	require.NoError(t, err)
	assert.Equal(t, 0, registry.Len())

	// Second create with the same id fails.
	_, err = s.CreateRun("run-1", CreateOptions{})
	assert.True(t, errors.IsValidation(err))
}

func TestCreateRunRejectsUnsafeIDs(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"", "has space", "dot.dot", "../escape", "a/b"} {
		_, err := s.CreateRun(id, CreateOptions{})
		assert.True(t, errors.IsValidation(err), "id %q accepted", id)
	}
}

func TestReadRunNotFoundAndCorrupt(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ReadRun("missing")
	assert.True(t, errors.IsNotFound(err))

	_, err = s.CreateRun("run-1", CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.runPath("run-1"), []byte("{not json"), 0o644))

	_, err = s.ReadRun("run-1")
	assert.True(t, errors.IsCorrupt(err))
}

func TestUpdateRunLifecycleTimestamps(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRun("run-1", CreateOptions{})
	require.NoError(t, err)

	record, err := s.UpdateRun("run-1", Patch{Status: statusPtr(StatusInProgress)})
	require.NoError(t, err)
	require.NotNil(t, record.Timestamps.StartedAt)
	startedAt := *record.Timestamps.StartedAt

	record, err = s.UpdateRun("run-1", Patch{CurrentStep: intPtr(1)})
	require.NoError(t, err)
	require.NotNil(t, record.Timestamps.LastStepCompletedAt)
	assert.Equal(t, 1, record.CurrentStep)

	record, err = s.UpdateRun("run-1", Patch{Status: statusPtr(StatusCompleted)})
	require.NoError(t, err)
	require.NotNil(t, record.Timestamps.CompletedAt)
	assert.False(t, record.Timestamps.CompletedAt.Before(startedAt))
	assert.False(t, record.UpdatedAt.Before(record.CreatedAt))

	// started_at is set once.
	assert.Equal(t, startedAt, *record.Timestamps.StartedAt)
}

func TestUpdateRunRejectsIllegalTransition(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRun("run-1", CreateOptions{})
	require.NoError(t, err)

	_, err = s.UpdateRun("run-1", Patch{Status: statusPtr(StatusInProgress)})
	require.NoError(t, err)
	_, err = s.UpdateRun("run-1", Patch{Status: statusPtr(StatusCompleted)})
	require.NoError(t, err)

	_, err = s.UpdateRun("run-1", Patch{Status: statusPtr(StatusInProgress)})
	assert.True(t, errors.IsStateTransition(err))
}

func TestUpdateRunRejectsStepRegression(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRun("run-1", CreateOptions{})
	require.NoError(t, err)

	_, err = s.UpdateRun("run-1", Patch{CurrentStep: intPtr(3)})
	require.NoError(t, err)

	_, err = s.UpdateRun("run-1", Patch{CurrentStep: intPtr(2)})
	assert.True(t, errors.IsValidation(err))
}

func TestUpdateRunDeepMergesMetadata(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRun("run-1", CreateOptions{
		Metadata: map[string]any{
			"handoff": map[string]any{"router": "v1", "chain": "developer"},
		},
	})
	require.NoError(t, err)

	record, err := s.UpdateRun("run-1", Patch{
		Metadata: map[string]any{
			"handoff":  map[string]any{"chain": "developer,reviewer"},
			"blockers": []any{"pending security review"},
		},
	})
	require.NoError(t, err)

	handoff := record.Metadata["handoff"].(map[string]any)
	assert.Equal(t, "v1", handoff["router"])
	assert.Equal(t, "developer,reviewer", handoff["chain"])
	assert.Len(t, record.Metadata["blockers"], 1)
}

func TestUpdateRunGenericFields(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRun("run-1", CreateOptions{})
	require.NoError(t, err)

	record, err := s.UpdateRun("run-1", Patch{
		Fields: map[string]any{"selected_workflow": "security-audit"},
	})
	require.NoError(t, err)
	assert.Equal(t, "security-audit", record.SelectedWorkflow)

	_, err = s.UpdateRun("run-1", Patch{Fields: map[string]any{"run_id": "other"}})
	assert.True(t, errors.IsValidation(err))

	_, err = s.UpdateRun("run-1", Patch{Fields: map[string]any{"status": "completed"}})
	assert.True(t, errors.IsStateTransition(err), "generic field patch must respect the state machine")
}

func TestUpdateRunReleasesLock(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRun("run-1", CreateOptions{})
	require.NoError(t, err)

	_, err = s.UpdateRun("run-1", Patch{Status: statusPtr(StatusInProgress)})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(s.RunDir("run-1"), "run.json.lock"))
	assert.True(t, os.IsNotExist(statErr), "lock file must be deleted after UpdateRun")
}

func TestConcurrentUpdatesAreLinearisable(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRun("run-1", CreateOptions{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := s.UpdateRun("run-1", Patch{Metadata: map[string]any{"field_a": float64(1)}})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := s.UpdateRun("run-1", Patch{Metadata: map[string]any{"field_b": float64(2)}})
		assert.NoError(t, err)
	}()
	wg.Wait()

	record, err := s.ReadRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), record.Metadata["field_a"])
	assert.Equal(t, float64(2), record.Metadata["field_b"])

	_, statErr := os.Stat(filepath.Join(s.RunDir("run-1"), "run.json.lock"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRegisterArtifactPoliciesThroughStore(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRun("run-1", CreateOptions{})
	require.NoError(t, err)

	first, err := s.RegisterArtifact("run-1", &artifact.Artifact{
		Name: "impl", Step: 1, Agent: "developer", Path: "artifacts/impl",
		ValidationStatus: artifact.ValidationPending,
	}, artifact.PolicyOverwrite)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	second, err := s.RegisterArtifact("run-1", &artifact.Artifact{
		Name: "impl", Step: 2, Agent: "developer", Path: "artifacts/impl",
		ValidationStatus: artifact.ValidationPending,
	}, artifact.PolicyVersion)
	require.NoError(t, err)
	assert.Equal(t, "impl-v2", second.Name)

	registry, err := s.ReadArtifactRegistry("run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, registry.Len())
}

func TestRegisterArtifactRecoversCorruptRegistry(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRun("run-1", CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.registryPath("run-1"), []byte("{broken"), 0o644))

	_, err = s.RegisterArtifact("run-1", &artifact.Artifact{
		Name: "impl", Step: 1, Agent: "developer",
		ValidationStatus: artifact.ValidationPending,
	}, artifact.PolicyOverwrite)
	require.NoError(t, err)

	// The damaged file was moved aside for forensics.
	matches, err := filepath.Glob(s.registryPath("run-1") + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	registry, err := s.ReadArtifactRegistry("run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, registry.Len())
}

func TestPublishRequiresValidationPass(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRun("run-1", CreateOptions{})
	require.NoError(t, err)

	_, err = s.RegisterArtifact("run-1", &artifact.Artifact{
		Name: "impl", Step: 1, Agent: "developer",
		ValidationStatus: artifact.ValidationPending,
	}, artifact.PolicyOverwrite)
	require.NoError(t, err)

	published := true
	_, err = s.UpdateArtifactPublishingStatus("run-1", "impl", PublishUpdate{Published: &published})
	assert.True(t, errors.IsValidation(err))

	// After validation passes, publishing succeeds and attempts append.
	passed, err := s.RegisterArtifact("run-1", &artifact.Artifact{
		Name: "impl", Step: 1, Agent: "developer",
		ValidationStatus: artifact.ValidationPass,
	}, artifact.PolicyOverwrite)
	require.NoError(t, err)
	require.Equal(t, artifact.ValidationPass, passed.ValidationStatus)

	now := time.Now().UTC()
	got, err := s.UpdateArtifactPublishingStatus("run-1", "impl", PublishUpdate{
		Published:     &published,
		PublishedAt:   &now,
		PublishStatus: artifact.PublishSuccess,
		Attempt: &artifact.PublishAttempt{
			Target: "registry", Status: artifact.PublishSuccess, AttemptedAt: now,
		},
	})
	require.NoError(t, err)
	assert.True(t, got.Published)
	assert.Len(t, got.PublishAttempts, 1)
}

func TestRegistryCacheReturnsFreshCopies(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRun("run-1", CreateOptions{})
	require.NoError(t, err)

	_, err = s.RegisterArtifact("run-1", &artifact.Artifact{
		Name: "impl", Step: 1, Agent: "developer",
		Metadata:         map[string]any{"type": "code"},
		ValidationStatus: artifact.ValidationPending,
	}, artifact.PolicyOverwrite)
	require.NoError(t, err)

	first, err := s.ReadArtifactRegistry("run-1")
	require.NoError(t, err)
	got, ok := first.GetByName("impl")
	require.True(t, ok)
	got.Agent = "mutated"

	second, err := s.ReadArtifactRegistry("run-1")
	require.NoError(t, err)
	again, ok := second.GetByName("impl")
	require.True(t, ok)
	assert.Equal(t, "developer", again.Agent)
}

func TestListRunIDs(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"run-b", "run-a"} {
		_, err := s.CreateRun(id, CreateOptions{})
		require.NoError(t, err)
	}

	ids, err := s.ListRunIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a", "run-b"}, ids)
}

func TestProjectDBIsDerived(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRun("run-1", CreateOptions{SelectedWorkflow: "feature-implementation"})
	require.NoError(t, err)

	record, err := s.UpdateRun("run-1", Patch{
		Status:      statusPtr(StatusInProgress),
		CurrentStep: intPtr(2),
		AppendTasks: []Task{{TaskID: "t1", Agent: "developer", Status: TaskCompleted}},
	})
	require.NoError(t, err)

	db, err := s.ReadProjectDB("run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, db.Status)
	assert.Equal(t, 2, db.CurrentStep)
	assert.Equal(t, 1, db.TasksCompleted)
	assert.Equal(t, record.UpdatedAt, db.DerivedFromRunUpdatedAt)
	assert.NotEmpty(t, db.Hash)

	// Hand-editing the projection does not survive: it is re-derived when
	// the run record moves.
	path := filepath.Join(s.RunDir("run-1"), "project-db.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"run_id":"run-1","status":"failed","derived_from_run_updated_at":"2000-01-01T00:00:00Z"}`), 0o644))

	db, err = s.ReadProjectDB("run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, db.Status)
}

func TestRunRecordJSONShape(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateRun("run-1", CreateOptions{SelectedWorkflow: "wf"})
	require.NoError(t, err)

	data, err := os.ReadFile(s.runPath("run-1"))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"run_id", "current_step", "status", "task_queue", "owners", "timestamps", "created_at", "updated_at"} {
		assert.Contains(t, raw, key)
	}
}

func TestUpdateRunSurfacesLockTimeout(t *testing.T) {
	s := NewStore(t.TempDir(), WithLockDeadline(100*time.Millisecond), WithLockTTL(time.Hour))
	_, err := s.CreateRun("run-1", CreateOptions{})
	require.NoError(t, err)

	// A healthy foreign writer holds the lock.
	holder := newFileLock(filepath.Join(s.RunDir("run-1"), "run.json.lock"), time.Second, time.Hour, time.Now)
	require.NoError(t, holder.Acquire("run-1"))
	defer holder.Release()

	_, err = s.UpdateRun("run-1", Patch{Status: statusPtr(StatusInProgress)})
	assert.True(t, errors.IsLockTimeout(err))
}
