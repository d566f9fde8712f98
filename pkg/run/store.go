package run

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tombee/maestro/pkg/artifact"
	"github.com/tombee/maestro/pkg/errors"
)

const (
	runFileName      = "run.json"
	registryFileName = "artifact-registry.json"
	projectDBName    = "project-db.json"
	lockFileName     = "run.json.lock"
)

// runSubdirs are created for every new run.
var runSubdirs = []string{"artifacts", "plans", "reasoning", "gates"}

// Store is the crash-safe persistent store for run records and artifact
// registries. All mutations for a given run occur under a per-run exclusive
// lock; writes are atomic temp-file renames.
type Store struct {
	root         string
	cache        *registryCache
	logger       *slog.Logger
	now          func() time.Time
	lockDeadline time.Duration
	lockTTL      time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the store's clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLockDeadline overrides the lock acquisition deadline.
func WithLockDeadline(d time.Duration) Option {
	return func(s *Store) { s.lockDeadline = d }
}

// WithLockTTL overrides the stale-lock reclaim threshold.
func WithLockTTL(d time.Duration) Option {
	return func(s *Store) { s.lockTTL = d }
}

// WithCacheTTL overrides the registry cache TTL.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Store) { s.cache = newRegistryCache(d, s.now) }
}

// NewStore creates a store rooted at the given runs directory.
func NewStore(root string, opts ...Option) *Store {
	s := &Store{
		root:         root,
		logger:       slog.Default(),
		now:          time.Now,
		lockDeadline: DefaultLockDeadline,
		lockTTL:      DefaultLockTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = newRegistryCache(DefaultCacheTTL, s.now)
	}
	return s
}

// Root returns the runs directory the store is rooted at.
func (s *Store) Root() string { return s.root }

// RunDir returns the directory for a run.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.root, runID)
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.RunDir(runID), runFileName)
}

func (s *Store) registryPath(runID string) string {
	return filepath.Join(s.RunDir(runID), registryFileName)
}

func (s *Store) lock(runID string) *fileLock {
	return newFileLock(filepath.Join(s.RunDir(runID), lockFileName), s.lockDeadline, s.lockTTL, s.now)
}

// CreateOptions carries the optional initial fields of a new run record.
type CreateOptions struct {
	WorkflowID            string
	SelectedWorkflow      string
	OrchestratorSessionID string
	Metadata              map[string]any
}

// CreateRun initialises the run directory, subdirectories, an empty artifact
// registry, and the run record. It fails if the run directory already exists.
func (s *Store) CreateRun(runID string, opts CreateOptions) (*Record, error) {
	if err := ValidateID(runID); err != nil {
		return nil, err
	}

	dir := s.RunDir(runID)
	if _, err := os.Stat(dir); err == nil {
		return nil, &errors.ValidationError{
			Field:      "run_id",
			Message:    fmt.Sprintf("run %s already exists", runID),
			Suggestion: "use a fresh run id or read the existing run",
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	for _, sub := range runSubdirs {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating run subdirectory %s: %w", sub, err)
		}
	}

	now := s.now().UTC()
	record := &Record{
		RunID:            runID,
		WorkflowID:       opts.WorkflowID,
		SelectedWorkflow: opts.SelectedWorkflow,
		Status:           StatusPending,
		TaskQueue:        []Task{},
		Owners:           Owners{OrchestratorSessionID: opts.OrchestratorSessionID},
		Metadata:         deepMergeMaps(nil, opts.Metadata),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := writeJSONAtomic(s.registryPath(runID), map[string]*artifact.Artifact{}); err != nil {
		return nil, err
	}
	if err := writeJSONAtomic(s.runPath(runID), record); err != nil {
		return nil, err
	}
	if err := s.syncProjectDB(runID, record, map[string]*artifact.Artifact{}); err != nil {
		return nil, err
	}

	s.logger.Info("run created", "run_id", runID, "workflow", opts.SelectedWorkflow)
	return record.Clone(), nil
}

// ReadRun reads the run record. Missing runs surface NotFound, malformed
// records surface Corrupt.
func (s *Store) ReadRun(runID string) (*Record, error) {
	if err := ValidateID(runID); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.runPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "run", ID: runID}
		}
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &errors.CorruptError{Path: s.runPath(runID), Cause: err}
	}
	if record.RunID == "" || record.Status == "" {
		return nil, &errors.CorruptError{
			Path:  s.runPath(runID),
			Cause: fmt.Errorf("missing mandatory fields"),
		}
	}

	return &record, nil
}

// Patch describes a partial update to a run record. Nil pointer fields are
// left untouched; Metadata is deep-merged; Fields sets arbitrary top-level
// keys by JSON name (the CLI path).
type Patch struct {
	Status           *Status
	CurrentStep      *int
	WorkflowID       *string
	SelectedWorkflow *string
	CurrentAgent     *string
	AssignedAgents   []string
	AppendTasks      []Task
	SetTaskStatus    map[string]TaskStatus
	Metadata         map[string]any
	Fields           map[string]any
}

// UpdateRun merges the patch into the run record under the per-run lock,
// re-stamps updated_at, and maintains the lifecycle timestamps: started_at
// on the first transition to in_progress, completed_at on completed, and
// last_step_completed_at whenever current_step changes.
func (s *Store) UpdateRun(runID string, patch Patch) (*Record, error) {
	lock := s.lock(runID)
	if err := lock.Acquire(runID); err != nil {
		return nil, err
	}
	defer lock.Release()

	record, err := s.ReadRun(runID)
	if err != nil {
		return nil, err
	}

	if err := s.applyPatch(record, patch); err != nil {
		return nil, err
	}

	if err := writeJSONAtomic(s.runPath(runID), record); err != nil {
		return nil, err
	}

	if artifacts, regErr := s.readRegistryMap(runID, false); regErr == nil {
		if err := s.syncProjectDB(runID, record, artifacts); err != nil {
			s.logger.Warn("project db sync failed", "run_id", runID, "error", err)
		}
	}

	return record.Clone(), nil
}

// applyPatch mutates record in place according to patch.
func (s *Store) applyPatch(record *Record, patch Patch) error {
	now := s.now().UTC()
	previousStep := record.CurrentStep

	if len(patch.Fields) > 0 {
		if err := applyGenericFields(record, patch.Fields); err != nil {
			return err
		}
	}

	if patch.Status != nil && *patch.Status != record.Status {
		if err := CheckTransition(record.RunID, record.Status, *patch.Status); err != nil {
			return err
		}
		record.Status = *patch.Status
	}

	if patch.CurrentStep != nil {
		if *patch.CurrentStep < record.CurrentStep {
			return &errors.ValidationError{
				Field:   "current_step",
				Message: fmt.Sprintf("current_step cannot decrease (%d -> %d)", record.CurrentStep, *patch.CurrentStep),
			}
		}
		record.CurrentStep = *patch.CurrentStep
	}

	if patch.WorkflowID != nil {
		record.WorkflowID = *patch.WorkflowID
	}
	if patch.SelectedWorkflow != nil {
		record.SelectedWorkflow = *patch.SelectedWorkflow
	}
	if patch.CurrentAgent != nil {
		record.Owners.CurrentAgent = *patch.CurrentAgent
	}
	if patch.AssignedAgents != nil {
		record.Owners.AssignedAgents = append([]string(nil), patch.AssignedAgents...)
	}
	if len(patch.AppendTasks) > 0 {
		record.TaskQueue = append(record.TaskQueue, patch.AppendTasks...)
	}
	if len(patch.SetTaskStatus) > 0 {
		for i := range record.TaskQueue {
			if status, ok := patch.SetTaskStatus[record.TaskQueue[i].TaskID]; ok {
				record.TaskQueue[i].Status = status
			}
		}
	}
	if len(patch.Metadata) > 0 {
		record.Metadata = deepMergeMaps(record.Metadata, patch.Metadata)
	}

	// Lifecycle timestamps.
	if record.Status == StatusInProgress && record.Timestamps.StartedAt == nil {
		startedAt := now
		record.Timestamps.StartedAt = &startedAt
	}
	if record.Status == StatusCompleted && record.Timestamps.CompletedAt == nil {
		completedAt := now
		record.Timestamps.CompletedAt = &completedAt
	}
	if record.CurrentStep != previousStep {
		lastStep := now
		record.Timestamps.LastStepCompletedAt = &lastStep
	}

	if now.Before(record.CreatedAt) {
		now = record.CreatedAt
	}
	record.UpdatedAt = now
	return nil
}

// applyGenericFields sets top-level record fields by JSON key. Identity and
// bookkeeping fields are protected.
func applyGenericFields(record *Record, fields map[string]any) error {
	for key := range fields {
		switch key {
		case "run_id", "created_at", "updated_at":
			return &errors.ValidationError{
				Field:   key,
				Message: "field cannot be patched",
			}
		}
	}

	// Round-trip through JSON so keys address the serialised layout.
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding record for patch: %w", err)
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return fmt.Errorf("decoding record for patch: %w", err)
	}

	previousStatus := record.Status
	for key, value := range fields {
		asMap[key] = value
	}

	merged, err := json.Marshal(asMap)
	if err != nil {
		return fmt.Errorf("encoding patched record: %w", err)
	}
	var patched Record
	if err := json.Unmarshal(merged, &patched); err != nil {
		return &errors.ValidationError{
			Field:   "fields",
			Message: fmt.Sprintf("patch does not fit the run record: %v", err),
		}
	}

	if patched.Status != previousStatus {
		if err := CheckTransition(record.RunID, previousStatus, patched.Status); err != nil {
			return err
		}
	}
	if patched.CurrentStep < record.CurrentStep {
		return &errors.ValidationError{
			Field:   "current_step",
			Message: fmt.Sprintf("current_step cannot decrease (%d -> %d)", record.CurrentStep, patched.CurrentStep),
		}
	}

	*record = patched
	return nil
}

// ReadArtifactRegistry loads the indexed artifact registry for a run.
// Reads go through the short-TTL cache; malformed files surface Corrupt.
func (s *Store) ReadArtifactRegistry(runID string) (*artifact.Registry, error) {
	if err := ValidateID(runID); err != nil {
		return nil, err
	}

	if cached, ok := s.cache.Get(runID); ok {
		return artifact.FromMap(cached)
	}

	artifacts, err := s.readRegistryMap(runID, false)
	if err != nil {
		return nil, err
	}
	s.cache.Put(runID, artifacts)
	return artifact.FromMap(artifacts)
}

// readRegistryMap reads the persisted registry map. When recover is true a
// corrupt registry is moved aside for forensics and an empty map returned;
// primary reads surface the error.
func (s *Store) readRegistryMap(runID string, recover bool) (map[string]*artifact.Artifact, error) {
	path := s.registryPath(runID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errors.NotFoundError{Resource: "artifact registry", ID: runID}
		}
		return nil, fmt.Errorf("reading artifact registry for run %s: %w", runID, err)
	}

	var artifacts map[string]*artifact.Artifact
	if err := json.Unmarshal(data, &artifacts); err != nil {
		if !recover {
			return nil, &errors.CorruptError{Path: path, Cause: err}
		}
		movedTo := fmt.Sprintf("%s.corrupt-%d", path, s.now().Unix())
		if renameErr := os.Rename(path, movedTo); renameErr != nil {
			return nil, &errors.CorruptError{Path: path, Cause: err}
		}
		s.logger.Warn("corrupt artifact registry moved aside",
			"run_id", runID, "moved_to", movedTo, "error", err)
		return map[string]*artifact.Artifact{}, nil
	}
	if artifacts == nil {
		artifacts = map[string]*artifact.Artifact{}
	}
	return artifacts, nil
}

// RegisterArtifact registers an artifact under the per-run lock, applying
// the idempotency policy. Registration is a recovery read: a corrupt
// registry is moved aside and rebuilt rather than blocking the run.
func (s *Store) RegisterArtifact(runID string, a *artifact.Artifact, policy artifact.Policy) (*artifact.Artifact, error) {
	lock := s.lock(runID)
	if err := lock.Acquire(runID); err != nil {
		return nil, err
	}
	defer lock.Release()

	artifacts, err := s.readRegistryMap(runID, true)
	if err != nil {
		return nil, err
	}

	registry, err := artifact.FromMap(artifacts)
	if err != nil {
		return nil, err
	}

	stored, err := registry.Register(a, policy, s.now().UTC())
	if err != nil {
		return nil, err
	}

	return stored, s.writeRegistry(runID, registry)
}

// PublishUpdate mutates only the publishing fields of an artifact.
type PublishUpdate struct {
	Published      *bool
	PublishedAt    *time.Time
	PublishTargets []string
	PublishStatus  artifact.PublishStatus
	PublishError   *string
	Attempt        *artifact.PublishAttempt
}

// UpdateArtifactPublishingStatus updates the publishing fields of one
// artifact, appending any attempt. Marking an artifact published requires
// validationStatus == pass.
func (s *Store) UpdateArtifactPublishingStatus(runID, name string, update PublishUpdate) (*artifact.Artifact, error) {
	lock := s.lock(runID)
	if err := lock.Acquire(runID); err != nil {
		return nil, err
	}
	defer lock.Release()

	artifacts, err := s.readRegistryMap(runID, false)
	if err != nil {
		return nil, err
	}

	a, ok := artifacts[name]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "artifact", ID: name}
	}

	if update.Published != nil {
		if *update.Published && a.ValidationStatus != artifact.ValidationPass {
			return nil, &errors.ValidationError{
				Field:      "published",
				Message:    fmt.Sprintf("artifact %s has validationStatus %q", name, a.ValidationStatus),
				Suggestion: "artifacts must pass validation before publishing",
			}
		}
		a.Published = *update.Published
	}
	if update.PublishedAt != nil {
		publishedAt := *update.PublishedAt
		a.PublishedAt = &publishedAt
	}
	if update.PublishTargets != nil {
		a.PublishTargets = append([]string(nil), update.PublishTargets...)
	}
	if update.PublishStatus != "" {
		a.PublishStatus = update.PublishStatus
	}
	if update.PublishError != nil {
		a.PublishError = *update.PublishError
	}
	if update.Attempt != nil {
		a.PublishAttempts = append(a.PublishAttempts, *update.Attempt)
	}
	a.UpdatedAt = s.now().UTC()

	registry, err := artifact.FromMap(artifacts)
	if err != nil {
		return nil, err
	}
	return a.Clone(), s.writeRegistry(runID, registry)
}

// writeRegistry persists the registry, invalidating the cache before the
// rewrite and repopulating it after. Caller must hold the run lock.
func (s *Store) writeRegistry(runID string, registry *artifact.Registry) error {
	s.cache.Invalidate(runID)

	snapshot := registry.Snapshot()
	if err := writeJSONAtomic(s.registryPath(runID), snapshot); err != nil {
		return err
	}
	s.cache.Put(runID, snapshot)

	if record, err := s.ReadRun(runID); err == nil {
		if err := s.syncProjectDB(runID, record, snapshot); err != nil {
			s.logger.Warn("project db sync failed", "run_id", runID, "error", err)
		}
	}
	return nil
}

// ListRunIDs returns the ids of all runs under the store root, sorted.
func (s *Store) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if ValidateID(entry.Name()) != nil {
			continue
		}
		ids = append(ids, entry.Name())
	}
	sort.Strings(ids)
	return ids, nil
}

// EvictCaches drops all cached registries. Wired to the memory pressure
// monitor.
func (s *Store) EvictCaches() {
	s.cache.Evict()
}

// WriteGate persists a step's gate decision record under gates/.
func (s *Store) WriteGate(runID string, step int, gate any) error {
	path := filepath.Join(s.RunDir(runID), "gates", fmt.Sprintf("%02d-gate.json", step))
	return writeJSONAtomic(path, gate)
}

// WriteReasoning persists a step's free-form reasoning text under reasoning/.
func (s *Store) WriteReasoning(runID string, step int, agent, text string) (string, error) {
	path := filepath.Join(s.RunDir(runID), "reasoning", fmt.Sprintf("%02d-%s.md", step, agent))
	if err := writeBytesAtomic(path, []byte(text)); err != nil {
		return "", err
	}
	return path, nil
}

// writeJSONAtomic writes indented JSON to path via a uniquely named temp
// file in the same directory, then renames it over the target.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return writeBytesAtomic(path, data)
}

func writeBytesAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}
	return nil
}
