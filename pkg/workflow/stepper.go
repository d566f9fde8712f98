package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tombee/maestro/pkg/agent"
	"github.com/tombee/maestro/pkg/artifact"
	"github.com/tombee/maestro/pkg/condition"
	"github.com/tombee/maestro/pkg/errors"
	"github.com/tombee/maestro/pkg/executor"
	"github.com/tombee/maestro/pkg/patterns"
	"github.com/tombee/maestro/pkg/run"
)

// Recorder receives one pattern record per executed step.
type Recorder interface {
	Record(exec patterns.Execution) error
}

// ArtifactValidator checks a written artifact against a named schema.
type ArtifactValidator interface {
	ValidateArtifact(artifactName string, data []byte, schemaID string) error
}

// Gate is the side-record persisted under gates/ for approval and skip
// decisions.
type Gate struct {
	Status   string   `json:"status"`
	Agent    string   `json:"agent"`
	Allowed  bool     `json:"allowed"`
	Blockers []string `json:"blockers,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Outcome reports what one Step call did.
type Outcome struct {
	Step             int              `json:"step"`
	StepID           string           `json:"step_id"`
	Agent            string           `json:"agent,omitempty"`
	Skipped          bool             `json:"skipped,omitempty"`
	AwaitingApproval bool             `json:"awaiting_approval,omitempty"`
	RunStatus        run.Status       `json:"run_status"`
	Artifacts        []string         `json:"artifacts,omitempty"`
	Result           *executor.Result `json:"result,omitempty"`
}

// Stepper advances runs through workflow definitions. It is single-threaded
// per run; concurrent runs proceed independently through the store's
// per-run locks.
type Stepper struct {
	store     *run.Store
	builder   *agent.Builder
	adapters  []executor.Adapter
	evaluator *condition.Evaluator
	recorder  Recorder
	validator ArtifactValidator
	metrics   *Metrics
	logger    *slog.Logger
	timeout   time.Duration
	sleep     func(time.Duration)
}

// Option configures a Stepper.
type Option func(*Stepper)

// WithRecorder attaches a pattern learner.
func WithRecorder(recorder Recorder) Option {
	return func(s *Stepper) { s.recorder = recorder }
}

// WithValidator attaches a schema validator for steps that declare one.
func WithValidator(validator ArtifactValidator) Option {
	return func(s *Stepper) { s.validator = validator }
}

// WithMetrics attaches step and store counters.
func WithMetrics(metrics *Metrics) Option {
	return func(s *Stepper) { s.metrics = metrics }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stepper) { s.logger = logger }
}

// WithTimeout overrides the default executor deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Stepper) { s.timeout = d }
}

// WithSleep overrides the backoff sleep, used by tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(s *Stepper) { s.sleep = sleep }
}

// New creates a Stepper.
func New(store *run.Store, builder *agent.Builder, adapters []executor.Adapter, opts ...Option) *Stepper {
	s := &Stepper{
		store:     store,
		builder:   builder,
		adapters:  adapters,
		evaluator: condition.New(),
		logger:    slog.Default(),
		timeout:   executor.DefaultTimeout,
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Step advances the run by one workflow step.
func (s *Stepper) Step(ctx context.Context, runID string, def *Definition) (*Outcome, error) {
	outcome, err := s.step(ctx, runID, def)
	if outcome != nil {
		s.metrics.observeStep(outcome)
	}
	return outcome, err
}

func (s *Stepper) step(ctx context.Context, runID string, def *Definition) (*Outcome, error) {
	record, err := s.store.ReadRun(runID)
	if err != nil {
		return nil, err
	}

	if record.Status.Terminal() {
		return nil, &errors.StateTransitionError{
			RunID: runID,
			From:  string(record.Status),
			To:    string(run.StatusInProgress),
		}
	}
	if blocked, _ := record.Metadata["blocked"].(bool); blocked {
		return nil, &errors.BlockedError{
			Reason:     "routing was blocked by security enforcement",
			Categories: metadataStrings(record.Metadata, "security_categories"),
		}
	}
	if record.Status == run.StatusAwaitingApproval {
		return &Outcome{
			Step:             record.CurrentStep,
			AwaitingApproval: true,
			RunStatus:        record.Status,
		}, nil
	}

	if record.CurrentStep >= len(def.Steps) {
		return s.finalize(runID, record)
	}

	step := def.Steps[record.CurrentStep]
	outcome := &Outcome{Step: record.CurrentStep, StepID: step.ID, Agent: step.Agent}

	if !s.evaluator.Evaluate(step.Condition, s.conditionContext(def, record)) {
		return s.skip(runID, record, step, outcome)
	}

	if step.RequiresApproval {
		if !approvalGranted(record) {
			return s.pause(runID, record, step, outcome)
		}
		if err := s.store.WriteGate(runID, record.CurrentStep, Gate{
			Status:  "approved",
			Agent:   step.Agent,
			Allowed: true,
		}); err != nil {
			s.logger.Warn("failed to write approval gate", "run_id", runID, "step", record.CurrentStep, "error", err)
		}
	}

	return s.execute(ctx, runID, record, def, step, outcome)
}

// conditionContext assembles the evaluation context from the definition's
// config, the previous step's output, the environment, and the registry.
func (s *Stepper) conditionContext(def *Definition, record *run.Record) *condition.Context {
	ctx := &condition.Context{
		Config:   def.Config,
		Env:      envMap(),
		TopLevel: record.Metadata,
	}
	if output, ok := record.Metadata["step_output"].(map[string]any); ok {
		ctx.StepOutput = output
	}
	if registry, err := s.store.ReadArtifactRegistry(record.RunID); err == nil {
		artifacts := make(map[string]any)
		for name, a := range registry.Snapshot() {
			artifacts[name] = map[string]any{
				"status": string(a.ValidationStatus),
				"step":   a.Step,
				"agent":  a.Agent,
			}
		}
		ctx.Artifacts = artifacts
	}
	return ctx
}

// skip records a no-op for a step whose condition evaluated false.
func (s *Stepper) skip(runID string, record *run.Record, step StepDefinition, outcome *Outcome) (*Outcome, error) {
	next := record.CurrentStep + 1
	status := s.statusAfter(record)
	updated, err := s.updateWithLockRetry(runID, run.Patch{
		Status:      &status,
		CurrentStep: &next,
		AppendTasks: []run.Task{{
			TaskID:      fmt.Sprintf("%s-%02d", step.ID, record.CurrentStep),
			Description: fmt.Sprintf("skipped %s: condition false", step.ID),
			Agent:       step.Agent,
			Step:        record.CurrentStep,
			Status:      run.TaskCompleted,
		}},
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.WriteGate(runID, outcome.Step, Gate{
		Status:  "skipped",
		Agent:   step.Agent,
		Allowed: false,
		Warnings: []string{
			fmt.Sprintf("condition %q evaluated false", step.Condition),
		},
	}); err != nil {
		s.logger.Warn("failed to write skip gate", "run_id", runID, "step", outcome.Step, "error", err)
	}

	outcome.Skipped = true
	outcome.RunStatus = updated.Status
	return outcome, nil
}

// pause transitions the run to awaiting_approval and persists a pending
// gate record. The run does not advance until an approval updates it. A
// pending run passes through in_progress first, the only status that may
// reach awaiting_approval.
func (s *Stepper) pause(runID string, record *run.Record, step StepDefinition, outcome *Outcome) (*Outcome, error) {
	if record.Status == run.StatusPending {
		inProgress := run.StatusInProgress
		if _, err := s.updateWithLockRetry(runID, run.Patch{Status: &inProgress}); err != nil {
			return nil, err
		}
	}

	status := run.StatusAwaitingApproval
	updated, err := s.updateWithLockRetry(runID, run.Patch{
		Status:       &status,
		CurrentAgent: &step.Agent,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.WriteGate(runID, record.CurrentStep, Gate{
		Status:   "pending",
		Agent:    step.Agent,
		Allowed:  false,
		Blockers: []string{"awaiting approval"},
	}); err != nil {
		return nil, err
	}

	outcome.AwaitingApproval = true
	outcome.RunStatus = updated.Status
	return outcome, nil
}

// execute runs the step through the first available adapter, applying the
// retry budget and the anti-false-success rewrite.
func (s *Stepper) execute(ctx context.Context, runID string, record *run.Record, def *Definition, step StepDefinition, outcome *Outcome) (*Outcome, error) {
	adapter, err := executor.Probe(s.adapters)
	if err != nil {
		return nil, err
	}

	built, err := s.builder.Build(&agent.Request{
		Agent:      step.Agent,
		RunID:      runID,
		Step:       record.CurrentStep,
		Task:       s.taskFor(step, record),
		Injections: step.Injections,
	})
	if err != nil {
		return nil, err
	}

	status := run.StatusInProgress
	if _, err := s.updateWithLockRetry(runID, run.Patch{
		Status:       &status,
		CurrentAgent: &step.Agent,
	}); err != nil {
		return nil, err
	}

	request := &executor.Request{
		Agent:        step.Agent,
		SystemPrompt: built.SystemPrompt,
		Messages:     built.Messages,
		Tools:        built.Tools,
		RunID:        runID,
		Step:         record.CurrentStep,
	}

	var result *executor.Result
	attempts := step.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = s.invoke(ctx, adapter, step, request)
		if err != nil {
			return nil, &errors.ExecutorError{
				Agent:    step.Agent,
				Status:   "error",
				Attempts: attempt,
				Cause:    err,
			}
		}
		result = s.rewriteFalseSuccess(runID, step, result)
		if result.Status == executor.StatusCompleted || result.Status == executor.StatusAwaitingApproval {
			break
		}
		if attempt < attempts {
			s.logger.Warn("step attempt failed, retrying",
				"run_id", runID, "step", record.CurrentStep,
				"attempt", attempt, "status", result.Status)
			s.sleep(step.backoff(attempt))
		}
	}

	outcome.Result = result
	switch result.Status {
	case executor.StatusAwaitingApproval:
		return s.pause(runID, record, step, outcome)
	case executor.StatusCompleted:
		return s.complete(runID, record, def, step, outcome, result)
	default:
		return s.fail(runID, record, step, outcome, result)
	}
}

func (s *Stepper) invoke(ctx context.Context, adapter executor.Adapter, step StepDefinition, request *executor.Request) (*executor.Result, error) {
	stepCtx, cancel := context.WithTimeout(ctx, step.deadline(s.timeout))
	defer cancel()
	return adapter.Execute(stepCtx, request)
}

// rewriteFalseSuccess downgrades a completed result whose artifact claims do
// not hold on disk.
func (s *Stepper) rewriteFalseSuccess(runID string, step StepDefinition, result *executor.Result) *executor.Result {
	if result.Status != executor.StatusCompleted {
		return result
	}
	if len(result.ArtifactsWritten) == 0 {
		result.Status = executor.StatusFailed
		result.Error = "completed without writing any artifacts"
		return result
	}
	for _, path := range result.ArtifactsWritten {
		if _, err := os.Stat(path); err != nil {
			result.Status = executor.StatusFailed
			result.Error = fmt.Sprintf("claimed artifact %s does not exist", path)
			return result
		}
	}
	return result
}

// complete registers artifacts, advances the run, and emits a pattern
// record. Schema validation failure turns the step into a failure while
// keeping the artifact with validationStatus fail.
func (s *Stepper) complete(runID string, record *run.Record, def *Definition, step StepDefinition, outcome *Outcome, result *executor.Result) (*Outcome, error) {
	validationFailed := false
	for _, path := range result.ArtifactsWritten {
		status := artifact.ValidationPass
		if step.Schema != "" && s.validator != nil {
			if err := s.validateArtifact(path, step.Schema); err != nil {
				if !errors.IsSchemaValidation(err) {
					return nil, err
				}
				s.logger.Warn("artifact failed schema validation",
					"run_id", runID, "artifact", path, "schema", step.Schema)
				status = artifact.ValidationFail
				validationFailed = true
			}
		}

		registered, err := s.store.RegisterArtifact(runID, &artifact.Artifact{
			Name:             filepath.Base(path),
			Step:             record.CurrentStep,
			Agent:            step.Agent,
			Path:             path,
			ValidationStatus: status,
			Schema:           step.Schema,
			Metadata:         map[string]any{"type": artifactType(path)},
		}, step.Idempotency)
		if err != nil {
			return nil, err
		}
		outcome.Artifacts = append(outcome.Artifacts, registered.Name)
	}

	if validationFailed {
		result.Status = executor.StatusFailed
		result.Error = "artifact schema validation failed"
		return s.fail(runID, record, step, outcome, result)
	}

	s.persistReasoning(runID, record.CurrentStep, step.Agent, result)

	next := record.CurrentStep + 1
	status := s.statusAfterSteps(next, len(def.Steps))
	updated, err := s.updateWithLockRetry(runID, run.Patch{
		Status:      &status,
		CurrentStep: &next,
		Metadata: map[string]any{
			"step_output": map[string]any{
				"status":    string(result.Status),
				"artifacts": outcome.Artifacts,
			},
		},
		AppendTasks: []run.Task{{
			TaskID:      fmt.Sprintf("%s-%02d", step.ID, record.CurrentStep),
			Description: s.taskFor(step, record),
			Agent:       step.Agent,
			Step:        record.CurrentStep,
			Status:      run.TaskCompleted,
		}},
	})
	if err != nil {
		return nil, err
	}

	s.record(record, step, patterns.OutcomeSuccess, result)
	outcome.RunStatus = updated.Status
	return outcome, nil
}

// fail marks the run failed after the retry budget is exhausted.
func (s *Stepper) fail(runID string, record *run.Record, step StepDefinition, outcome *Outcome, result *executor.Result) (*Outcome, error) {
	status := run.StatusFailed
	updated, err := s.updateWithLockRetry(runID, run.Patch{
		Status: &status,
		AppendTasks: []run.Task{{
			TaskID:      fmt.Sprintf("%s-%02d", step.ID, record.CurrentStep),
			Description: s.taskFor(step, record),
			Agent:       step.Agent,
			Step:        record.CurrentStep,
			Status:      run.TaskFailed,
		}},
		Metadata: map[string]any{
			"failure": map[string]any{
				"step":   record.CurrentStep,
				"status": string(result.Status),
				"error":  result.Error,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	s.record(record, step, patterns.OutcomeFailure, result)
	outcome.RunStatus = updated.Status
	return outcome, nil
}

// finalize marks a run completed once current_step passes the last step.
func (s *Stepper) finalize(runID string, record *run.Record) (*Outcome, error) {
	status := run.StatusCompleted
	updated, err := s.updateWithLockRetry(runID, run.Patch{Status: &status})
	if err != nil {
		return nil, err
	}
	return &Outcome{Step: record.CurrentStep, RunStatus: updated.Status}, nil
}

// updateWithLockRetry retries UpdateRun on lock contention with backoff
// before surfacing the timeout.
func (s *Stepper) updateWithLockRetry(runID string, patch run.Patch) (*run.Record, error) {
	var record *run.Record
	var err error
	for attempt := range 3 {
		record, err = s.store.UpdateRun(runID, patch)
		if err == nil {
			return record, nil
		}
		if !errors.IsLockTimeout(err) {
			s.metrics.observeStoreError()
			return nil, err
		}
		s.metrics.observeLockTimeout()
		s.sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	s.metrics.observeStoreError()
	return nil, err
}

// persistReasoning copies the executor's reasoning record into the run's
// reasoning/ directory. Best effort, it never fails the step.
func (s *Stepper) persistReasoning(runID string, stepNum int, agent string, result *executor.Result) {
	if result.ReasoningPath == "" {
		return
	}
	text, err := os.ReadFile(result.ReasoningPath)
	if err != nil {
		s.logger.Warn("failed to read reasoning record",
			"run_id", runID, "path", result.ReasoningPath, "error", err)
		return
	}
	if _, err := s.store.WriteReasoning(runID, stepNum, agent, string(text)); err != nil {
		s.logger.Warn("failed to persist reasoning record",
			"run_id", runID, "step", stepNum, "error", err)
	}
}

func (s *Stepper) validateArtifact(path, schemaID string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", path, err)
	}
	return s.validator.ValidateArtifact(filepath.Base(path), data, schemaID)
}

// record emits a pattern execution; recorder failures never fail the step.
func (s *Stepper) record(record *run.Record, step StepDefinition, outcome patterns.Outcome, result *executor.Result) {
	if s.recorder == nil {
		return
	}
	taskType, _ := record.Metadata["task_type"].(string)
	if taskType == "" {
		taskType = "IMPLEMENTATION"
	}
	err := s.recorder.Record(patterns.Execution{
		Task:            s.taskFor(step, record),
		TaskType:        taskType,
		Agents:          []string{step.Agent},
		Outcome:         outcome,
		DurationMinutes: float64(result.DurationMS) / 60000,
	})
	if err != nil {
		s.logger.Warn("failed to record pattern execution", "error", err)
	}
}

func (s *Stepper) taskFor(step StepDefinition, record *run.Record) string {
	if step.Task != "" {
		return step.Task
	}
	if request, ok := record.Metadata["request"].(string); ok {
		return request
	}
	return step.ID
}

func (s *Stepper) statusAfter(record *run.Record) run.Status {
	if record.Status == run.StatusPending {
		return run.StatusInProgress
	}
	return record.Status
}

func (s *Stepper) statusAfterSteps(nextStep, totalSteps int) run.Status {
	if nextStep >= totalSteps {
		return run.StatusCompleted
	}
	return run.StatusInProgress
}

func artifactType(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "file"
	}
	return ext
}

// approvalGranted reports whether an approve decision for the run's current
// step has been recorded, letting a gated step proceed once acknowledged.
func approvalGranted(record *run.Record) bool {
	approval, ok := record.Metadata["approval"].(map[string]any)
	if !ok {
		return false
	}
	if decision, _ := approval["decision"].(string); decision != "approve" {
		return false
	}
	step, ok := metadataInt(approval["step"])
	return ok && step == record.CurrentStep
}

// metadataInt reads an integer that may have round-tripped through JSON.
func metadataInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func metadataStrings(metadata map[string]any, key string) []string {
	raw, ok := metadata[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func envMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}
