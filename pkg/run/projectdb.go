package run

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tombee/maestro/pkg/artifact"
)

// ProjectDB is the read-optimised projection of a run record and its
// artifact registry. It is never the source of truth: the only writer is the
// store's sync, triggered by run and registry updates, and staleness is
// detectable via DerivedFromRunUpdatedAt plus the content hash.
type ProjectDB struct {
	RunID                   string    `json:"run_id"`
	SelectedWorkflow        string    `json:"selected_workflow,omitempty"`
	Status                  Status    `json:"status"`
	CurrentStep             int       `json:"current_step"`
	CurrentAgent            string    `json:"current_agent,omitempty"`
	AssignedAgents          []string  `json:"assigned_agents,omitempty"`
	TasksTotal              int       `json:"tasks_total"`
	TasksCompleted          int       `json:"tasks_completed"`
	ArtifactCount           int       `json:"artifact_count"`
	ArtifactsPassed         int       `json:"artifacts_passed"`
	ArtifactNames           []string  `json:"artifact_names,omitempty"`
	DerivedFromRunUpdatedAt time.Time `json:"derived_from_run_updated_at"`
	Hash                    string    `json:"hash"`
}

// syncProjectDB re-derives project-db.json from the record and registry.
func (s *Store) syncProjectDB(runID string, record *Record, artifacts map[string]*artifact.Artifact) error {
	db := deriveProjectDB(record, artifacts)
	return writeJSONAtomic(filepath.Join(s.RunDir(runID), projectDBName), db)
}

// ReadProjectDB reads the derived projection, re-deriving it first when the
// run record has moved past it.
func (s *Store) ReadProjectDB(runID string) (*ProjectDB, error) {
	record, err := s.ReadRun(runID)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.RunDir(runID), projectDBName)
	if data, err := os.ReadFile(path); err == nil {
		var db ProjectDB
		if err := json.Unmarshal(data, &db); err == nil && db.DerivedFromRunUpdatedAt.Equal(record.UpdatedAt) {
			return &db, nil
		}
	}

	artifacts, err := s.readRegistryMap(runID, false)
	if err != nil {
		return nil, err
	}
	db := deriveProjectDB(record, artifacts)
	if err := writeJSONAtomic(path, db); err != nil {
		return nil, err
	}
	return db, nil
}

func deriveProjectDB(record *Record, artifacts map[string]*artifact.Artifact) *ProjectDB {
	db := &ProjectDB{
		RunID:                   record.RunID,
		SelectedWorkflow:        record.SelectedWorkflow,
		Status:                  record.Status,
		CurrentStep:             record.CurrentStep,
		CurrentAgent:            record.Owners.CurrentAgent,
		AssignedAgents:          append([]string(nil), record.Owners.AssignedAgents...),
		TasksTotal:              len(record.TaskQueue),
		ArtifactCount:           len(artifacts),
		DerivedFromRunUpdatedAt: record.UpdatedAt,
	}
	for _, task := range record.TaskQueue {
		if task.Status == TaskCompleted {
			db.TasksCompleted++
		}
	}
	for name, a := range artifacts {
		db.ArtifactNames = append(db.ArtifactNames, name)
		if a.ValidationStatus == artifact.ValidationPass {
			db.ArtifactsPassed++
		}
	}
	sort.Strings(db.ArtifactNames)
	db.Hash = hashRecord(record)
	return db
}

// hashRecord computes a stable content hash of the run record for staleness
// detection.
func hashRecord(record *Record) string {
	data, err := json.Marshal(record)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
