package artifact

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tombee/maestro/pkg/errors"
)

// Policy controls how re-registering an artifact with an existing name behaves.
type Policy string

const (
	// PolicyOverwrite replaces the record in place, keeping created_at.
	PolicyOverwrite Policy = "overwrite"
	// PolicyVersion creates a new record with a -v<N> suffix and an
	// incremented version.
	PolicyVersion Policy = "version"
	// PolicySkip no-ops if an artifact with that name already passed
	// validation.
	PolicySkip Policy = "skip"
)

// Registry is an in-memory indexed view of one run's artifacts.
// All four indexes are kept mutually consistent under every mutation, and
// every lookup is O(1). Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Artifact
	byID   map[string]*Artifact
	byType map[string]map[string]*Artifact
	byStep map[int]map[string]*Artifact
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Artifact),
		byID:   make(map[string]*Artifact),
		byType: make(map[string]map[string]*Artifact),
		byStep: make(map[int]map[string]*Artifact),
	}
}

// FromMap builds a registry from a name-keyed artifact map, as persisted in
// artifact-registry.json.
func FromMap(artifacts map[string]*Artifact) (*Registry, error) {
	r := NewRegistry()
	for name, a := range artifacts {
		if a == nil {
			return nil, &errors.ValidationError{
				Field:   "artifacts",
				Message: fmt.Sprintf("artifact %q is null", name),
			}
		}
		if a.Name != name {
			return nil, &errors.ValidationError{
				Field:   "artifacts",
				Message: fmt.Sprintf("artifact key %q does not match name %q", name, a.Name),
			}
		}
		r.set(a.Clone())
	}
	return r, nil
}

// Set inserts or replaces an artifact. When the name already exists, old
// index entries are removed before the new ones are inserted.
func (r *Registry) Set(a *Artifact) error {
	if a == nil || a.Name == "" {
		return &errors.ValidationError{
			Field:   "name",
			Message: "artifact name cannot be empty",
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.set(a.Clone())
	return nil
}

// set updates all indexes. Caller must hold the write lock.
func (r *Registry) set(a *Artifact) {
	if old, ok := r.byName[a.Name]; ok {
		r.unindex(old)
	}
	r.byName[a.Name] = a
	if a.ID != "" {
		r.byID[a.ID] = a
	}
	if t := a.Type(); t != "" {
		if r.byType[t] == nil {
			r.byType[t] = make(map[string]*Artifact)
		}
		r.byType[t][a.Name] = a
	}
	if r.byStep[a.Step] == nil {
		r.byStep[a.Step] = make(map[string]*Artifact)
	}
	r.byStep[a.Step][a.Name] = a
}

// unindex removes an artifact from the secondary indexes.
// Caller must hold the write lock.
func (r *Registry) unindex(a *Artifact) {
	if a.ID != "" {
		delete(r.byID, a.ID)
	}
	if t := a.Type(); t != "" {
		delete(r.byType[t], a.Name)
		if len(r.byType[t]) == 0 {
			delete(r.byType, t)
		}
	}
	delete(r.byStep[a.Step], a.Name)
	if len(r.byStep[a.Step]) == 0 {
		delete(r.byStep, a.Step)
	}
}

// GetByName returns the artifact with the given name.
func (r *Registry) GetByName(name string) (*Artifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// GetByID returns the artifact with the given id.
func (r *Registry) GetByID(id string) (*Artifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// GetByType returns all artifacts with the given metadata type.
func (r *Registry) GetByType(artifactType string) []*Artifact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSet(r.byType[artifactType])
}

// GetByStep returns all artifacts registered at the given step.
func (r *Registry) GetByStep(step int) []*Artifact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSet(r.byStep[step])
}

// Delete removes an artifact by name, reporting whether a record was removed.
func (r *Registry) Delete(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byName[name]
	if !ok {
		return false
	}
	r.unindex(a)
	delete(r.byName, name)
	return true
}

// Len returns the number of registered artifacts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Register applies the idempotency policy and returns the stored record.
func (r *Registry) Register(a *Artifact, policy Policy, now time.Time) (*Artifact, error) {
	if a == nil || a.Name == "" {
		return nil, &errors.ValidationError{
			Field:   "name",
			Message: "artifact name cannot be empty",
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.byName[a.Name]

	switch policy {
	case PolicySkip:
		if exists && existing.ValidationStatus == ValidationPass {
			return existing.Clone(), nil
		}
		fallthrough

	case PolicyOverwrite, "":
		stored := a.Clone()
		if stored.Version == 0 {
			stored.Version = 1
		}
		if exists {
			stored.CreatedAt = existing.CreatedAt
		} else if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		stored.UpdatedAt = now
		r.set(stored)
		return stored.Clone(), nil

	case PolicyVersion:
		if !exists {
			stored := a.Clone()
			if stored.Version == 0 {
				stored.Version = 1
			}
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = now
			}
			stored.UpdatedAt = now
			r.set(stored)
			return stored.Clone(), nil
		}
		next := r.highestVersion(a.Name) + 1
		stored := a.Clone()
		stored.Name = fmt.Sprintf("%s-v%d", a.Name, next)
		stored.Version = next
		stored.CreatedAt = now
		stored.UpdatedAt = now
		r.set(stored)
		return stored.Clone(), nil

	default:
		return nil, &errors.ValidationError{
			Field:      "idempotency_policy",
			Message:    fmt.Sprintf("unknown policy %q", policy),
			Suggestion: "use one of: overwrite, version, skip",
		}
	}
}

// highestVersion returns the highest version recorded for a base name,
// counting the base record and any -v<N> successors.
// Caller must hold the lock.
func (r *Registry) highestVersion(base string) int {
	highest := 0
	if a, ok := r.byName[base]; ok && a.Version > highest {
		highest = a.Version
	}
	for n := 2; ; n++ {
		a, ok := r.byName[fmt.Sprintf("%s-v%d", base, n)]
		if !ok {
			break
		}
		if a.Version > highest {
			highest = a.Version
		}
	}
	return highest
}

// Snapshot returns a deep copy of the name-keyed artifact map.
func (r *Registry) Snapshot() map[string]*Artifact {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make(map[string]*Artifact, len(r.byName))
	for name, a := range r.byName {
		snapshot[name] = a.Clone()
	}
	return snapshot
}

// MarshalJSON serialises the registry as the persisted name-keyed map.
// The indexes carry no extra information, so the round trip is lossless.
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Snapshot())
}

// UnmarshalJSON rebuilds the registry and its indexes from the persisted map.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var artifacts map[string]*Artifact
	if err := json.Unmarshal(data, &artifacts); err != nil {
		return err
	}
	rebuilt, err := FromMap(artifacts)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = rebuilt.byName
	r.byID = rebuilt.byID
	r.byType = rebuilt.byType
	r.byStep = rebuilt.byStep
	return nil
}

func cloneSet(set map[string]*Artifact) []*Artifact {
	if len(set) == 0 {
		return nil
	}
	result := make([]*Artifact, 0, len(set))
	for _, a := range set {
		result = append(result, a.Clone())
	}
	return result
}
