package artifact

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArtifact(name string, step int) *Artifact {
	return &Artifact{
		Name:             name,
		ID:               "id-" + name,
		Step:             step,
		Agent:            "developer",
		Path:             "artifacts/" + name,
		Version:          1,
		ValidationStatus: ValidationPending,
		Metadata:         map[string]any{"type": "code"},
		CreatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRegistryIndexesStayConsistent(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Set(testArtifact("impl", 1)))
	require.NoError(t, r.Set(testArtifact("review", 2)))

	byName, ok := r.GetByName("impl")
	require.True(t, ok)
	assert.Equal(t, "impl", byName.Name)

	byID, ok := r.GetByID("id-review")
	require.True(t, ok)
	assert.Equal(t, "review", byID.Name)

	assert.Len(t, r.GetByType("code"), 2)
	assert.Len(t, r.GetByStep(1), 1)

	// Replacing a name with a new type and step moves its index entries.
	replacement := testArtifact("impl", 3)
	replacement.ID = "id-impl-2"
	replacement.Metadata["type"] = "doc"
	require.NoError(t, r.Set(replacement))

	_, ok = r.GetByID("id-impl")
	assert.False(t, ok, "stale id index entry survived replacement")
	assert.Empty(t, r.GetByStep(1))
	assert.Len(t, r.GetByType("code"), 1)
	assert.Len(t, r.GetByType("doc"), 1)
}

func TestRegistryDelete(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Set(testArtifact("impl", 1)))

	assert.True(t, r.Delete("impl"))
	assert.False(t, r.Delete("impl"))
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.GetByType("code"))
	assert.Empty(t, r.GetByStep(1))
}

func TestRegistryGetReturnsCopies(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Set(testArtifact("impl", 1)))

	got, ok := r.GetByName("impl")
	require.True(t, ok)
	got.Metadata["type"] = "mutated"
	got.Agent = "intruder"

	again, ok := r.GetByName("impl")
	require.True(t, ok)
	assert.Equal(t, "code", again.Type())
	assert.Equal(t, "developer", again.Agent)
}

func TestRegisterPolicies(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	later := now.Add(time.Hour)

	t.Run("overwrite keeps created_at", func(t *testing.T) {
		r := NewRegistry()
		first, err := r.Register(testArtifact("impl", 1), PolicyOverwrite, now)
		require.NoError(t, err)

		updated := testArtifact("impl", 1)
		updated.Agent = "architect"
		second, err := r.Register(updated, PolicyOverwrite, later)
		require.NoError(t, err)

		assert.Equal(t, first.CreatedAt, second.CreatedAt)
		assert.Equal(t, later, second.UpdatedAt)
		assert.Equal(t, "architect", second.Agent)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("version appends suffixed record", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Register(testArtifact("impl", 1), PolicyVersion, now)
		require.NoError(t, err)

		second, err := r.Register(testArtifact("impl", 2), PolicyVersion, later)
		require.NoError(t, err)
		assert.Equal(t, "impl-v2", second.Name)
		assert.Equal(t, 2, second.Version)

		third, err := r.Register(testArtifact("impl", 3), PolicyVersion, later)
		require.NoError(t, err)
		assert.Equal(t, "impl-v3", third.Name)
		assert.Equal(t, 3, third.Version)
		assert.Equal(t, 3, r.Len())
	})

	t.Run("skip no-ops when existing passed validation", func(t *testing.T) {
		r := NewRegistry()
		passed := testArtifact("impl", 1)
		passed.ValidationStatus = ValidationPass
		_, err := r.Register(passed, PolicyOverwrite, now)
		require.NoError(t, err)

		incoming := testArtifact("impl", 5)
		incoming.Agent = "late-writer"
		got, err := r.Register(incoming, PolicySkip, later)
		require.NoError(t, err)
		assert.Equal(t, "developer", got.Agent)
		assert.Equal(t, 1, got.Step)
	})

	t.Run("skip overwrites when existing has not passed", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Register(testArtifact("impl", 1), PolicyOverwrite, now)
		require.NoError(t, err)

		incoming := testArtifact("impl", 5)
		got, err := r.Register(incoming, PolicySkip, later)
		require.NoError(t, err)
		assert.Equal(t, 5, got.Step)
	})

	t.Run("unknown policy rejected", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Register(testArtifact("impl", 1), Policy("merge"), now)
		assert.Error(t, err)
	})
}

func TestRegistryJSONRoundTrip(t *testing.T) {
	r := NewRegistry()
	a := testArtifact("impl", 1)
	a.Dependencies = []string{"plan"}
	a.Publishable = true
	a.PublishStatus = PublishPending
	require.NoError(t, r.Set(a))
	require.NoError(t, r.Set(testArtifact("plan", 0)))

	data, err := json.Marshal(r)
	require.NoError(t, err)

	restored := NewRegistry()
	require.NoError(t, json.Unmarshal(data, restored))

	assert.Equal(t, r.Snapshot(), restored.Snapshot())

	// Indexes are rebuilt, not serialised.
	assert.Len(t, restored.GetByType("code"), 2)
	got, ok := restored.GetByID("id-impl")
	require.True(t, ok)
	assert.Equal(t, []string{"plan"}, got.Dependencies)

	again, err := json.Marshal(restored)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestFromMapRejectsMismatchedKeys(t *testing.T) {
	_, err := FromMap(map[string]*Artifact{"impl": {Name: "other"}})
	assert.Error(t, err)
}
