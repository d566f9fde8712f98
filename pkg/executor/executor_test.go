package executor

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/pkg/errors"
)

type stubAdapter struct {
	name      string
	available bool
	result    *Result
}

func (s *stubAdapter) Name() string    { return s.name }
func (s *stubAdapter) Available() bool { return s.available }
func (s *stubAdapter) Execute(ctx context.Context, req *Request) (*Result, error) {
	return s.result, nil
}

func TestProbeSelectsFirstAvailable(t *testing.T) {
	first := &stubAdapter{name: "first", available: false}
	second := &stubAdapter{name: "second", available: true}
	third := &stubAdapter{name: "third", available: true}

	adapter, err := Probe([]Adapter{first, second, third})
	require.NoError(t, err)
	assert.Equal(t, "second", adapter.Name())
}

func TestProbeNoneAvailable(t *testing.T) {
	_, err := Probe([]Adapter{
		&stubAdapter{name: "a"},
		&stubAdapter{name: "b"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsNoExecutor(err))

	var nerr *errors.NoExecutorError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, []string{"a", "b"}, nerr.Probed)
}

func TestCommandAdapterAvailability(t *testing.T) {
	assert.True(t, NewCommandAdapter("shell", "sh").Available())
	assert.False(t, NewCommandAdapter("ghost", "no-such-binary-exists").Available())
}

func TestCommandAdapterParsesResult(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	a := NewCommandAdapter("shell", "sh", "-c",
		`echo '{"status":"completed","artifacts_written":["artifacts/out.md"],"token_usage":{"used":10,"limit":100,"source":"api","confidence":"high"}}'`)

	result, err := a.Execute(context.Background(), &Request{Agent: "developer", RunID: "r1", Step: 1})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, []string{"artifacts/out.md"}, result.ArtifactsWritten)
	assert.Equal(t, "api", result.TokenUsage.Source)
}

func TestCommandAdapterNonZeroExitFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	a := NewCommandAdapter("shell", "sh", "-c", "echo boom >&2; exit 3")

	result, err := a.Execute(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Stderr, "boom")
	assert.NotEmpty(t, result.Error)
}

func TestCommandAdapterInvalidJSONFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	a := NewCommandAdapter("shell", "sh", "-c", "echo not-json")

	result, err := a.Execute(context.Background(), &Request{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Error, "invalid result")
}

func TestCommandAdapterTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	a := NewCommandAdapter("shell", "sh", "-c", "sleep 5")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := a.Execute(ctx, &Request{})
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, result.Status)
}
