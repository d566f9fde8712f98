package route

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/internal/commands/shared"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	shared.SetHomeForTest(t.TempDir())
	t.Cleanup(func() { shared.SetHomeForTest("") })

	cmd := NewRouteCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRouteDocumentation(t *testing.T) {
	out, err := execute(t, "--task", "Fix typo in README", "--root", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "docs-update")
	assert.Contains(t, out, "technical-writer")
}

func TestRouteBlockedExitsWithFailure(t *testing.T) {
	out, err := execute(t, "--task", "Implement OAuth authentication with JWT", "--root", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, shared.ExitFailure, shared.CodeFor(err))
	assert.Contains(t, out, "blocked")
}
