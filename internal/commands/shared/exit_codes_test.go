package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"

	pkgerrors "github.com/tombee/maestro/pkg/errors"
)

func TestCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"explicit failure", NewFailureError("run stalled", nil), ExitFailure},
		{"explicit fatal", NewFatalError("bad input", nil), ExitFatal},
		{"validation is fatal", &pkgerrors.ValidationError{Field: "task", Message: "empty"}, ExitFatal},
		{"not found is fatal", &pkgerrors.NotFoundError{Resource: "run", ID: "x"}, ExitFatal},
		{"corrupt is fatal", &pkgerrors.CorruptError{Path: "run.json"}, ExitFatal},
		{"other errors are failures", assert.AnError, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeFor(tt.err))
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	err := NewFatalError("read run", assert.AnError)
	assert.Contains(t, err.Error(), "read run")
	assert.ErrorIs(t, err, assert.AnError)
}
