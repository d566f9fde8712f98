package jq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	e := NewExecutor(0, 0)
	ctx := context.Background()

	tests := []struct {
		name       string
		expression string
		data       any
		want       any
	}{
		{
			name:       "empty expression returns data",
			expression: "",
			data:       map[string]any{"a": 1},
			want:       map[string]any{"a": 1},
		},
		{
			name:       "field access",
			expression: ".status",
			data:       map[string]any{"status": "completed"},
			want:       "completed",
		},
		{
			name:       "multiple outputs become an array",
			expression: ".items[]",
			data:       map[string]any{"items": []any{"a", "b"}},
			want:       []any{"a", "b"},
		},
		{
			name:       "no output is nil",
			expression: ".missing // empty",
			data:       map[string]any{},
			want:       nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Execute(ctx, tt.expression, tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecuteParseError(t *testing.T) {
	e := NewExecutor(0, 0)
	_, err := e.Execute(context.Background(), ".[unclosed", nil)
	assert.Error(t, err)
}

func TestExecuteInputSizeLimit(t *testing.T) {
	e := NewExecutor(0, 16)
	_, err := e.Execute(context.Background(), ".", map[string]any{"key": "a value larger than the limit"})
	assert.ErrorContains(t, err, "exceeds maximum")
}

func TestFilterHandlesStructs(t *testing.T) {
	e := NewExecutor(0, 0)

	type report struct {
		Status string  `json:"status"`
		Score  float64 `json:"score"`
	}
	got, err := e.Filter(context.Background(), ".score", report{Status: "healthy", Score: 92.5})
	require.NoError(t, err)
	assert.Equal(t, 92.5, got)
}

func TestValidate(t *testing.T) {
	e := NewExecutor(time.Second, 0)

	assert.NoError(t, e.Validate(""))
	assert.NoError(t, e.Validate(".runs[] | select(.status == \"failed\")"))
	assert.Error(t, e.Validate(".[unclosed"))
}
