package workflow

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/maestro/pkg/executor"
)

func TestMetricsCountStepOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	f := newFixture(t, WithMetrics(metrics))
	f.createRun(t, "run-1")
	path := f.writeArtifact(t, "plan.json")
	f.adapter.execute = func(call int, req *executor.Request) *executor.Result {
		if call == 1 {
			return completedResult(path)
		}
		return &executor.Result{Status: executor.StatusFailed, Error: "broken"}
	}

	_, err := f.stepper.Step(context.Background(), "run-1", twoStepDefinition())
	require.NoError(t, err)
	_, err = f.stepper.Step(context.Background(), "run-1", twoStepDefinition())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.steps.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.steps.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.storeErrors))
}

func TestMetricsCountSkips(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	f := newFixture(t, WithMetrics(metrics))
	f.createRun(t, "run-1")
	def := &Definition{
		Name: "feature-development",
		Steps: []StepDefinition{
			{ID: "optional", Agent: "developer", Condition: "config.enabled"},
		},
		Config: map[string]any{"enabled": false},
	}

	_, err := f.stepper.Step(context.Background(), "run-1", def)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.steps.WithLabelValues("skipped")))
}
