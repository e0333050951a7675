package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/modelsearch/internal/config"
	"github.com/psantana5/modelsearch/pkg/models"
)

func newSubmitCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := &cobra.Command{Use: "submit"}
	addSubmitFlags(c)
	require.NoError(t, c.Flags().Parse(args))
	return c
}

func TestBuildJobRequestOnlyPinsChangedFlags(t *testing.T) {
	c := newSubmitCmd(t, "--dataset", "/data/flowers", "--epochs", "3", "--optimizer", "sgd")

	req, err := buildJobRequest(c)
	require.NoError(t, err)

	assert.Equal(t, "/data/flowers", req.Dataset.Path)
	assert.Equal(t, "vision", req.Dataset.Domain)
	require.NotNil(t, req.Overrides.Epochs)
	assert.Equal(t, 3, *req.Overrides.Epochs)
	require.NotNil(t, req.Overrides.Optimizer)
	assert.Equal(t, models.OptimizerSGD, *req.Overrides.Optimizer)
	assert.Nil(t, req.Overrides.LearningRate)
	assert.Nil(t, req.Overrides.BatchSize)
	assert.Nil(t, req.Overrides.DropoutRate)
}

func TestBuildJobRequestRejectsUnknownOptimizer(t *testing.T) {
	c := newSubmitCmd(t, "--dataset", "/d", "--optimizer", "Lion")

	_, err := buildJobRequest(c)
	assert.Error(t, err)
}

func TestWriteStructured(t *testing.T) {
	defer func(old string) { outputFormat = old }(outputFormat)

	v := map[string]int{"count": 2}
	tests := []struct {
		format string
		done   bool
		want   string
	}{
		{"json", true, `"count": 2`},
		{"yaml", true, "count: 2"},
		{"table", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			outputFormat = tt.format
			var buf bytes.Buffer
			done, err := writeStructured(&buf, v)
			require.NoError(t, err)
			assert.Equal(t, tt.done, done)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestDisplayJobTable(t *testing.T) {
	defer func(old string) { outputFormat = old }(outputFormat)
	outputFormat = "table"

	job := &models.Job{
		ID:               "job-1",
		Status:           models.JobStatusRunning,
		Progress:         40,
		CurrentIteration: 4,
		TotalIterations:  10,
		BestAccuracy:     models.Float64(0.8125),
		Config: map[string]interface{}{
			"elapsed_time":        "2m 0s",
			"estimated_remaining": "3m 0s",
			"trials": []interface{}{
				map[string]interface{}{"iteration": 1.0, "success": false, "error": "bad shape"},
				map[string]interface{}{"iteration": 2.0, "success": true},
			},
		},
	}
	var buf bytes.Buffer
	require.NoError(t, displayJob(&buf, job))

	out := buf.String()
	for _, want := range []string{"job-1", "4/10", "81.25%", "2m 0s", "3m 0s", "2 (1 succeeded)"} {
		assert.True(t, strings.Contains(out, want), "missing %q in\n%s", want, out)
	}
}

func TestWorkerCommandFunc(t *testing.T) {
	fn, err := workerCommandFunc(config.PoolConfig{WorkerCommand: []string{"/usr/bin/msearch", "worker", "run"}})
	require.NoError(t, err)

	c1 := fn("a")
	c2 := fn("b")
	assert.Equal(t, []string{"/usr/bin/msearch", "worker", "run", "--job-id", "a"}, c1.Args)
	assert.Equal(t, []string{"/usr/bin/msearch", "worker", "run", "--job-id", "b"}, c2.Args)
}

func TestBuildKeyRegistry(t *testing.T) {
	keys, err := buildKeyRegistry(config.ServerConfig{APIKeys: []string{"alpha-key"}})
	require.NoError(t, err)
	assert.True(t, keys.Enabled())

	name, err := keys.Verify("alpha-key")
	require.NoError(t, err)
	assert.Equal(t, "key-1", name)

	empty, err := buildKeyRegistry(config.ServerConfig{})
	require.NoError(t, err)
	assert.False(t, empty.Enabled())
}
