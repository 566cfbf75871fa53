package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/swiglu/internal/engine"
)

func runMain(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), &stdout, &stderr, args)
	assert.False(t, engine.Initialized(), "engine left initialized")
	return stdout.String(), stderr.String(), code
}

func TestRunTutorial(t *testing.T) {
	stdout, stderr, code := runMain(t)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "Output: [24.203243, 52.594986]\n", stdout)
	assert.Empty(t, stderr)
}

func TestRunBatch(t *testing.T) {
	stdout, _, code := runMain(t, "-batch", "2", "-threads", "2", "-weights-cache")
	require.Equal(t, 0, code)
	assert.Equal(t, "Output: [24.203243, 52.594986, 24.203243, 52.594986]\n", stdout)
}

func TestRunConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
input = [1, 2, 3]

runtime {
  output_min = 0
  output_max = 30
  profile    = true
}
`), 0o600))

	stdout, stderr, code := runMain(t, "-config", path)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "Output: [24.203243, 30.000000]\n", stdout)
}

func TestRunSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	weights := filepath.Join(dir, "w.safetensors")
	graph := filepath.Join(dir, "graph.pb")

	first, stderr, code := runMain(t, "-weights", "independent", "-save-weights", weights, "-save-graph", graph)
	require.Equal(t, 0, code, stderr)

	second, stderr, code := runMain(t, "-weights", weights)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, first, second)

	snapshot, err := os.ReadFile(graph)
	require.NoError(t, err)
	assert.NotEmpty(t, snapshot)
}

func TestRunFailures(t *testing.T) {
	dir := t.TempDir()
	tight := filepath.Join(dir, "tight.hcl")
	require.NoError(t, os.WriteFile(tight, []byte("runtime {\n max_workspace_bytes = 128\n}\n"), 0o600))

	tests := []struct {
		name   string
		args   []string
		code   int
		stderr string
	}{
		{"usage", []string{"-batch", "x"}, 2, "invalid value"},
		{"missing config", []string{"-config", filepath.Join(dir, "none.hcl")}, 1, "load_config failed: "},
		{"missing weights", []string{"-weights", filepath.Join(dir, "none.safetensors")}, 1, "load_weights failed: "},
		{"workspace limit", []string{"-config", tight}, 1, "reshape_runtime failed: out of memory\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, code := runMain(t, tt.args...)
			assert.Equal(t, tt.code, code)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, tt.stderr)
		})
	}
}

func TestRunVersion(t *testing.T) {
	stdout, _, code := runMain(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "swiglu "+version+"\n", stdout)
}

func TestFormatOutput(t *testing.T) {
	assert.Equal(t, "Output: []", formatOutput(nil))
	assert.Equal(t, "Output: [1.000000, -0.500000]", formatOutput([]float32{1, -0.5}))
}
