package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/swiglu/internal/swiglu"
)

func parse(t *testing.T, src string) (*Config, error) {
	t.Helper()
	return Parse(context.Background(), []byte(src), "test.hcl")
}

func TestParseEmptyIsDefault(t *testing.T) {
	cfg, err := parse(t, "")
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFull(t *testing.T) {
	cfg, err := parse(t, `
dims {
  input  = 4
  inter  = 8
  output = 3
}

weights = "independent"
batch   = 2
input   = [for i in range(batch * dims.input) : i / 2]

runtime {
  threads             = 4
  weights_cache       = true
  profile             = true
  output_min          = -10
  output_max          = 10.5
  max_workspace_bytes = 4096
}
`)
	require.NoError(t, err)

	want := &Config{
		Dims:              swiglu.Dims{Input: 4, Inter: 8, Output: 3},
		Weights:           WeightsIndependent,
		Batch:             2,
		Input:             []float32{0, 0.5, 1, 1.5, 2, 2.5, 3, 3.5},
		Threads:           4,
		WeightsCache:      true,
		Profile:           true,
		OutputMin:         -10,
		OutputMax:         10.5,
		MaxWorkspaceBytes: 4096,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestParseInputFunctions(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []float32
	}{
		{"default follows dims", "dims {\n input = 5\n inter = 2\n output = 1\n}", []float32{1, 2, 3, 4, 5}},
		{"range", "input = range(1, dims.input + 1)", []float32{1, 2, 3}},
		{"min and max", "input = [min(4, 2), max(-1, 7), 3]", []float32{2, 7, 3}},
		{"literal", "input = [0.25, -1, 2]", []float32{0.25, -1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parse(t, tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Input)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		invalid bool
		msg     string
	}{
		{name: "syntax", src: "dims {", msg: "failed to parse"},
		{name: "unknown attribute", src: "color = 1", msg: "failed to decode"},
		{name: "missing dim", src: "dims {\n input = 3\n}", msg: "failed to decode"},
		{name: "bad input type", src: `input = "abc"`, invalid: true},
		{name: "input length", src: "input = [1, 2]", invalid: true},
		{name: "zero batch", src: "batch = 0", invalid: true},
		{name: "negative threads", src: "runtime {\n threads = -1\n}", invalid: true},
		{name: "unknown function", src: "input = upper(1)", msg: "evaluating input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.src)
			require.Error(t, err)
			if tt.invalid {
				assert.ErrorIs(t, err, ErrInvalid)
			}
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	_, err := parse(t, "dims {\n input = 0\n inter = 1\n output = 1\n}")
	assert.ErrorIs(t, err, swiglu.ErrDims)
}

func TestRows(t *testing.T) {
	cfg := Default()
	cfg.Batch = 3
	assert.Equal(t, []float32{1, 2, 3, 1, 2, 3, 1, 2, 3}, cfg.Rows())

	cfg.Batch = 2
	cfg.Input = []float32{1, 2, 3, 4, 5, 6}
	rows := cfg.Rows()
	assert.Equal(t, cfg.Input, rows)
	rows[0] = 9
	assert.Equal(t, float32(1), cfg.Input[0], "rows are a copy")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.hcl")
	require.NoError(t, os.WriteFile(path, []byte("batch = 4\nruntime {\n weights_cache = true\n}\n"), 0o600))

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Batch)
	assert.True(t, cfg.WeightsCache)
	assert.Equal(t, swiglu.Options{WeightsCache: true}, cfg.Options())

	_, err = Load(context.Background(), filepath.Join(t.TempDir(), "missing.hcl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadWeights(t *testing.T) {
	ctx := context.Background()
	cfg := Default()

	w, err := cfg.LoadWeights(ctx)
	require.NoError(t, err)
	assert.Equal(t, swiglu.TutorialWeights(cfg.Dims), w)

	cfg.Weights = WeightsIndependent
	w, err = cfg.LoadWeights(ctx)
	require.NoError(t, err)
	assert.Equal(t, swiglu.IndependentWeights(cfg.Dims), w)

	path := filepath.Join(t.TempDir(), "w.safetensors")
	require.NoError(t, swiglu.SaveWeights(ctx, path, cfg.Dims, w))
	cfg.Weights = path
	loaded, err := cfg.LoadWeights(ctx)
	require.NoError(t, err)
	assert.Equal(t, w, loaded)
}
