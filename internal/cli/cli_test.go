package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/swiglu/internal/config"
	"github.com/born-ml/swiglu/internal/engine"
)

func TestParseDefaults(t *testing.T) {
	var out bytes.Buffer
	f, exit, err := Parse(nil, &out)
	require.NoError(t, err)
	assert.False(t, exit)
	assert.False(t, f.Version)

	cfg := config.Default()
	f.Apply(cfg)
	assert.Equal(t, config.Default(), cfg, "no flags, no overrides")
}

func TestParseOverrides(t *testing.T) {
	f, exit, err := Parse([]string{
		"-config", "run.hcl",
		"-weights", "gs://bucket/w.safetensors",
		"-batch", "4",
		"-threads", "2",
		"-weights-cache",
		"-profile=false",
		"-save-graph", "graph.pb",
	}, &bytes.Buffer{})
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, "run.hcl", f.Config)
	assert.Equal(t, "graph.pb", f.SaveGraph)

	cfg := config.Default()
	cfg.Profile = true
	f.Apply(cfg)
	assert.Equal(t, "gs://bucket/w.safetensors", cfg.Weights)
	assert.Equal(t, 4, cfg.Batch)
	assert.Equal(t, 2, cfg.Threads)
	assert.True(t, cfg.WeightsCache)
	assert.False(t, cfg.Profile, "explicit false overrides the config")
}

func TestParseVersionAndHelp(t *testing.T) {
	f, exit, err := Parse([]string{"version"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.False(t, exit)
	assert.True(t, f.Version)

	var out bytes.Buffer
	_, exit, err = Parse([]string{"-h"}, &out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Contains(t, out.String(), "Usage:")
	assert.Contains(t, out.String(), "-weights-cache")
}

func TestParseUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"-batch", "0"},
		{"-batch", "two"},
		{"-threads", "-3"},
		{"-nope"},
		{"run"},
	} {
		t.Run(fmt.Sprint(args), func(t *testing.T) {
			_, _, err := Parse(args, &bytes.Buffer{})
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, ExitUsage, exitErr.Code)
		})
	}
}

func TestFail(t *testing.T) {
	err := fmt.Errorf("running: %w", &engine.Error{Op: "setup_runtime", Status: engine.InvalidParameter, Detail: "external id 0 has no buffer"})
	exitErr := Fail("run", err)
	assert.Equal(t, ExitFailure, exitErr.Code)
	assert.Equal(t, "setup_runtime failed: invalid parameter", exitErr.Message)

	exitErr = Fail("load_config", errors.New("boom"))
	assert.Equal(t, "load_config failed: boom", exitErr.Error())
}
