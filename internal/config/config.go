package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
	"github.com/zclconf/go-cty/cty/gocty"
	"k8s.io/klog/v2"

	"github.com/born-ml/swiglu/internal/swiglu"
)

// Built-in weight sources.
const (
	WeightsTutorial    = "tutorial"
	WeightsIndependent = "independent"
)

// ErrInvalid is returned for configurations that parse but cannot run.
var ErrInvalid = errors.New("invalid configuration")

// Config is a resolved run configuration.
type Config struct {
	Dims    swiglu.Dims
	Weights string    // WeightsTutorial, WeightsIndependent or a weights URI.
	Batch   int       // Number of input rows.
	Input   []float32 // One row, or Batch rows, of Dims.Input values.

	Threads           int
	WeightsCache      bool
	Profile           bool
	OutputMin         float32
	OutputMax         float32
	MaxWorkspaceBytes int
}

// Default returns the tutorial configuration: dims 3/4/2, one row [1, 2, 3]
// and the tutorial weights.
func Default() *Config {
	return &Config{
		Dims:    swiglu.TutorialDims,
		Weights: WeightsTutorial,
		Batch:   1,
		Input:   []float32{1, 2, 3},
	}
}

type fileRoot struct {
	Dims    *dimsBlock     `hcl:"dims,block"`
	Runtime *runtimeBlock  `hcl:"runtime,block"`
	Weights *string        `hcl:"weights,optional"`
	Batch   *int           `hcl:"batch,optional"`
	Input   hcl.Expression `hcl:"input,optional"`
}

type dimsBlock struct {
	Input  int `hcl:"input"`
	Inter  int `hcl:"inter"`
	Output int `hcl:"output"`
}

type runtimeBlock struct {
	Threads           *int     `hcl:"threads,optional"`
	WeightsCache      *bool    `hcl:"weights_cache,optional"`
	Profile           *bool    `hcl:"profile,optional"`
	OutputMin         *float32 `hcl:"output_min,optional"`
	OutputMax         *float32 `hcl:"output_max,optional"`
	MaxWorkspaceBytes *int     `hcl:"max_workspace_bytes,optional"`
}

// Load reads and resolves the HCL file at path.
func Load(ctx context.Context, path string) (*Config, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(ctx, src, path)
}

// Parse resolves an HCL configuration. Values the source leaves out keep
// their Default.
func Parse(ctx context.Context, src []byte, filename string) (*Config, error) {
	log := klog.FromContext(ctx)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	cfg := Default()
	if root.Dims != nil {
		cfg.Dims = swiglu.Dims{Input: root.Dims.Input, Inter: root.Dims.Inter, Output: root.Dims.Output}
	}
	if root.Weights != nil {
		cfg.Weights = *root.Weights
	}
	if root.Batch != nil {
		cfg.Batch = *root.Batch
	}
	if rt := root.Runtime; rt != nil {
		setIf(&cfg.Threads, rt.Threads)
		setIf(&cfg.WeightsCache, rt.WeightsCache)
		setIf(&cfg.Profile, rt.Profile)
		setIf(&cfg.OutputMin, rt.OutputMin)
		setIf(&cfg.OutputMax, rt.OutputMax)
		setIf(&cfg.MaxWorkspaceBytes, rt.MaxWorkspaceBytes)
	}

	if err := cfg.Dims.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	input, err := evalInput(root.Input, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if input != nil {
		cfg.Input = input
	} else if root.Dims != nil {
		cfg.Input = defaultInput(cfg.Dims.Input)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	log.V(2).Info("Loaded config", "file", filename, "dims", cfg.Dims, "batch", cfg.Batch, "weights", cfg.Weights)
	return cfg, nil
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// defaultInput returns the row [1, 2, ..., n].
func defaultInput(n int) []float32 {
	row := make([]float32, n)
	for i := range row {
		row[i] = float32(i + 1)
	}
	return row
}

// evalInput evaluates the input expression. A missing input yields nil.
func evalInput(expr hcl.Expression, cfg *Config) ([]float32, error) {
	if expr == nil {
		return nil, nil
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"dims": cty.ObjectVal(map[string]cty.Value{
				"input":  cty.NumberIntVal(int64(cfg.Dims.Input)),
				"inter":  cty.NumberIntVal(int64(cfg.Dims.Inter)),
				"output": cty.NumberIntVal(int64(cfg.Dims.Output)),
			}),
			"batch": cty.NumberIntVal(int64(cfg.Batch)),
		},
		Functions: map[string]function.Function{
			"range": stdlib.RangeFunc,
			"min":   stdlib.MinFunc,
			"max":   stdlib.MaxFunc,
		},
	}

	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return nil, fmt.Errorf("evaluating input: %w", diags)
	}
	if val.IsNull() {
		return nil, nil
	}

	listType := cty.List(cty.Number)
	converted, err := convert.Convert(val, listType)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot convert input %s to %s: %v",
			ErrInvalid, val.Type().FriendlyName(), listType.FriendlyName(), err)
	}

	var input []float32
	if err := gocty.FromCtyValue(converted, &input); err != nil {
		return nil, fmt.Errorf("%w: input: %v", ErrInvalid, err)
	}
	return input, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if err := c.Dims.Validate(); err != nil {
		return err
	}
	if c.Batch <= 0 {
		return fmt.Errorf("%w: batch %d must be > 0", ErrInvalid, c.Batch)
	}
	if n := len(c.Input); n != c.Dims.Input && n != c.Batch*c.Dims.Input {
		return fmt.Errorf("%w: input has %d values, want %d or %d", ErrInvalid, n, c.Dims.Input, c.Batch*c.Dims.Input)
	}
	if c.Threads < 0 {
		return fmt.Errorf("%w: threads %d must be >= 0", ErrInvalid, c.Threads)
	}
	if c.MaxWorkspaceBytes < 0 {
		return fmt.Errorf("%w: max_workspace_bytes %d must be >= 0", ErrInvalid, c.MaxWorkspaceBytes)
	}
	if c.Weights == "" {
		return fmt.Errorf("%w: weights source is empty", ErrInvalid)
	}
	return nil
}

// Rows returns Batch rows of input, repeating a single row as needed.
func (c *Config) Rows() []float32 {
	if len(c.Input) == c.Batch*c.Dims.Input {
		return append([]float32(nil), c.Input...)
	}
	rows := make([]float32, 0, c.Batch*c.Dims.Input)
	for i := 0; i < c.Batch; i++ {
		rows = append(rows, c.Input...)
	}
	return rows
}

// Options returns the block options for the configuration.
func (c *Config) Options() swiglu.Options {
	return swiglu.Options{
		OutputMin:         c.OutputMin,
		OutputMax:         c.OutputMax,
		Threads:           c.Threads,
		WeightsCache:      c.WeightsCache,
		Profile:           c.Profile,
		MaxWorkspaceBytes: c.MaxWorkspaceBytes,
	}
}

// LoadWeights resolves the configured weight source.
func (c *Config) LoadWeights(ctx context.Context) (swiglu.Weights, error) {
	switch c.Weights {
	case WeightsTutorial:
		return swiglu.TutorialWeights(c.Dims), nil
	case WeightsIndependent:
		return swiglu.IndependentWeights(c.Dims), nil
	default:
		return swiglu.LoadWeights(ctx, c.Weights, c.Dims)
	}
}
