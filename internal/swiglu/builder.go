package swiglu

import (
	"math"

	"github.com/born-ml/swiglu/internal/engine"
	"github.com/born-ml/swiglu/internal/tensor"
)

// External value ids of the block's ports.
const (
	InputID  uint32 = 0
	OutputID uint32 = 1

	numExternalValues = 2
)

// Builder defines a subgraph one call at a time. The first failing call is
// recorded and every later call becomes a no-op returning engine.InvalidValueID.
type Builder struct {
	sg  *engine.Subgraph
	err error
}

// NewBuilder creates a subgraph with numExternal external value ids.
func NewBuilder(numExternal uint32) *Builder {
	sg, err := engine.CreateSubgraph(numExternal, 0)
	return &Builder{sg: sg, err: err}
}

// Err returns the first error recorded by the builder.
func (b *Builder) Err() error {
	return b.err
}

func (b *Builder) value(dims []int, data []float32, externalID uint32, flags engine.ValueFlags) uint32 {
	if b.err != nil {
		return engine.InvalidValueID
	}
	id, err := b.sg.DefineTensorValue(tensor.Float32, dims, data, externalID, flags)
	if err != nil {
		b.err = err
		return engine.InvalidValueID
	}
	return id
}

// Input defines an external input tensor.
func (b *Builder) Input(externalID uint32, dims ...int) uint32 {
	return b.value(dims, nil, externalID, engine.ValueFlagExternalInput)
}

// Output defines an external output tensor.
func (b *Builder) Output(externalID uint32, dims ...int) uint32 {
	return b.value(dims, nil, externalID, engine.ValueFlagExternalOutput)
}

// Constant defines a static tensor. The engine keeps a reference to data.
func (b *Builder) Constant(data []float32, dims ...int) uint32 {
	return b.value(dims, data, engine.InvalidValueID, 0)
}

// Intermediate defines a tensor produced and consumed inside the graph.
func (b *Builder) Intermediate(dims ...int) uint32 {
	return b.value(dims, nil, engine.InvalidValueID, 0)
}

// FullyConnected computes output = input @ filter^T with the result clamped to r.
func (b *Builder) FullyConnected(r Range, input, filter, output uint32) {
	if b.err != nil {
		return
	}
	b.err = b.sg.DefineFullyConnected(r.Min, r.Max, input, filter, engine.InvalidValueID, output, 0)
}

// Sigmoid computes output = 1 / (1 + exp(-input)).
func (b *Builder) Sigmoid(input, output uint32) {
	if b.err != nil {
		return
	}
	b.err = b.sg.DefineUnary(engine.UnarySigmoid, nil, input, output, 0)
}

// Multiply computes the broadcasting product of a and b, clamped to r.
func (b *Builder) Multiply(r Range, x, y, output uint32) {
	if b.err != nil {
		return
	}
	b.err = b.sg.DefineMultiply2(r.Min, r.Max, x, y, output, 0)
}

// Build returns the subgraph, or deletes it and returns the first error.
func (b *Builder) Build() (*engine.Subgraph, error) {
	if b.err != nil {
		if b.sg != nil {
			_ = b.sg.Delete()
		}
		return nil, b.err
	}
	return b.sg, nil
}

// Range bounds an operator's output.
type Range struct {
	Min, Max float32
}

// Unbounded is the range that leaves outputs unchanged.
func Unbounded() Range {
	return Range{Min: float32(math.Inf(-1)), Max: float32(math.Inf(1))}
}

// BuildGraph defines the SwiGLU dataflow for a batch of one row:
//
//	gate   = fc(x, W1)
//	up     = fc(x, W3)
//	sig    = sigmoid(gate)
//	silu   = gate * sig
//	fused  = silu * up
//	y      = fc(fused, W2), clamped to out
//
// Intermediate operators are unbounded. The weights are referenced, not copied.
func BuildGraph(d Dims, w Weights, out Range) (*engine.Subgraph, error) {
	if err := w.Validate(d); err != nil {
		return nil, err
	}
	all := Unbounded()

	b := NewBuilder(numExternalValues)
	x := b.Input(InputID, 1, d.Input)
	y := b.Output(OutputID, 1, d.Output)

	w1 := b.Constant(w.W1, d.Inter, d.Input)
	w3 := b.Constant(w.W3, d.Inter, d.Input)
	w2 := b.Constant(w.W2, d.Output, d.Inter)

	gate := b.Intermediate(1, d.Inter)
	up := b.Intermediate(1, d.Inter)
	sig := b.Intermediate(1, d.Inter)
	silu := b.Intermediate(1, d.Inter)
	fused := b.Intermediate(1, d.Inter)

	b.FullyConnected(all, x, w1, gate)
	b.FullyConnected(all, x, w3, up)
	b.Sigmoid(gate, sig)
	b.Multiply(all, gate, sig, silu)
	b.Multiply(all, silu, up, fused)
	b.FullyConnected(out, fused, w2, y)

	return b.Build()
}
