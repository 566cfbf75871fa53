package engine

import (
	"fmt"
	"sort"

	"github.com/born-ml/swiglu/internal/backend/cpu"
	"github.com/born-ml/swiglu/internal/tensor"
)

// operand is a buffer paired with its current shape.
type operand struct {
	data  []float32
	shape tensor.Shape
}

// shapeFunc infers the output shape of a step from its input shapes.
type shapeFunc func(s *step, inputs []tensor.Shape) (tensor.Shape, error)

// kernelFunc executes a step.
type kernelFunc func(backend *cpu.CPUBackend, s *step, inputs []operand, output operand) error

// operator describes how the runtime plans and executes one operator type.
type operator struct {
	Name       string
	InferShape shapeFunc
	Kernel     kernelFunc
}

// registry maps operator types to their shape inference and kernel.
type registry struct {
	ops map[OpType]operator
}

// operators is the registry consulted by CreateRuntime.
var operators = newRegistry()

func newRegistry() *registry {
	r := &registry{ops: make(map[OpType]operator)}

	r.register(OpFullyConnected, operator{
		Name:       "fully_connected",
		InferShape: inferFullyConnected,
		Kernel:     runFullyConnected,
	})
	r.register(OpSigmoid, operator{
		Name:       "sigmoid",
		InferShape: inferUnary,
		Kernel: func(b *cpu.CPUBackend, s *step, in []operand, out operand) error {
			return b.Sigmoid(out.data, in[0].data, s.node.bounds)
		},
	})
	r.register(OpClamp, operator{
		Name:       "clamp",
		InferShape: inferUnary,
		Kernel: func(b *cpu.CPUBackend, s *step, in []operand, out operand) error {
			return b.Clamp(out.data, in[0].data, s.node.bounds)
		},
	})
	r.register(OpMultiply, operator{
		Name:       "multiply",
		InferShape: inferBroadcast,
		Kernel: func(b *cpu.CPUBackend, s *step, in []operand, out operand) error {
			return b.Multiply(out.data, in[0].data, in[1].data, out.shape, in[0].shape, in[1].shape, s.node.bounds)
		},
	})

	return r
}

func (r *registry) register(op OpType, o operator) {
	r.ops[op] = o
}

func (r *registry) Get(op OpType) (operator, bool) {
	o, ok := r.ops[op]
	return o, ok
}

// SupportedOperators returns the names of all operators the runtime can execute.
func SupportedOperators() []string {
	names := make([]string, 0, len(operators.ops))
	for _, o := range operators.ops {
		names = append(names, o.Name)
	}
	sort.Strings(names)
	return names
}

func inferFullyConnected(s *step, inputs []tensor.Shape) (tensor.Shape, error) {
	x := inputs[0]
	if len(x) == 0 || x.Last() != s.in {
		return nil, fmt.Errorf("input shape %v does not match filter input channels %d", x, s.in)
	}
	return x.WithLast(s.out), nil
}

func inferUnary(_ *step, inputs []tensor.Shape) (tensor.Shape, error) {
	return inputs[0].Clone(), nil
}

func inferBroadcast(_ *step, inputs []tensor.Shape) (tensor.Shape, error) {
	shape, _, err := tensor.BroadcastShapes(inputs[0], inputs[1])
	return shape, err
}

func runFullyConnected(b *cpu.CPUBackend, s *step, in []operand, out operand) error {
	rows := in[0].shape.Batch()
	return b.FullyConnected(out.data, in[0].data, s.packed, in[2].data, rows, s.in, s.out, s.node.bounds)
}
