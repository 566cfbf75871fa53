package engine

import (
	"math"
	"sync"

	"k8s.io/klog/v2"

	"github.com/born-ml/swiglu/internal/backend/cpu"
	"github.com/born-ml/swiglu/internal/tensor"
)

// InvalidValueID marks an absent value, e.g. a missing bias or a non-external tensor.
const InvalidValueID uint32 = math.MaxUint32

// ValueFlags describe the role of a tensor value.
type ValueFlags uint32

// Value flags.
const (
	ValueFlagExternalInput ValueFlags = 1 << iota
	ValueFlagExternalOutput
)

const valueFlagsMask = ValueFlagExternalInput | ValueFlagExternalOutput

// Node flags.
const (
	// FlagTransposeWeights marks a fully-connected filter stored as [in, out].
	FlagTransposeWeights uint32 = 1 << iota
)

// OpType identifies an operator node.
type OpType int

// Operator types.
const (
	OpFullyConnected OpType = iota + 1
	OpSigmoid
	OpClamp
	OpMultiply
)

// String returns the operator name.
func (o OpType) String() string {
	if entry, ok := operators.Get(o); ok {
		return entry.Name
	}
	return "unknown"
}

// UnaryOperator selects the element-wise function of DefineUnary.
type UnaryOperator int

// Unary operators.
const (
	UnarySigmoid UnaryOperator = iota + 1
	UnaryClamp
)

// UnaryParams carries operator parameters for DefineUnary.
type UnaryParams struct {
	Min float32 // Clamp lower bound.
	Max float32 // Clamp upper bound.
}

type value struct {
	id         uint32
	dtype      tensor.DataType
	shape      tensor.Shape
	data       []float32 // Static data, nil for activations.
	externalID uint32
	flags      ValueFlags
	producer   int // Index of the producing node, -1 if none.
}

func (v *value) isStatic() bool {
	return v.data != nil
}

func (v *value) isExternal() bool {
	return v.externalID != InvalidValueID
}

func (v *value) isExternalInput() bool {
	return v.flags&ValueFlagExternalInput != 0
}

func (v *value) isExternalOutput() bool {
	return v.flags&ValueFlagExternalOutput != 0
}

type node struct {
	op     OpType
	inputs []uint32 // Fully connected: input, filter, bias (InvalidValueID if absent).
	output uint32
	bounds cpu.Bounds
	flags  uint32
}

// Subgraph is a graph of tensor values and operator nodes under construction.
//
// External values take the value id equal to their external id; internal values
// are numbered after the external range in definition order.
type Subgraph struct {
	mu          sync.Mutex
	numExternal uint32
	flags       uint32
	values      []*value
	nodes       []*node
	runtimes    int  // Live runtimes created from this subgraph.
	frozen      bool // Set once a runtime has been created.
	deleted     bool
}

// CreateSubgraph creates an empty subgraph reserving externalValueIDs external ids.
func CreateSubgraph(externalValueIDs uint32, flags uint32) (*Subgraph, error) {
	const op = "create_subgraph"
	if err := checkInitialized(op); err != nil {
		return nil, err
	}
	if externalValueIDs == InvalidValueID {
		return nil, newError(op, InvalidParameter, "too many external values")
	}
	if flags != 0 {
		return nil, newError(op, UnsupportedParameter, "unsupported flags 0x%x", flags)
	}

	sg := &Subgraph{
		numExternal: externalValueIDs,
		flags:       flags,
		values:      make([]*value, externalValueIDs),
	}
	track(func(l *ObjectCounts) { l.Subgraphs++ })
	klog.V(3).InfoS("Created subgraph", "externalValues", externalValueIDs)
	return sg, nil
}

// NumExternalValues returns the size of the external id range.
func (sg *Subgraph) NumExternalValues() uint32 {
	return sg.numExternal
}

// NumValues returns the number of defined values.
func (sg *Subgraph) NumValues() int {
	sg.mu.Lock()
	defer sg.mu.Unlock()

	n := 0
	for _, v := range sg.values {
		if v != nil {
			n++
		}
	}
	return n
}

// NumNodes returns the number of defined operator nodes.
func (sg *Subgraph) NumNodes() int {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	return len(sg.nodes)
}

// checkMutable must be called with sg.mu held.
func (sg *Subgraph) checkMutable(op string) error {
	if err := checkInitialized(op); err != nil {
		return err
	}
	if sg.deleted {
		return newError(op, InvalidState, "subgraph was deleted")
	}
	if sg.frozen {
		return newError(op, InvalidState, "subgraph is frozen by a runtime")
	}
	return nil
}

// DefineTensorValue adds a dense tensor value and returns its id.
//
// data is nil for activations and external values. Static data is referenced, not
// copied, and must stay unchanged for the lifetime of the subgraph and its runtimes.
func (sg *Subgraph) DefineTensorValue(dtype tensor.DataType, dims []int, data []float32, externalID uint32, flags ValueFlags) (uint32, error) {
	const op = "define_tensor_value"

	sg.mu.Lock()
	defer sg.mu.Unlock()

	if err := sg.checkMutable(op); err != nil {
		return InvalidValueID, err
	}
	if dtype != tensor.Float32 {
		return InvalidValueID, newError(op, UnsupportedParameter, "unsupported data type %s", dtype)
	}

	shape := tensor.Shape(dims).Clone()
	if err := shape.Validate(); err != nil {
		return InvalidValueID, newError(op, InvalidParameter, "%v", err)
	}
	if flags&^valueFlagsMask != 0 {
		return InvalidValueID, newError(op, InvalidParameter, "unknown value flags 0x%x", uint32(flags))
	}
	if flags&ValueFlagExternalInput != 0 && flags&ValueFlagExternalOutput != 0 {
		return InvalidValueID, newError(op, InvalidParameter, "value cannot be both external input and external output")
	}
	if flags != 0 && externalID == InvalidValueID {
		return InvalidValueID, newError(op, InvalidParameter, "external flags require an external id")
	}
	if data != nil {
		if flags != 0 {
			return InvalidValueID, newError(op, InvalidParameter, "external values cannot carry static data")
		}
		if len(data) != shape.NumElements() {
			return InvalidValueID, newError(op, InvalidParameter,
				"static data has %d elements, shape %v needs %d", len(data), shape, shape.NumElements())
		}
	}

	v := &value{
		dtype:      dtype,
		shape:      shape,
		data:       data,
		externalID: externalID,
		flags:      flags,
		producer:   -1,
	}

	if externalID != InvalidValueID {
		if externalID >= sg.numExternal {
			return InvalidValueID, newError(op, InvalidParameter,
				"external id %d out of range [0, %d)", externalID, sg.numExternal)
		}
		if sg.values[externalID] != nil {
			return InvalidValueID, newError(op, InvalidParameter, "external id %d already defined", externalID)
		}
		v.id = externalID
		sg.values[externalID] = v
		return v.id, nil
	}

	if uint64(len(sg.values)) >= uint64(InvalidValueID) {
		return InvalidValueID, newError(op, OutOfMemory, "value table is full")
	}
	v.id = uint32(len(sg.values))
	sg.values = append(sg.values, v)
	return v.id, nil
}

// DefineFullyConnected adds output = input x filter^T + bias.
//
// filter is a static [out, in] tensor, or [in, out] with FlagTransposeWeights.
// biasID is InvalidValueID or a static [out] tensor. The last dimension of input
// must equal the filter's input channels.
func (sg *Subgraph) DefineFullyConnected(outMin, outMax float32, inputID, filterID, biasID, outputID uint32, flags uint32) error {
	const op = "define_fully_connected"

	sg.mu.Lock()
	defer sg.mu.Unlock()

	if err := sg.checkMutable(op); err != nil {
		return err
	}
	if flags&^FlagTransposeWeights != 0 {
		return newError(op, InvalidParameter, "unknown flags 0x%x", flags)
	}
	if err := checkBounds(op, outMin, outMax); err != nil {
		return err
	}

	input, err := sg.lookup(op, "input", inputID)
	if err != nil {
		return err
	}
	filter, err := sg.lookup(op, "filter", filterID)
	if err != nil {
		return err
	}
	if !filter.isStatic() || len(filter.shape) != 2 {
		return newError(op, InvalidParameter, "filter %d must be a static 2-D tensor, got %v", filterID, filter.shape)
	}

	out, in := filter.shape[0], filter.shape[1]
	if flags&FlagTransposeWeights != 0 {
		in, out = out, in
	}

	if biasID != InvalidValueID {
		bias, err := sg.lookup(op, "bias", biasID)
		if err != nil {
			return err
		}
		if !bias.isStatic() || !bias.shape.Equal(tensor.Shape{out}) {
			return newError(op, InvalidParameter, "bias %d must be a static [%d] tensor, got %v", biasID, out, bias.shape)
		}
	}

	if len(input.shape) == 0 || input.shape.Last() != in {
		return newError(op, InvalidParameter,
			"input %d shape %v does not match filter input channels %d", inputID, input.shape, in)
	}

	output, err := sg.lookupOutput(op, outputID)
	if err != nil {
		return err
	}
	if len(output.shape) == 0 || output.shape.Last() != out {
		return newError(op, InvalidParameter,
			"output %d shape %v does not match filter output channels %d", outputID, output.shape, out)
	}

	sg.addNode(&node{
		op:     OpFullyConnected,
		inputs: []uint32{inputID, filterID, biasID},
		output: outputID,
		bounds: cpu.Bounds{Min: outMin, Max: outMax},
		flags:  flags,
	})
	return nil
}

// DefineUnary adds an element-wise unary operator. UnaryClamp requires params.
func (sg *Subgraph) DefineUnary(unary UnaryOperator, params *UnaryParams, inputID, outputID uint32, flags uint32) error {
	const op = "define_unary"

	sg.mu.Lock()
	defer sg.mu.Unlock()

	if err := sg.checkMutable(op); err != nil {
		return err
	}
	if flags != 0 {
		return newError(op, InvalidParameter, "unknown flags 0x%x", flags)
	}

	var (
		opType OpType
		bounds = cpu.Unbounded()
	)
	switch unary {
	case UnarySigmoid:
		opType = OpSigmoid
	case UnaryClamp:
		if params == nil {
			return newError(op, InvalidParameter, "clamp requires parameters")
		}
		if err := checkBounds(op, params.Min, params.Max); err != nil {
			return err
		}
		opType = OpClamp
		bounds = cpu.Bounds{Min: params.Min, Max: params.Max}
	default:
		return newError(op, UnsupportedParameter, "unsupported unary operator %d", int(unary))
	}

	input, err := sg.lookup(op, "input", inputID)
	if err != nil {
		return err
	}
	output, err := sg.lookupOutput(op, outputID)
	if err != nil {
		return err
	}
	if !output.shape.Equal(input.shape) {
		return newError(op, InvalidParameter, "output shape %v differs from input shape %v", output.shape, input.shape)
	}

	sg.addNode(&node{
		op:     opType,
		inputs: []uint32{inputID},
		output: outputID,
		bounds: bounds,
	})
	return nil
}

// DefineMultiply2 adds output = input1 * input2 with NumPy-style broadcasting.
func (sg *Subgraph) DefineMultiply2(outMin, outMax float32, input1ID, input2ID, outputID uint32, flags uint32) error {
	const op = "define_multiply2"

	sg.mu.Lock()
	defer sg.mu.Unlock()

	if err := sg.checkMutable(op); err != nil {
		return err
	}
	if flags != 0 {
		return newError(op, InvalidParameter, "unknown flags 0x%x", flags)
	}
	if err := checkBounds(op, outMin, outMax); err != nil {
		return err
	}

	a, err := sg.lookup(op, "first input", input1ID)
	if err != nil {
		return err
	}
	b, err := sg.lookup(op, "second input", input2ID)
	if err != nil {
		return err
	}
	shape, _, err := tensor.BroadcastShapes(a.shape, b.shape)
	if err != nil {
		return newError(op, InvalidParameter, "%v", err)
	}

	output, err := sg.lookupOutput(op, outputID)
	if err != nil {
		return err
	}
	if !output.shape.Equal(shape) {
		return newError(op, InvalidParameter, "output shape %v differs from broadcast shape %v", output.shape, shape)
	}

	sg.addNode(&node{
		op:     OpMultiply,
		inputs: []uint32{input1ID, input2ID},
		output: outputID,
		bounds: cpu.Bounds{Min: outMin, Max: outMax},
	})
	return nil
}

// Delete releases the subgraph. It fails while runtimes created from it are alive.
func (sg *Subgraph) Delete() error {
	const op = "delete_subgraph"
	if sg == nil {
		return nil
	}

	sg.mu.Lock()
	defer sg.mu.Unlock()

	if sg.deleted {
		return nil
	}
	if sg.runtimes > 0 {
		return newError(op, InvalidState, "%d runtimes still use the subgraph", sg.runtimes)
	}
	sg.deleted = true
	sg.values = nil
	sg.nodes = nil
	track(func(l *ObjectCounts) { l.Subgraphs-- })
	return nil
}

// lookup must be called with sg.mu held.
func (sg *Subgraph) lookup(op, role string, id uint32) (*value, error) {
	if id >= uint32(len(sg.values)) || sg.values[id] == nil {
		return nil, newError(op, InvalidParameter, "%s value %d is not defined", role, id)
	}
	return sg.values[id], nil
}

// lookupOutput must be called with sg.mu held.
func (sg *Subgraph) lookupOutput(op string, id uint32) (*value, error) {
	v, err := sg.lookup(op, "output", id)
	if err != nil {
		return nil, err
	}
	switch {
	case v.isStatic():
		return nil, newError(op, InvalidParameter, "output value %d is static", id)
	case v.isExternalInput():
		return nil, newError(op, InvalidParameter, "output value %d is an external input", id)
	case v.producer >= 0:
		return nil, newError(op, InvalidParameter, "output value %d is already produced by node %d", id, v.producer)
	}
	return v, nil
}

// addNode must be called with sg.mu held.
func (sg *Subgraph) addNode(n *node) {
	sg.values[n.output].producer = len(sg.nodes)
	sg.nodes = append(sg.nodes, n)
}

func checkBounds(op string, lo, hi float32) error {
	if math.IsNaN(float64(lo)) || math.IsNaN(float64(hi)) {
		return newError(op, InvalidParameter, "output range [%v, %v] contains NaN", lo, hi)
	}
	if lo >= hi {
		return newError(op, InvalidParameter, "output range [%v, %v] is empty", lo, hi)
	}
	return nil
}
