package engine

import (
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/born-ml/swiglu/internal/backend/cpu"
	"github.com/born-ml/swiglu/internal/parallel"
	"github.com/born-ml/swiglu/internal/tensor"
)

// RuntimeFlags configure CreateRuntime.
type RuntimeFlags uint32

// Runtime flags.
const (
	// FlagProfile records per-operator timings on every Invoke.
	FlagProfile RuntimeFlags = 1 << iota
)

// ExternalValue binds a caller-owned buffer to an external value id.
type ExternalValue struct {
	ID   uint32
	Data []float32
}

// OperatorProfile is the time the last Invoke spent in one operator.
type OperatorProfile struct {
	Name     string
	Op       OpType
	Duration time.Duration
}

// step is one node of the compiled plan.
type step struct {
	node   *node
	kernel operator
	in     int       // Fully connected input channels.
	out    int       // Fully connected output channels.
	packed []float32 // Fully connected filter in [out, in] layout.
}

type runtimeValue struct {
	def      *value
	shape    tensor.Shape
	expected tensor.Shape // Shape declared for an external output, nil if none.
	offset   int          // Workspace offset for intermediates.
	data     []float32    // Static data or the bound external buffer.
}

// intermediate reports whether the value lives in the workspace.
func (v *runtimeValue) intermediate() bool {
	return !v.def.isStatic() && !v.def.isExternal()
}

// Runtime is a compiled, executable plan for a subgraph.
type Runtime struct {
	mu          sync.Mutex
	sg          *Subgraph
	cache       *WeightsCache
	ws          *Workspace
	backend     *cpu.CPUBackend
	flags       RuntimeFlags
	numExternal uint32
	steps       []*step
	values      []*runtimeValue
	arenaSize   int
	reshaped    bool
	bound       bool // Setup succeeded after the last reshape.
	profile     []OperatorProfile
	deleted     bool
}

// CreateRuntime validates sg, fixes its execution order and packs its weights.
//
// cache may be nil to pack weights privately. pool may be nil to run single
// threaded. ws is required. On success the subgraph is frozen: further define
// calls fail and the subgraph cannot be deleted until the runtime is.
func CreateRuntime(sg *Subgraph, cache *WeightsCache, ws *Workspace, pool *parallel.Pool, flags RuntimeFlags) (*Runtime, error) {
	const op = "create_runtime"

	if err := checkInitialized(op); err != nil {
		return nil, err
	}
	if sg == nil {
		return nil, newError(op, InvalidParameter, "subgraph is nil")
	}
	if ws == nil {
		return nil, newError(op, InvalidParameter, "workspace is nil")
	}
	if flags&^FlagProfile != 0 {
		return nil, newError(op, InvalidParameter, "unknown flags 0x%x", uint32(flags))
	}

	sg.mu.Lock()
	defer sg.mu.Unlock()

	if sg.deleted {
		return nil, newError(op, InvalidState, "subgraph was deleted")
	}

	steps, err := sg.compile(op)
	if err != nil {
		return nil, err
	}

	if err := ws.acquire(op); err != nil {
		return nil, err
	}
	if cache != nil {
		if err := cache.acquire(op); err != nil {
			ws.drop()
			return nil, err
		}
	}

	for _, s := range steps {
		if s.node.op != OpFullyConnected {
			continue
		}
		filter := sg.values[s.node.inputs[1]]
		s.packed = packFilter(cache, filter.data, s.in, s.out, s.node.flags&FlagTransposeWeights != 0)
	}

	values := make([]*runtimeValue, len(sg.values))
	for i, v := range sg.values {
		if v == nil {
			continue
		}
		values[i] = &runtimeValue{
			def:   v,
			shape: v.shape.Clone(),
			data:  v.data,
		}
	}

	sg.frozen = true
	sg.runtimes++

	r := &Runtime{
		sg:          sg,
		cache:       cache,
		ws:          ws,
		backend:     cpu.New(pool),
		flags:       flags,
		numExternal: sg.numExternal,
		steps:       steps,
		values:      values,
	}
	track(func(l *ObjectCounts) { l.Runtimes++ })
	klog.V(2).InfoS("Created runtime", "nodes", len(steps), "values", len(values), "threads", r.backend.Threads())
	return r, nil
}

// Threads returns how many goroutines operators are split across.
func (r *Runtime) Threads() int {
	return r.backend.Threads()
}

// ReshapeExternalValue sets the shape of an external input, or declares the
// expected shape of an external output which Reshape then verifies.
func (r *Runtime) ReshapeExternalValue(id uint32, dims []int) error {
	const op = "reshape_external_value"

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return newError(op, InvalidState, "runtime was deleted")
	}
	if id >= r.numExternal {
		return newError(op, InvalidParameter, "external id %d out of range [0, %d)", id, r.numExternal)
	}
	shape := tensor.Shape(dims).Clone()
	if err := shape.Validate(); err != nil {
		return newError(op, InvalidParameter, "%v", err)
	}

	v := r.values[id]
	if v.def.producer >= 0 {
		v.expected = shape
	} else {
		v.shape = shape
	}
	r.reshaped = false
	r.bound = false
	return nil
}

// ExternalValueShape returns the current shape of an external value.
func (r *Runtime) ExternalValueShape(id uint32) (tensor.Shape, error) {
	const op = "get_external_value_shape"

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return nil, newError(op, InvalidState, "runtime was deleted")
	}
	if id >= r.numExternal {
		return nil, newError(op, InvalidParameter, "external id %d out of range [0, %d)", id, r.numExternal)
	}
	return r.values[id].shape.Clone(), nil
}

// Reshape propagates shapes through the plan and reserves workspace memory.
// Calling it again with unchanged shapes does not reallocate.
func (r *Runtime) Reshape() error {
	const op = "reshape_runtime"

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return newError(op, InvalidState, "runtime was deleted")
	}

	r.reshaped = false
	r.bound = false

	for i, s := range r.steps {
		shapes := make([]tensor.Shape, len(s.node.inputs))
		for j, id := range s.node.inputs {
			if id != InvalidValueID {
				shapes[j] = r.values[id].shape
			}
		}

		shape, err := s.kernel.InferShape(s, shapes)
		if err != nil {
			return newError(op, InvalidParameter, "node %d (%s): %v", i, s.kernel.Name, err)
		}

		out := r.values[s.node.output]
		if out.expected != nil && !out.expected.Equal(shape) {
			return newError(op, InvalidParameter,
				"external output %d: inferred shape %v, declared %v", s.node.output, shape, out.expected)
		}
		out.shape = shape
	}

	r.arenaSize = planMemory(r.steps, r.values)
	if err := r.ws.reserve(op, r.arenaSize); err != nil {
		return err
	}

	r.reshaped = true
	klog.V(3).InfoS("Reshaped runtime", "workspaceBytes", r.arenaSize*4)
	return nil
}

// Setup binds caller buffers to every external value. It must follow Reshape.
func (r *Runtime) Setup(values []ExternalValue) error {
	const op = "setup_runtime"

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return newError(op, InvalidState, "runtime was deleted")
	}
	if !r.reshaped {
		return newError(op, InvalidState, "runtime must be reshaped before setup")
	}

	r.bound = false
	seen := make([]bool, r.numExternal)
	for _, ev := range values {
		if ev.ID >= r.numExternal {
			return newError(op, InvalidParameter, "external id %d out of range [0, %d)", ev.ID, r.numExternal)
		}
		if seen[ev.ID] {
			return newError(op, InvalidParameter, "external id %d bound twice", ev.ID)
		}
		seen[ev.ID] = true

		v := r.values[ev.ID]
		n := v.shape.NumElements()
		if ev.Data == nil {
			return newError(op, InvalidParameter, "external id %d has no buffer", ev.ID)
		}
		if len(ev.Data) < n {
			return newError(op, InvalidParameter,
				"external id %d buffer has %d elements, shape %v needs %d", ev.ID, len(ev.Data), v.shape, n)
		}
		v.data = ev.Data[:n]
	}
	for id, ok := range seen {
		if !ok {
			return newError(op, InvalidParameter, "external id %d not provided", id)
		}
	}

	r.bound = true
	return nil
}

// Invoke executes the plan synchronously. Each output element is reduced by a
// single goroutine in a fixed order, so repeated invocations give identical results.
func (r *Runtime) Invoke() error {
	const op = "invoke_runtime"

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return newError(op, InvalidState, "runtime was deleted")
	}
	if !r.bound {
		return newError(op, InvalidState, "runtime must be set up after the last reshape")
	}

	var profile []OperatorProfile
	if r.flags&FlagProfile != 0 {
		profile = make([]OperatorProfile, 0, len(r.steps))
	}

	for i, s := range r.steps {
		inputs := make([]operand, len(s.node.inputs))
		for j, id := range s.node.inputs {
			if id != InvalidValueID {
				inputs[j] = r.operand(id)
			}
		}
		output := r.operand(s.node.output)

		start := time.Now()
		if err := s.kernel.Kernel(r.backend, s, inputs, output); err != nil {
			return newError(op, InvalidParameter, "node %d (%s): %v", i, s.kernel.Name, err)
		}
		if profile != nil {
			profile = append(profile, OperatorProfile{
				Name:     s.kernel.Name,
				Op:       s.node.op,
				Duration: time.Since(start),
			})
		}
	}

	if profile != nil {
		r.profile = profile
	}
	return nil
}

// Profile returns per-operator timings of the last Invoke.
func (r *Runtime) Profile() ([]OperatorProfile, error) {
	const op = "get_runtime_profiling_info"

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return nil, newError(op, InvalidState, "runtime was deleted")
	}
	if r.flags&FlagProfile == 0 {
		return nil, newError(op, InvalidState, "profiling was not enabled")
	}
	return append([]OperatorProfile(nil), r.profile...), nil
}

// Delete releases the runtime and its references to the subgraph, workspace
// and weights cache. It is safe to call more than once.
func (r *Runtime) Delete() error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deleted {
		return nil
	}
	r.deleted = true

	r.sg.mu.Lock()
	r.sg.runtimes--
	r.sg.mu.Unlock()

	r.ws.drop()
	if r.cache != nil {
		r.cache.drop()
	}

	r.steps = nil
	r.values = nil
	track(func(l *ObjectCounts) { l.Runtimes-- })
	return nil
}

func (r *Runtime) operand(id uint32) operand {
	v := r.values[id]
	if v.intermediate() {
		return operand{
			data:  r.ws.region(v.offset, v.shape.NumElements()),
			shape: v.shape,
		}
	}
	return operand{data: v.data, shape: v.shape}
}
