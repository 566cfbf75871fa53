package swiglu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"github.com/born-ml/swiglu/internal/engine"
	"github.com/born-ml/swiglu/internal/parallel"
	"github.com/born-ml/swiglu/internal/tensor"
)

var (
	// ErrClosed is returned when a closed Block is used.
	ErrClosed = errors.New("swiglu: block is closed")

	// ErrOptions is returned for invalid Options.
	ErrOptions = errors.New("invalid options")
)

// Tracer observes every engine resource call a Block makes, by call name.
type Tracer func(call string)

// Options configure a Block. The zero value runs single threaded with an
// unbounded output, no weights cache and no profiling.
type Options struct {
	// OutputMin and OutputMax clamp the final projection. Both zero means unbounded.
	OutputMin, OutputMax float32

	// Threads is the size of the engine thread pool. Zero or one runs on the caller.
	Threads int

	// WeightsCache packs identical filters once and shares them.
	WeightsCache bool

	// Profile records per-operator timings on every Run.
	Profile bool

	// MaxWorkspaceBytes caps the workspace. Zero means unlimited.
	MaxWorkspaceBytes int

	// Tracer, if set, receives the name of every acquire and release call.
	Tracer Tracer
}

func (o Options) outputRange() Range {
	if o.OutputMin == 0 && o.OutputMax == 0 {
		return Unbounded()
	}
	return Range{Min: o.OutputMin, Max: o.OutputMax}
}

// Block owns the engine objects of one SwiGLU graph.
type Block struct {
	mu     sync.Mutex
	log    klog.Logger
	dims   Dims
	tracer Tracer

	initialized bool
	sg          *engine.Subgraph
	ws          *engine.Workspace
	cache       *engine.WeightsCache
	pool        *parallel.Pool
	rt          *engine.Runtime
	closed      bool
}

// New acquires the engine, defines the graph and compiles it:
// initialize, create_subgraph, create_workspace, create_weights_cache (optional),
// create_threadpool (optional), create_runtime. If any step fails, everything
// acquired so far is released in reverse order and the step's error is returned.
func New(ctx context.Context, d Dims, w Weights, opts Options) (*Block, error) {
	if opts.Threads < 0 {
		return nil, fmt.Errorf("%w: negative thread count %d", ErrOptions, opts.Threads)
	}

	b := &Block{
		log:    klog.FromContext(ctx),
		dims:   d,
		tracer: opts.Tracer,
	}
	if err := b.acquire(w, opts); err != nil {
		if cerr := b.release(); cerr != nil {
			b.log.Error(cerr, "Releasing partially created block")
		}
		return nil, err
	}
	return b, nil
}

func (b *Block) trace(call string) {
	if b.tracer != nil {
		b.tracer(call)
	}
}

func (b *Block) acquire(w Weights, opts Options) error {
	if err := engine.Initialize(&engine.InitOptions{MaxWorkspaceBytes: opts.MaxWorkspaceBytes}); err != nil {
		return err
	}
	b.initialized = true
	b.trace("initialize")

	sg, err := BuildGraph(b.dims, w, opts.outputRange())
	if err != nil {
		return err
	}
	b.sg = sg
	b.trace("create_subgraph")
	b.log.V(2).Info("Defined graph", "values", sg.NumValues(), "nodes", sg.NumNodes())

	if b.ws, err = engine.CreateWorkspace(); err != nil {
		return err
	}
	b.trace("create_workspace")

	if opts.WeightsCache {
		if b.cache, err = engine.CreateWeightsCache(); err != nil {
			return err
		}
		b.trace("create_weights_cache")
	}

	if opts.Threads > 1 {
		cfg := parallel.DefaultConfig()
		cfg.NumWorkers = opts.Threads
		b.pool = parallel.NewPool(cfg)
		b.trace("create_threadpool")
	}

	var flags engine.RuntimeFlags
	if opts.Profile {
		flags |= engine.FlagProfile
	}
	if b.rt, err = engine.CreateRuntime(b.sg, b.cache, b.ws, b.pool, flags); err != nil {
		return err
	}
	b.trace("create_runtime")
	b.log.V(2).Info("Compiled graph", "threads", b.rt.Threads(), "weightsCache", b.cache != nil)
	return nil
}

// Dims returns the block's dimensions.
func (b *Block) Dims() Dims {
	return b.dims
}

// Run computes the block for batch rows of input, laid out [batch, Input],
// and returns a new [batch, Output] slice.
func (b *Block) Run(ctx context.Context, input []float32, batch int) ([]float32, error) {
	log := klog.FromContext(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	if err := b.rt.ReshapeExternalValue(InputID, []int{batch, b.dims.Input}); err != nil {
		return nil, err
	}
	if err := b.rt.ReshapeExternalValue(OutputID, []int{batch, b.dims.Output}); err != nil {
		return nil, err
	}
	if err := b.rt.Reshape(); err != nil {
		return nil, err
	}
	log.V(2).Info("Reshaped", "batch", batch, "workspaceBytes", b.ws.Size())

	output := make([]float32, batch*b.dims.Output)
	if err := b.rt.Setup([]engine.ExternalValue{
		{ID: InputID, Data: input},
		{ID: OutputID, Data: output},
	}); err != nil {
		return nil, err
	}

	if err := b.rt.Invoke(); err != nil {
		return nil, err
	}
	log.V(2).Info("Invoked", "batch", batch)
	return output, nil
}

// OutputShape returns the output shape computed by the last Run.
func (b *Block) OutputShape() (tensor.Shape, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.rt.ExternalValueShape(OutputID)
}

// Profile returns the per-operator timings of the last Run.
func (b *Block) Profile() ([]engine.OperatorProfile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.rt.Profile()
}

// CacheStats returns the weights cache statistics, or zero stats without a cache.
func (b *Block) CacheStats() engine.CacheStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cache == nil {
		return engine.CacheStats{}
	}
	return b.cache.Stats()
}

// WorkspaceSize returns the workspace size in bytes.
func (b *Block) WorkspaceSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ws == nil {
		return 0
	}
	return b.ws.Size()
}

// Snapshot encodes the block's graph, weights included.
func (b *Block) Snapshot() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.sg.MarshalBinary()
}

// Close releases the engine objects in reverse creation order: delete_runtime,
// delete_threadpool, delete_weights_cache, release_workspace, delete_subgraph,
// deinitialize. Objects that were never created are skipped. Close stops at the
// first failure; calling it again resumes from there.
func (b *Block) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	return b.release()
}

func (b *Block) release() error {
	if b.rt != nil {
		if err := b.rt.Delete(); err != nil {
			return err
		}
		b.rt = nil
		b.trace("delete_runtime")
	}
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
		b.trace("delete_threadpool")
	}
	if b.cache != nil {
		if err := b.cache.Delete(); err != nil {
			return err
		}
		b.cache = nil
		b.trace("delete_weights_cache")
	}
	if b.ws != nil {
		if err := b.ws.Release(); err != nil {
			return err
		}
		b.ws = nil
		b.trace("release_workspace")
	}
	if b.sg != nil {
		if err := b.sg.Delete(); err != nil {
			return err
		}
		b.sg = nil
		b.trace("delete_subgraph")
	}
	if b.initialized {
		if err := engine.Deinitialize(); err != nil {
			return err
		}
		b.initialized = false
		b.trace("deinitialize")
	}
	return nil
}
