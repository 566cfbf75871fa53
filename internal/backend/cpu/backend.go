// Package cpu implements the float32 kernels executed by the engine runtime.
package cpu

import (
	"math"

	"github.com/born-ml/swiglu/internal/parallel"
)

// CPUBackend runs kernels on the calling goroutine or spreads them over a worker pool.
type CPUBackend struct {
	pool *parallel.Pool
}

// New creates a CPU backend. A nil pool runs every kernel single threaded.
func New(pool *parallel.Pool) *CPUBackend {
	return &CPUBackend{pool: pool}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Threads returns how many goroutines kernels are split across.
func (cpu *CPUBackend) Threads() int {
	return cpu.pool.Workers()
}

// Bounds is the output clamping range applied by every kernel.
type Bounds struct {
	Min float32
	Max float32
}

// Unbounded returns the range that leaves every value unchanged.
func Unbounded() Bounds {
	return Bounds{
		Min: float32(math.Inf(-1)),
		Max: float32(math.Inf(1)),
	}
}

// IsUnbounded reports whether clamping is a no-op.
func (b Bounds) IsUnbounded() bool {
	return math.IsInf(float64(b.Min), -1) && math.IsInf(float64(b.Max), 1)
}

func (b Bounds) apply(v float32) float32 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// elementwiseChunk is the minimum number of elements handed to one worker.
const elementwiseChunk = 4096
