package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/swiglu/internal/tensor"
)

// Sigmoid computes dst[i] = 1 / (1 + exp(-src[i])).
func (cpu *CPUBackend) Sigmoid(dst, src []float32, bounds Bounds) error {
	if len(dst) < len(src) {
		return fmt.Errorf("sigmoid: output has %d elements, need %d", len(dst), len(src))
	}

	cpu.forRange(len(src), elementwiseChunk, func(start, end int) {
		for i := start; i < end; i++ {
			s := 1.0 / (1.0 + math.Exp(-float64(src[i])))
			dst[i] = bounds.apply(float32(s))
		}
	})
	return nil
}

// Clamp copies src into dst limited to [bounds.Min, bounds.Max].
func (cpu *CPUBackend) Clamp(dst, src []float32, bounds Bounds) error {
	if len(dst) < len(src) {
		return fmt.Errorf("clamp: output has %d elements, need %d", len(dst), len(src))
	}

	cpu.forRange(len(src), elementwiseChunk, func(start, end int) {
		for i := start; i < end; i++ {
			dst[i] = bounds.apply(src[i])
		}
	})
	return nil
}

// Multiply performs element-wise multiplication with NumPy-style broadcasting.
// outShape must be the broadcast of aShape and bShape.
func (cpu *CPUBackend) Multiply(dst, a, b []float32, outShape, aShape, bShape tensor.Shape, bounds Bounds) error {
	n := outShape.NumElements()
	if len(dst) < n {
		return fmt.Errorf("multiply: output has %d elements, need %d", len(dst), n)
	}
	if len(a) < aShape.NumElements() || len(b) < bShape.NumElements() {
		return fmt.Errorf("multiply: input buffers smaller than shapes %v and %v", aShape, bShape)
	}

	// Fast path: identical shapes.
	if aShape.Equal(bShape) {
		cpu.forRange(n, elementwiseChunk, func(start, end int) {
			for i := start; i < end; i++ {
				dst[i] = bounds.apply(a[i] * b[i])
			}
		})
		return nil
	}

	outStrides := outShape.ComputeStrides()
	aStrides := computeBroadcastStridesForShape(aShape, outShape)
	bStrides := computeBroadcastStridesForShape(bShape, outShape)

	cpu.forRange(n, elementwiseChunk, func(start, end int) {
		for i := start; i < end; i++ {
			av := a[computeFlatIndex(i, outStrides, aStrides)]
			bv := b[computeFlatIndex(i, outStrides, bStrides)]
			dst[i] = bounds.apply(av * bv)
		}
	})
	return nil
}

func (cpu *CPUBackend) forRange(n, minChunk int, f func(start, end int)) {
	if cpu.pool == nil || n < 2*minChunk {
		f(0, n)
		return
	}
	cpu.pool.For(n, f)
}
