package cpu

import "fmt"

// FullyConnected computes dst[r, o] = bias[o] + sum_k src[r, k] * filter[o, k].
//
// src is [rows, in], filter is packed row-major as [out, in], bias is nil or [out]
// and dst is [rows, out]. Every output element is reduced by a single goroutine
// in ascending k order, so results do not depend on the worker count.
func (cpu *CPUBackend) FullyConnected(dst, src, filter, bias []float32, rows, in, out int, bounds Bounds) error {
	if len(src) < rows*in {
		return fmt.Errorf("fully_connected: input has %d elements, need %d", len(src), rows*in)
	}
	if len(filter) != out*in {
		return fmt.Errorf("fully_connected: filter has %d elements, need %d", len(filter), out*in)
	}
	if bias != nil && len(bias) != out {
		return fmt.Errorf("fully_connected: bias has %d elements, need %d", len(bias), out)
	}
	if len(dst) < rows*out {
		return fmt.Errorf("fully_connected: output has %d elements, need %d", len(dst), rows*out)
	}

	// Small dot products are grouped so a worker gets enough multiply-adds.
	minChunk := max(1, elementwiseChunk/max(in, 1))

	cpu.forRange(rows*out, minChunk, func(start, end int) {
		for idx := start; idx < end; idx++ {
			r, o := idx/out, idx%out
			x := src[r*in : r*in+in]
			w := filter[o*in : o*in+in]

			var sum float32
			if bias != nil {
				sum = bias[o]
			}
			for k := range x {
				// The conversion keeps the product rounded, preventing FMA fusion.
				sum += float32(x[k] * w[k])
			}
			dst[idx] = bounds.apply(sum)
		}
	})
	return nil
}

// TransposeFilter converts an [in, out] filter into the packed [out, in] layout.
func TransposeFilter(filter []float32, in, out int) []float32 {
	packed := make([]float32, len(filter))
	for k := 0; k < in; k++ {
		for o := 0; o < out; o++ {
			packed[o*in+k] = filter[k*out+o]
		}
	}
	return packed
}
