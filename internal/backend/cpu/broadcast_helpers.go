package cpu

import (
	"github.com/born-ml/swiglu/internal/tensor"
)

// computeBroadcastStridesForShape computes strides for reading inShape while
// iterating outShape. Padded and size-1 dimensions get stride 0.
func computeBroadcastStridesForShape(inShape, outShape tensor.Shape) []int {
	outDim := len(outShape)
	inDim := len(inShape)
	offset := outDim - inDim
	origStrides := inShape.ComputeStrides()

	strides := make([]int, outDim)
	for i := range strides {
		inIdx := i - offset
		if inIdx < 0 || inShape[inIdx] == 1 {
			continue
		}
		strides[i] = origStrides[inIdx]
	}
	return strides
}

// computeFlatIndex maps a flat output index to the flat index of a broadcast input.
func computeFlatIndex(outIdx int, outStrides, inStrides []int) int {
	flatIdx := 0
	for i := range outStrides {
		coord := outIdx / outStrides[i]
		outIdx %= outStrides[i]
		flatIdx += coord * inStrides[i]
	}
	return flatIdx
}
