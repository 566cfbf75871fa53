package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/born-ml/swiglu/internal/tensor"
)

var (
	unboundedMin = float32(math.Inf(-1))
	unboundedMax = float32(math.Inf(1))
)

// gatedGraph builds out = sigmoid(x W1^T) * (x W2^T) for x of shape [1, 3].
func gatedGraph(t *testing.T, w1, w2 []float32) *Subgraph {
	t.Helper()

	sg, err := CreateSubgraph(2, 0)
	require.NoError(t, err)

	x, err := sg.DefineTensorValue(tensor.Float32, []int{1, 3}, nil, 0, ValueFlagExternalInput)
	require.NoError(t, err)
	out, err := sg.DefineTensorValue(tensor.Float32, []int{1, 2}, nil, 1, ValueFlagExternalOutput)
	require.NoError(t, err)

	f1, err := sg.DefineTensorValue(tensor.Float32, []int{2, 3}, w1, InvalidValueID, 0)
	require.NoError(t, err)
	f2, err := sg.DefineTensorValue(tensor.Float32, []int{2, 3}, w2, InvalidValueID, 0)
	require.NoError(t, err)

	a := defineActivation(t, sg, 1, 2)
	b := defineActivation(t, sg, 1, 2)
	s := defineActivation(t, sg, 1, 2)

	require.NoError(t, sg.DefineFullyConnected(unboundedMin, unboundedMax, x, f1, InvalidValueID, a, 0))
	require.NoError(t, sg.DefineFullyConnected(unboundedMin, unboundedMax, x, f2, InvalidValueID, b, 0))
	require.NoError(t, sg.DefineUnary(UnarySigmoid, nil, a, s, 0))
	require.NoError(t, sg.DefineMultiply2(unboundedMin, unboundedMax, s, b, out, 0))
	return sg
}

func defineActivation(t *testing.T, sg *Subgraph, dims ...int) uint32 {
	t.Helper()
	id, err := sg.DefineTensorValue(tensor.Float32, dims, nil, InvalidValueID, 0)
	require.NoError(t, err)
	return id
}

// gatedReference computes gatedGraph in float64 for a [rows, 3] input.
func gatedReference(x, w1, w2 []float32) []float32 {
	rows := len(x) / 3
	out := make([]float32, rows*2)
	for r := 0; r < rows; r++ {
		for o := 0; o < 2; o++ {
			var a, b float64
			for k := 0; k < 3; k++ {
				a += float64(x[r*3+k]) * float64(w1[o*3+k])
				b += float64(x[r*3+k]) * float64(w2[o*3+k])
			}
			out[r*2+o] = float32(b / (1 + math.Exp(-a)))
		}
	}
	return out
}

var (
	testW1 = []float32{0.1, -0.2, 0.3, 0.4, 0.5, -0.6}
	testW2 = []float32{1, 2, 3, -1, 0.5, 0.25}
)

// newGatedRuntime creates a reshaped runtime over gatedGraph and registers cleanup
// in reverse creation order.
func newGatedRuntime(t *testing.T, cache *WeightsCache, flags RuntimeFlags) (*Runtime, *Subgraph, *Workspace) {
	t.Helper()

	sg := gatedGraph(t, testW1, testW2)
	t.Cleanup(func() { require.NoError(t, sg.Delete()) })

	ws, err := CreateWorkspace()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ws.Release()) })

	rt, err := CreateRuntime(sg, cache, ws, nil, flags)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, rt.Delete()) })

	return rt, sg, ws
}
