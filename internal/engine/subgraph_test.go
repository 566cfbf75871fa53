package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/swiglu/internal/tensor"
)

func TestCreateSubgraph(t *testing.T) {
	initEngine(t)

	_, err := CreateSubgraph(2, 1)
	assert.ErrorIs(t, err, UnsupportedParameter)

	sg, err := CreateSubgraph(2, 0)
	require.NoError(t, err)
	defer func() { require.NoError(t, sg.Delete()) }()

	assert.Equal(t, uint32(2), sg.NumExternalValues())
	assert.Zero(t, sg.NumValues())
	assert.Zero(t, sg.NumNodes())
}

func TestDefineTensorValue(t *testing.T) {
	initEngine(t)

	sg, err := CreateSubgraph(2, 0)
	require.NoError(t, err)
	defer func() { require.NoError(t, sg.Delete()) }()

	tests := []struct {
		name       string
		dtype      tensor.DataType
		dims       []int
		data       []float32
		externalID uint32
		flags      ValueFlags
		status     Status
	}{
		{"unsupported dtype", tensor.Int8, []int{2}, nil, InvalidValueID, 0, UnsupportedParameter},
		{"zero dimension", tensor.Float32, []int{2, 0}, nil, InvalidValueID, 0, InvalidParameter},
		{"external id out of range", tensor.Float32, []int{2}, nil, 2, ValueFlagExternalInput, InvalidParameter},
		{"both directions", tensor.Float32, []int{2}, nil, 0, ValueFlagExternalInput | ValueFlagExternalOutput, InvalidParameter},
		{"external flag without id", tensor.Float32, []int{2}, nil, InvalidValueID, ValueFlagExternalInput, InvalidParameter},
		{"unknown flag", tensor.Float32, []int{2}, nil, 0, 1 << 7, InvalidParameter},
		{"external with data", tensor.Float32, []int{2}, []float32{1, 2}, 0, ValueFlagExternalInput, InvalidParameter},
		{"data length mismatch", tensor.Float32, []int{2, 2}, []float32{1, 2, 3}, InvalidValueID, 0, InvalidParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := sg.DefineTensorValue(tt.dtype, tt.dims, tt.data, tt.externalID, tt.flags)
			assert.ErrorIs(t, err, tt.status)
			assert.Equal(t, InvalidValueID, id)
			assert.Equal(t, "define_tensor_value", OpOf(err))
		})
	}

	t.Run("ids", func(t *testing.T) {
		out, err := sg.DefineTensorValue(tensor.Float32, []int{1, 2}, nil, 1, ValueFlagExternalOutput)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), out, "external values take their external id")

		internal, err := sg.DefineTensorValue(tensor.Float32, []int{1, 2}, nil, InvalidValueID, 0)
		require.NoError(t, err)
		assert.Equal(t, uint32(2), internal, "internal values follow the external range")

		_, err = sg.DefineTensorValue(tensor.Float32, []int{1, 2}, nil, 1, ValueFlagExternalOutput)
		assert.ErrorIs(t, err, InvalidParameter, "external ids are unique")
	})
}

func TestDefineFullyConnected(t *testing.T) {
	initEngine(t)

	sg, err := CreateSubgraph(2, 0)
	require.NoError(t, err)
	defer func() { require.NoError(t, sg.Delete()) }()

	x, err := sg.DefineTensorValue(tensor.Float32, []int{1, 3}, nil, 0, ValueFlagExternalInput)
	require.NoError(t, err)
	y, err := sg.DefineTensorValue(tensor.Float32, []int{1, 2}, nil, 1, ValueFlagExternalOutput)
	require.NoError(t, err)
	filter, err := sg.DefineTensorValue(tensor.Float32, []int{2, 3}, make([]float32, 6), InvalidValueID, 0)
	require.NoError(t, err)
	wrongFilter, err := sg.DefineTensorValue(tensor.Float32, []int{2, 4}, make([]float32, 8), InvalidValueID, 0)
	require.NoError(t, err)
	transposed, err := sg.DefineTensorValue(tensor.Float32, []int{3, 2}, make([]float32, 6), InvalidValueID, 0)
	require.NoError(t, err)
	bias, err := sg.DefineTensorValue(tensor.Float32, []int{2}, []float32{1, 1}, InvalidValueID, 0)
	require.NoError(t, err)
	activation := defineActivation(t, sg, 1, 2)

	t.Run("contraction mismatch", func(t *testing.T) {
		err := sg.DefineFullyConnected(unboundedMin, unboundedMax, x, wrongFilter, InvalidValueID, y, 0)
		assert.ErrorIs(t, err, InvalidParameter)
		assert.Contains(t, err.Error(), "input channels")
	})

	t.Run("dynamic filter", func(t *testing.T) {
		err := sg.DefineFullyConnected(unboundedMin, unboundedMax, x, activation, InvalidValueID, y, 0)
		assert.ErrorIs(t, err, InvalidParameter)
	})

	t.Run("bad bias", func(t *testing.T) {
		err := sg.DefineFullyConnected(unboundedMin, unboundedMax, x, filter, filter, y, 0)
		assert.ErrorIs(t, err, InvalidParameter)
	})

	t.Run("empty range", func(t *testing.T) {
		err := sg.DefineFullyConnected(1, 1, x, filter, InvalidValueID, y, 0)
		assert.ErrorIs(t, err, InvalidParameter)
	})

	t.Run("undefined input", func(t *testing.T) {
		err := sg.DefineFullyConnected(unboundedMin, unboundedMax, 99, filter, InvalidValueID, y, 0)
		assert.ErrorIs(t, err, InvalidParameter)
	})

	t.Run("static output", func(t *testing.T) {
		err := sg.DefineFullyConnected(unboundedMin, unboundedMax, x, filter, InvalidValueID, bias, 0)
		assert.ErrorIs(t, err, InvalidParameter)
	})

	t.Run("external input as output", func(t *testing.T) {
		err := sg.DefineFullyConnected(unboundedMin, unboundedMax, x, transposed, InvalidValueID, x, FlagTransposeWeights)
		assert.ErrorIs(t, err, InvalidParameter)
	})

	require.NoError(t, sg.DefineFullyConnected(unboundedMin, unboundedMax, x, filter, bias, y, 0))
	require.NoError(t, sg.DefineFullyConnected(0, 6, x, transposed, InvalidValueID, activation, FlagTransposeWeights))

	t.Run("second producer", func(t *testing.T) {
		err := sg.DefineFullyConnected(unboundedMin, unboundedMax, x, filter, InvalidValueID, y, 0)
		assert.ErrorIs(t, err, InvalidParameter)
		assert.Contains(t, err.Error(), "already produced")
	})

	assert.Equal(t, 2, sg.NumNodes())
}

func TestDefineUnaryAndMultiply(t *testing.T) {
	initEngine(t)

	sg, err := CreateSubgraph(0, 0)
	require.NoError(t, err)
	defer func() { require.NoError(t, sg.Delete()) }()

	a, err := sg.DefineTensorValue(tensor.Float32, []int{2, 3}, make([]float32, 6), InvalidValueID, 0)
	require.NoError(t, err)
	row, err := sg.DefineTensorValue(tensor.Float32, []int{3}, make([]float32, 3), InvalidValueID, 0)
	require.NoError(t, err)
	out23 := defineActivation(t, sg, 2, 3)
	out4 := defineActivation(t, sg, 4)
	wrong := defineActivation(t, sg, 2, 4)

	assert.ErrorIs(t, sg.DefineUnary(UnaryClamp, nil, a, out23, 0), InvalidParameter)
	assert.ErrorIs(t, sg.DefineUnary(UnaryClamp, &UnaryParams{Min: 2, Max: 1}, a, out23, 0), InvalidParameter)
	assert.ErrorIs(t, sg.DefineUnary(UnaryOperator(99), nil, a, out23, 0), UnsupportedParameter)
	assert.ErrorIs(t, sg.DefineUnary(UnarySigmoid, nil, a, out4, 0), InvalidParameter)

	assert.ErrorIs(t, sg.DefineMultiply2(unboundedMin, unboundedMax, a, out4, wrong, 0), InvalidParameter)
	assert.ErrorIs(t, sg.DefineMultiply2(unboundedMin, unboundedMax, a, row, wrong, 0), InvalidParameter)
	require.NoError(t, sg.DefineMultiply2(unboundedMin, unboundedMax, a, row, out23, 0))
	clamped := defineActivation(t, sg, 2, 3)
	require.NoError(t, sg.DefineUnary(UnaryClamp, &UnaryParams{Min: -1, Max: 1}, out23, clamped, 0))
	assert.Equal(t, 2, sg.NumNodes())
}
