// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/swiglu/tensor"
)

func TestFromFloat32(t *testing.T) {
	raw, err := tensor.FromFloat32(tensor.Shape{2, 2}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	defer raw.Release()

	assert.Equal(t, tensor.Float32, raw.DType())
	assert.Equal(t, tensor.Shape{2, 2}, raw.Shape())
	assert.Equal(t, []float32{1, 2, 3, 4}, raw.AsFloat32())

	_, err = tensor.FromFloat32(tensor.Shape{3}, []float32{1})
	assert.Error(t, err)
}

func TestBroadcastShapes(t *testing.T) {
	shape, expanded, err := tensor.BroadcastShapes(tensor.Shape{4, 1}, tensor.Shape{1, 3})
	require.NoError(t, err)
	assert.True(t, expanded)
	assert.Equal(t, tensor.Shape{4, 3}, shape)

	_, _, err = tensor.BroadcastShapes(tensor.Shape{2, 3}, tensor.Shape{4, 3})
	assert.Error(t, err)
}
