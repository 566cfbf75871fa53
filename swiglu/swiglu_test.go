// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package swiglu_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/swiglu/loader"
	"github.com/born-ml/swiglu/swiglu"
)

func ExampleNew() {
	ctx := context.Background()
	d := swiglu.TutorialDims

	block, err := swiglu.New(ctx, d, swiglu.TutorialWeights(d), swiglu.Options{})
	if err != nil {
		fmt.Println(err)
		return
	}
	defer block.Close()

	y, err := block.Run(ctx, []float32{1, 2, 3}, 1)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("%f %f\n", y[0], y[1])
	// Output: 24.203243 52.594986
}

func TestSavedWeightsAreReadable(t *testing.T) {
	ctx := context.Background()
	d := swiglu.Dims{Input: 2, Inter: 3, Output: 2}
	path := filepath.Join(t.TempDir(), "w.safetensors")

	require.NoError(t, swiglu.SaveWeights(ctx, path, d, swiglu.IndependentWeights(d)))

	r, err := loader.Open(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"w1", "w2", "w3"}, r.TensorNames())
	assert.Equal(t, "3", r.Metadata()["inter_dim"])

	values, shape, err := r.Float32("w2")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, []int(shape))
	assert.Len(t, values, 6)
}

func TestNewRejectsBadWeights(t *testing.T) {
	_, err := swiglu.New(context.Background(), swiglu.TutorialDims, swiglu.Weights{}, swiglu.Options{})
	assert.ErrorIs(t, err, swiglu.ErrDims)
}
