// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package swiglu

import (
	"context"

	"github.com/born-ml/swiglu/internal/swiglu"
)

// Dims are the input, hidden and output sizes of a block.
type Dims = swiglu.Dims

// TutorialDims are the dimensions of the reference example: 3 -> 4 -> 2.
var TutorialDims = swiglu.TutorialDims

// Weights holds the gate (W1), up (W3) and down (W2) projections in
// row-major [out, in] layout.
type Weights = swiglu.Weights

// Options configure a Block.
type Options = swiglu.Options

// Tracer observes the engine resource calls of a Block.
type Tracer = swiglu.Tracer

// Block is a compiled SwiGLU graph and the engine resources it owns.
type Block = swiglu.Block

// Errors.
var (
	ErrDims    = swiglu.ErrDims
	ErrOptions = swiglu.ErrOptions
	ErrClosed  = swiglu.ErrClosed
)

// New builds and compiles a block.
//
// Example:
//
//	block, err := swiglu.New(ctx, d, w, swiglu.Options{Threads: 4, WeightsCache: true})
func New(ctx context.Context, d Dims, w Weights, opts Options) (*Block, error) {
	return swiglu.New(ctx, d, w, opts)
}

// TutorialWeights returns the deterministic weights of the reference example.
// W3 shares W1's buffer.
func TutorialWeights(d Dims) Weights {
	return swiglu.TutorialWeights(d)
}

// IndependentWeights returns deterministic weights with a W3 distinct from W1.
func IndependentWeights(d Dims) Weights {
	return swiglu.IndependentWeights(d)
}

// LoadWeights reads w1, w2 and w3 from a SafeTensors file or gs:// object.
func LoadWeights(ctx context.Context, uri string, d Dims) (Weights, error) {
	return swiglu.LoadWeights(ctx, uri, d)
}

// SaveWeights writes the weights as SafeTensors to a path or gs:// object.
func SaveWeights(ctx context.Context, uri string, d Dims, w Weights) error {
	return swiglu.SaveWeights(ctx, uri, d, w)
}
