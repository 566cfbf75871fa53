// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package swiglu builds and runs SwiGLU feed-forward blocks.
//
// # Overview
//
// A SwiGLU block computes
//
//	y = (silu(x @ W1^T) * (x @ W3^T)) @ W2^T
//
// where silu(g) = g * sigmoid(g). The block is defined as a dataflow graph,
// compiled once, and then run for any batch size.
//
// # Basic Usage
//
//	ctx := context.Background()
//	d := swiglu.TutorialDims
//
//	block, err := swiglu.New(ctx, d, swiglu.TutorialWeights(d), swiglu.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer block.Close()
//
//	y, err := block.Run(ctx, []float32{1, 2, 3}, 1)
//	// y == [24.203243, 52.594986]
//
// # Resources
//
// New acquires the engine, the graph, a workspace, an optional weights cache,
// an optional thread pool and the compiled runtime. Close releases them in
// reverse order. A Block is safe for concurrent use; runs are serialized.
package swiglu
