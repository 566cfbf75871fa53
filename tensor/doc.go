// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor exposes the float32 tensor types used by the SwiGLU block.
//
// # Overview
//
// A Shape lists the dimensions of a tensor, outermost first. A RawTensor owns
// a reference-counted, row-major byte buffer:
//
//	raw, _ := tensor.FromFloat32(tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
//	defer raw.Release()
//	data := raw.AsFloat32()
//
// # Supported Data Types
//
// The engine computes in Float32 only. Float16, Int8 and Int32 are recognized
// by the SafeTensors reader and writer so that mismatched files are reported
// with a clear error.
package tensor
