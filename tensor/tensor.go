// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/swiglu/internal/tensor"
)

// Shape represents tensor dimensions.
type Shape = tensor.Shape

// DataType identifies the element type of a tensor.
type DataType = tensor.DataType

// Supported data types.
const (
	Float32 = tensor.Float32
	Float16 = tensor.Float16
	Int8    = tensor.Int8
	Int32   = tensor.Int32
)

// RawTensor is the low-level tensor representation.
//
// RawTensor provides:
//   - Shape and type information via Shape() and DType()
//   - Float32 access via AsFloat32()
//   - Buffer sharing via Clone() and Release()
type RawTensor = tensor.RawTensor

// NewRaw allocates a zeroed tensor of the given shape and type.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype)
}

// FromFloat32 creates a Float32 tensor holding a copy of data.
func FromFloat32(shape Shape, data []float32) (*RawTensor, error) {
	return tensor.FromFloat32(shape, data)
}

// BroadcastShapes returns the NumPy broadcast of two shapes and whether
// either operand needs expanding.
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	return tensor.BroadcastShapes(a, b)
}
