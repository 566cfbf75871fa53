package tensor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

// tensorBuffer is a reference-counted shared buffer.
// Packed weights are shared between runtimes through it.
type tensorBuffer struct {
	data     []byte
	refCount atomic.Int32
	mu       sync.Mutex // For safe deallocation
}

// newTensorBuffer creates a new reference-counted buffer with refCount = 1.
func newTensorBuffer(size int) *tensorBuffer {
	buf := &tensorBuffer{
		data: make([]byte, size),
	}
	buf.refCount.Store(1)
	return buf
}

// addRef increments the reference count (for Clone operations).
func (tb *tensorBuffer) addRef() {
	tb.refCount.Add(1)
}

// release decrements the reference count and deallocates if it reaches 0.
func (tb *tensorBuffer) release() {
	if tb.refCount.Add(-1) == 0 {
		tb.mu.Lock()
		defer tb.mu.Unlock()
		tb.data = nil
	}
}

// RawTensor is the low-level tensor representation: a shape, a data type and
// a reference-counted byte buffer.
type RawTensor struct {
	buffer *tensorBuffer
	shape  Shape
	dtype  DataType
}

// NewRaw creates a new zero-filled RawTensor with the given shape and type.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		buffer: newTensorBuffer(shape.NumElements() * dtype.Size()),
		shape:  shape.Clone(),
		dtype:  dtype,
	}, nil
}

// FromFloat32 creates a Float32 tensor holding a copy of data.
// The length of data must match the element count of shape.
func FromFloat32(shape Shape, data []float32) (*RawTensor, error) {
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, shape.NumElements())
	}
	raw, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	copy(raw.AsFloat32(), data)
	return raw, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// Data returns the raw byte slice.
// WARNING: Direct access to underlying memory. Use with caution.
func (r *RawTensor) Data() []byte {
	return r.buffer.data
}

// AsFloat32 interprets the data as []float32.
// Panics if the tensor's dtype is not Float32.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	data := r.buffer.data
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), r.NumElements())
}

// Clone creates a shallow copy of the RawTensor (shares buffer with reference counting).
func (r *RawTensor) Clone() *RawTensor {
	r.buffer.addRef()
	return &RawTensor{
		buffer: r.buffer,
		shape:  r.shape.Clone(),
		dtype:  r.dtype,
	}
}

// Release decrements the reference count and deallocates if it reaches 0.
func (r *RawTensor) Release() {
	r.buffer.release()
}

// RefCount returns the number of live references to the underlying buffer.
func (r *RawTensor) RefCount() int {
	return int(r.buffer.refCount.Load())
}

// IsUnique returns true if this tensor is the only reference to the buffer.
func (r *RawTensor) IsUnique() bool {
	return r.RefCount() == 1
}
