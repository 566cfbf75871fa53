// Package loader reads SwiGLU weight files.
//
// Weights are stored as SafeTensors with three F32 tensors: w1 and w3 of shape
// [inter, input] and w2 of shape [output, inter]. Files may be local paths,
// file:// URLs or gs://bucket/object URLs.
//
// Example usage:
//
//	r, err := loader.Open(ctx, "gs://models/swiglu.safetensors")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, name := range r.TensorNames() {
//	    values, shape, _ := r.Float32(name)
//	    fmt.Println(name, shape, len(values))
//	}
package loader

import (
	"context"

	"github.com/born-ml/swiglu/internal/loader"
)

// SafeTensorsReader gives access to the tensors of a SafeTensors blob.
type SafeTensorsReader = loader.SafeTensorsReader

// SafeTensorInfo describes one tensor in the header.
type SafeTensorInfo = loader.SafeTensorInfo

// Open reads and validates the SafeTensors blob at uri.
func Open(ctx context.Context, uri string) (*SafeTensorsReader, error) {
	return loader.Open(ctx, uri)
}

// NewSafeTensorsReader parses an in-memory SafeTensors blob.
func NewSafeTensorsReader(blob []byte) (*SafeTensorsReader, error) {
	return loader.NewSafeTensorsReader(blob)
}
