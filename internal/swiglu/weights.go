package swiglu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/born-ml/swiglu/internal/blobs"
	"github.com/born-ml/swiglu/internal/loader"
	"github.com/born-ml/swiglu/internal/serialization"
	"github.com/born-ml/swiglu/internal/tensor"
)

// Weight tensor names in SafeTensors files.
const (
	TensorW1 = "w1"
	TensorW2 = "w2"
	TensorW3 = "w3"
)

// ErrDims is returned for non-positive or mismatched dimensions.
var ErrDims = errors.New("invalid dimensions")

// Dims are the sizes of the block.
type Dims struct {
	Input  int // Model dimension.
	Inter  int // Hidden (intermediate) dimension.
	Output int // Output dimension.
}

// TutorialDims are the dimensions of the reference example.
var TutorialDims = Dims{Input: 3, Inter: 4, Output: 2}

// Validate checks that all dimensions are positive.
func (d Dims) Validate() error {
	if d.Input <= 0 || d.Inter <= 0 || d.Output <= 0 {
		return fmt.Errorf("%w: input=%d inter=%d output=%d (must be > 0)", ErrDims, d.Input, d.Inter, d.Output)
	}
	return nil
}

// Weights holds the three projections in row-major [out, in] layout.
type Weights struct {
	W1 []float32 // Gate projection [Inter, Input].
	W3 []float32 // Up projection [Inter, Input].
	W2 []float32 // Down projection [Output, Inter].
}

// Validate checks the weight sizes against d.
func (w Weights) Validate(d Dims) error {
	if err := d.Validate(); err != nil {
		return err
	}
	check := func(name string, got []float32, rows, cols int) error {
		if len(got) != rows*cols {
			return fmt.Errorf("%w: %s has %d elements, want [%d, %d]", ErrDims, name, len(got), rows, cols)
		}
		return nil
	}
	if err := check(TensorW1, w.W1, d.Inter, d.Input); err != nil {
		return err
	}
	if err := check(TensorW3, w.W3, d.Inter, d.Input); err != nil {
		return err
	}
	return check(TensorW2, w.W2, d.Output, d.Inter)
}

// ramp fills a [rows, cols] matrix with (i*cols + j + 1) / (rows*cols).
func ramp(rows, cols int) []float32 {
	m := make([]float32, rows*cols)
	for i := range m {
		m[i] = float32(i+1) / float32(rows*cols)
	}
	return m
}

// TutorialWeights returns the deterministic weights of the reference example.
// W3 shares W1's buffer, so the up and gate projections are identical.
func TutorialWeights(d Dims) Weights {
	w1 := ramp(d.Inter, d.Input)
	return Weights{
		W1: w1,
		W3: w1,
		W2: ramp(d.Output, d.Inter),
	}
}

// IndependentWeights returns deterministic weights where W3 is distinct from W1:
// W3[i, j] = 1 - (i*Input + j) / (Inter*Input), a descending ramp.
func IndependentWeights(d Dims) Weights {
	n := d.Inter * d.Input
	w3 := make([]float32, n)
	for i := range w3 {
		w3[i] = 1 - float32(i)/float32(n)
	}
	return Weights{
		W1: ramp(d.Inter, d.Input),
		W3: w3,
		W2: ramp(d.Output, d.Inter),
	}
}

// LoadWeights reads w1, w2 and w3 from a SafeTensors blob at uri (a path, file:// or gs:// URL).
func LoadWeights(ctx context.Context, uri string, d Dims) (Weights, error) {
	r, err := loader.Open(ctx, uri)
	if err != nil {
		return Weights{}, fmt.Errorf("loading weights: %w", err)
	}

	read := func(name string, rows, cols int) ([]float32, error) {
		values, shape, err := r.Float32(name)
		if err != nil {
			return nil, fmt.Errorf("loading weights: %w", err)
		}
		if !shape.Equal(tensor.Shape{rows, cols}) {
			return nil, fmt.Errorf("%w: %s has shape %v, want [%d, %d]", ErrDims, name, shape, rows, cols)
		}
		return values, nil
	}

	var w Weights
	if w.W1, err = read(TensorW1, d.Inter, d.Input); err != nil {
		return Weights{}, err
	}
	if w.W3, err = read(TensorW3, d.Inter, d.Input); err != nil {
		return Weights{}, err
	}
	if w.W2, err = read(TensorW2, d.Output, d.Inter); err != nil {
		return Weights{}, err
	}
	return w, nil
}

// SaveWeights writes the weights as SafeTensors to uri, recording the dims in the metadata.
func SaveWeights(ctx context.Context, uri string, d Dims, w Weights) error {
	log := klog.FromContext(ctx)

	if err := w.Validate(d); err != nil {
		return err
	}

	raws := make(map[string]*tensor.RawTensor, 3)
	for name, m := range map[string]struct {
		data       []float32
		rows, cols int
	}{
		TensorW1: {w.W1, d.Inter, d.Input},
		TensorW3: {w.W3, d.Inter, d.Input},
		TensorW2: {w.W2, d.Output, d.Inter},
	} {
		raw, err := tensor.FromFloat32(tensor.Shape{m.rows, m.cols}, m.data)
		if err != nil {
			return fmt.Errorf("saving weights: %s: %w", name, err)
		}
		defer raw.Release()
		raws[name] = raw
	}

	var buf bytes.Buffer
	metadata := map[string]string{
		"input_dim":  strconv.Itoa(d.Input),
		"inter_dim":  strconv.Itoa(d.Inter),
		"output_dim": strconv.Itoa(d.Output),
	}
	if err := serialization.WriteSafeTensors(&buf, raws, metadata); err != nil {
		return fmt.Errorf("saving weights: %w", err)
	}
	if err := blobs.Write(ctx, uri, buf.Bytes()); err != nil {
		return fmt.Errorf("saving weights: %w", err)
	}

	log.Info("saved weights", "destination", uri, "bytes", buf.Len())
	return nil
}
