package loader

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"k8s.io/klog/v2"

	"github.com/born-ml/swiglu/internal/blobs"
	"github.com/born-ml/swiglu/internal/serialization"
	"github.com/born-ml/swiglu/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// SafeTensorInfo describes a tensor in SafeTensors format.
type SafeTensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end]
}

// SafeTensorsHeader is the JSON header in SafeTensors format.
type SafeTensorsHeader struct {
	Metadata map[string]string
	Tensors  map[string]SafeTensorInfo
}

// UnmarshalJSON implements custom JSON unmarshaling for SafeTensorsHeader.
func (h *SafeTensorsHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap["__metadata__"]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	// Everything except __metadata__ is a tensor.
	h.Tensors = make(map[string]SafeTensorInfo)
	for key, value := range rawMap {
		if key == "__metadata__" {
			continue
		}
		var info SafeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}

	return nil
}

// SafeTensorsReader serves tensors from an in-memory SafeTensors blob.
type SafeTensorsReader struct {
	header SafeTensorsHeader
	data   []byte // Data section.
}

// Open reads and validates the SafeTensors blob at uri (a path, file:// or gs:// URL).
func Open(ctx context.Context, uri string) (*SafeTensorsReader, error) {
	log := klog.FromContext(ctx)

	data, err := blobs.ReadAll(ctx, uri)
	if err != nil {
		return nil, err
	}

	r, err := NewSafeTensorsReader(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", uri, err)
	}

	log.Info("loaded weights", "source", uri, "tensors", len(r.header.Tensors), "bytes", len(data))
	return r, nil
}

// NewSafeTensorsReader parses a SafeTensors blob. Offsets, names and dtypes are
// validated up front, and the data checksum is verified when the metadata carries one.
func NewSafeTensorsReader(blob []byte) (*SafeTensorsReader, error) {
	if len(blob) < 8 {
		return nil, fmt.Errorf("failed to read header size: blob has %d bytes", len(blob))
	}

	headerSize := binary.LittleEndian.Uint64(blob[:8])
	if headerSize > serialization.MaxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", serialization.ErrHeaderTooLarge, headerSize)
	}
	if headerSize > uint64(len(blob)-8) {
		return nil, fmt.Errorf("failed to read header: need %d bytes, have %d", headerSize, len(blob)-8)
	}

	var header SafeTensorsHeader
	if err := json.Unmarshal(blob[8:8+headerSize], &header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	r := &SafeTensorsReader{
		header: header,
		data:   blob[8+headerSize:],
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SafeTensorsReader) validate() error {
	metas := make([]serialization.TensorMeta, 0, len(r.header.Tensors))
	for name, info := range r.header.Tensors {
		if err := serialization.ValidateTensorName(name); err != nil {
			return err
		}

		dtype, ok := serialization.ParseDType(info.DType)
		if !ok {
			return fmt.Errorf("tensor %s: %w: %s", name, serialization.ErrUnsupportedDType, info.DType)
		}
		if err := tensor.Shape(info.Shape).Validate(); err != nil {
			return fmt.Errorf("invalid shape for tensor %s: %w", name, err)
		}

		size := info.DataOffsets[1] - info.DataOffsets[0]
		want := int64(tensor.Shape(info.Shape).NumElements() * dtype.Size())
		if size != want && size >= 0 {
			return fmt.Errorf("tensor %s: data is %d bytes, shape %v needs %d", name, size, info.Shape, want)
		}

		metas = append(metas, serialization.TensorMeta{
			Name:   name,
			DType:  dtype,
			Shape:  info.Shape,
			Offset: info.DataOffsets[0],
			Size:   size,
		})
	}

	if err := serialization.ValidateTensorOffsets(metas, int64(len(r.data))); err != nil {
		return err
	}

	if sum, ok := r.header.Metadata[serialization.MetadataChecksumKey]; ok {
		if err := serialization.ValidateChecksum(r.data, sum); err != nil {
			return err
		}
	}
	return nil
}

// Metadata returns the metadata map from the header.
func (r *SafeTensorsReader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns all tensor names in alphabetical order.
func (r *SafeTensorsReader) TensorNames() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TensorInfo returns information about a specific tensor.
func (r *SafeTensorsReader) TensorInfo(name string) (*SafeTensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor %s not found", name)
	}
	return &info, nil
}

// ReadTensorData returns the raw bytes of a tensor.
func (r *SafeTensorsReader) ReadTensorData(name string) ([]byte, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	return r.data[info.DataOffsets[0]:info.DataOffsets[1]], nil
}

// Float32 decodes an F32 tensor into a new slice.
func (r *SafeTensorsReader) Float32(name string) ([]float32, tensor.Shape, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, nil, err
	}
	if info.DType != "F32" {
		return nil, nil, fmt.Errorf("tensor %s: %w: %s (want F32)", name, serialization.ErrUnsupportedDType, info.DType)
	}

	raw, err := r.ReadTensorData(name)
	if err != nil {
		return nil, nil, err
	}

	values := make([]float32, len(raw)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return values, tensor.Shape(info.Shape).Clone(), nil
}
