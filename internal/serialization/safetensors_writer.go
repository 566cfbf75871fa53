package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/born-ml/swiglu/internal/tensor"
)

// SafeTensorHeader represents a tensor in the SafeTensors header.
type SafeTensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// WriteSafeTensors writes tensors to w in SafeTensors format.
//
// Tensors are written in alphabetical order by name. The SHA-256 of the data
// section is added to the metadata under MetadataChecksumKey.
func WriteSafeTensors(w io.Writer, tensors map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)

	var (
		data   bytes.Buffer
		offset int64
	)
	for _, name := range names {
		raw := tensors[name]
		dtype, ok := DTypeName(raw.DType())
		if !ok {
			return fmt.Errorf("tensor %s: %w: %s", name, ErrUnsupportedDType, raw.DType())
		}

		shape := make([]int64, len(raw.Shape()))
		for i, dim := range raw.Shape() {
			shape[i] = int64(dim)
		}

		size := int64(raw.ByteSize())
		header[name] = SafeTensorHeader{
			DType:       dtype,
			Shape:       shape,
			DataOffsets: [2]int64{offset, offset + size},
		}
		data.Write(raw.Data())
		offset += size
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	sum := ComputeChecksum(data.Bytes())
	meta[MetadataChecksumKey] = hex.EncodeToString(sum[:])
	header["__metadata__"] = meta

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if len(headerJSON) > MaxHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, len(headerJSON))
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := data.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	return nil
}
