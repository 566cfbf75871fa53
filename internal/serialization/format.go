package serialization

import (
	"github.com/born-ml/swiglu/internal/tensor"
)

// MetadataChecksumKey is the metadata entry holding the hex SHA-256 of the data section.
const MetadataChecksumKey = "sha256"

// TensorMeta describes where a tensor lives in the data section.
type TensorMeta struct {
	Name   string
	DType  tensor.DataType
	Shape  []int
	Offset int64 // Relative to the start of the data section.
	Size   int64 // In bytes.
}

// DTypeName returns the SafeTensors name of a data type.
func DTypeName(dt tensor.DataType) (string, bool) {
	switch dt {
	case tensor.Float32:
		return "F32", true
	case tensor.Float16:
		return "F16", true
	case tensor.Int8:
		return "I8", true
	case tensor.Int32:
		return "I32", true
	default:
		return "", false
	}
}

// ParseDType converts a SafeTensors dtype name to a DataType.
func ParseDType(name string) (tensor.DataType, bool) {
	switch name {
	case "F32":
		return tensor.Float32, true
	case "F16":
		return tensor.Float16, true
	case "I8":
		return tensor.Int8, true
	case "I32":
		return tensor.Int32, true
	default:
		return 0, false
	}
}
