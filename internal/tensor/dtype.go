// Package tensor provides the value types shared by the engine, the kernels and the loaders.
package tensor

// DataType represents runtime type information for tensor values.
type DataType int

// Data types a tensor value may declare. Only Float32 is executable;
// the others exist so definitions can be rejected with a precise status.
const (
	Float32 DataType = iota
	Float16
	Int8
	Int32
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float16:
		return 2
	case Int8:
		return 1
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int8:
		return "int8"
	case Int32:
		return "int32"
	default:
		return "unknown"
	}
}
