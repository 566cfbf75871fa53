package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrChecksumMismatch  = errors.New("checksum mismatch: file may be corrupted")
	ErrOffsetOverlap     = errors.New("tensor offsets overlap")
	ErrOutOfBounds       = errors.New("tensor extends beyond data section")
	ErrNegativeOffset    = errors.New("negative offset or size")
	ErrTooManyTensors    = errors.New("too many tensors in file")
	ErrInvalidTensorName = errors.New("invalid tensor name")
	ErrHeaderTooLarge    = errors.New("header exceeds maximum size")
	ErrUnsupportedDType  = errors.New("unsupported data type")
)

// ValidationError provides detailed information about validation failures.
type ValidationError struct {
	Type    string // Type of error (e.g., "offset_overlap", "out_of_bounds")
	Tensor  string // Primary tensor name involved
	Tensor2 string // Secondary tensor name (for overlap errors)
	Details string // Additional details
	Err     error  // Sentinel matching Type, for errors.Is.
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Tensor2 != "" {
		return fmt.Sprintf("%s: tensors %q and %q: %s", e.Type, e.Tensor, e.Tensor2, e.Details)
	}
	if e.Tensor != "" {
		return fmt.Sprintf("%s: tensor %q: %s", e.Type, e.Tensor, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}

// Unwrap returns the sentinel error for the validation failure.
func (e *ValidationError) Unwrap() error {
	return e.Err
}
