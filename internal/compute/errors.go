package compute

import "errors"

// Every message carries the "compute:" prefix. Callers match with errors.Is;
// the engine wraps these with fmt.Errorf("...: %w") to add context.
var (
	// ErrInvalidConfig is returned when Config fails validation or the engine
	// is constructed without a kernel.
	ErrInvalidConfig = errors.New("compute: invalid configuration")

	// ErrNilMatrix is returned when a nil input matrix is passed in.
	ErrNilMatrix = errors.New("compute: nil matrix")

	// ErrDimensionMismatch is returned when a kernel cannot produce an output
	// for the given input shape (e.g. MatMul with A.cols != B.rows).
	ErrDimensionMismatch = errors.New("compute: dimension mismatch")

	// ErrAllocation is returned when the output buffer cannot be allocated.
	ErrAllocation = errors.New("compute: output allocation failed")
)
