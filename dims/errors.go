package dims

import "errors"

// Failure classes shared across the library.  Call sites wrap these with
// context naming the offending axis, index, or range so errors.Is works.
var (
	// ErrInvalidDimensionOrdering means an axis-order string is malformed,
	// contains duplicates or unknown letters, or would drop a non-trivial axis.
	ErrInvalidDimensionOrdering = errors.New("invalid dimension ordering")

	// ErrUnexpectedShape means an array's rank or extents disagree with the
	// axis-order string supplied for it.
	ErrUnexpectedShape = errors.New("unexpected shape")

	// ErrConflictingArguments means mutually exclusive request parameters were
	// combined, e.g. a fixed index and a range on the same axis.
	ErrConflictingArguments = errors.New("conflicting arguments")

	// ErrOutOfBounds means a scene, tile, chunk, or axis selector is outside
	// the valid range.  Requests are never silently clamped.
	ErrOutOfBounds = errors.New("out of bounds")
)
