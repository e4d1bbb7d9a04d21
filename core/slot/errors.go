package slot

import "errors"

// Error kinds returned by the slot layer and by every engine built on it.
// They are always wrapped with context; match them with errors.Is.
var (
	// ErrShapeMismatch reports a vector, tensor or shard count that does not
	// fit the expected slot width or channel geometry.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrInsufficientDepth reports a multiplication or polynomial evaluation
	// that would exhaust the depth budget of a shard.
	ErrInsufficientDepth = errors.New("insufficient depth")
	// ErrUnsupportedLayout reports a spatial size or shard count the packing
	// arithmetic cannot handle.
	ErrUnsupportedLayout = errors.New("unsupported layout")
	// ErrInvalidPermutation reports a channel permutation of the wrong length
	// or one that is not a bijection.
	ErrInvalidPermutation = errors.New("invalid permutation")
	// ErrInvalidArgument reports an unknown function name, a polynomial
	// degree out of range, a bad kernel or an operand of the wrong type.
	ErrInvalidArgument = errors.New("invalid argument")
)
