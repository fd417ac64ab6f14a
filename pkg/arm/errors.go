package arm

import "errors"

var (
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("arm: invalid configuration")

	// ErrDOFMismatch is returned when a vector length differs from the joint count.
	ErrDOFMismatch = errors.New("arm: dof mismatch")
)
