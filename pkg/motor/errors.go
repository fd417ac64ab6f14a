package motor

import "errors"

var (
	// ErrUnknownType is returned when a motor type string is not recognised.
	ErrUnknownType = errors.New("motor: unknown motor type")

	// ErrFrameLength is returned when a frame payload is not 8 bytes.
	ErrFrameLength = errors.New("motor: frame payload must be 8 bytes")

	// ErrNoMotor is returned when a codec is requested for TypeNone.
	ErrNoMotor = errors.New("motor: no motor configured")
)
