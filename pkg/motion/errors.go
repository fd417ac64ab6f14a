package motion

import "errors"

var (
	ErrUnknownEasing = errors.New("motion: unknown easing")
	ErrUnknownMode   = errors.New("motion: unknown mode")
	ErrEmptyMove     = errors.New("motion: no segments")
	ErrBadSegment    = errors.New("motion: invalid segment")
)
