package safety

import (
	"errors"
	"fmt"
)

var (
	// ErrDangerousGain is returned when raising stiffness far from the
	// commanded pose would snap the arm.
	ErrDangerousGain = errors.New("safety: dangerous gain transition")

	// ErrNonFinite marks feedback containing NaN or Inf.
	ErrNonFinite = errors.New("safety: non-finite joint state")

	// ErrOutOfRange marks feedback outside the physically reachable range.
	ErrOutOfRange = errors.New("safety: joint state out of physical range")

	// ErrMissingFeedback marks a cycle without a complete set of replies.
	ErrMissingFeedback = errors.New("safety: missing motor feedback")

	// ErrOverCurrent is the emergency reason after sustained over-current.
	ErrOverCurrent = errors.New("safety: sustained over-current")

	// ErrTooManyFaults is the emergency reason after sustained feedback faults.
	ErrTooManyFaults = errors.New("safety: too many consecutive faults")
)

// GainTransitionError describes a rejected damping to position-control switch.
type GainTransitionError struct {
	MaxError  float64 // rad, measured vs commanded
	Threshold float64
	Kp        float64 // largest requested kp
}

func (e *GainTransitionError) Error() string {
	return fmt.Sprintf("safety: refusing kp %.2f with position error %.3f rad (threshold %.3f rad)",
		e.Kp, e.MaxError, e.Threshold)
}

func (e *GainTransitionError) Unwrap() error {
	return ErrDangerousGain
}
