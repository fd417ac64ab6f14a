package trajectory

import "errors"

var (
	// ErrWaypointOrder is returned when an appended waypoint is not
	// strictly later than the last one.
	ErrWaypointOrder = errors.New("trajectory: waypoint timestamp must be after the last waypoint")

	// ErrTimestampInPast is returned when a target lies before the current time.
	ErrTimestampInPast = errors.New("trajectory: target timestamp is in the past")

	// ErrTrajectoryFull is returned when an append would exceed the waypoint cap.
	ErrTrajectoryFull = errors.New("trajectory: too many waypoints")

	// ErrDOFMismatch is returned when a state does not match the interpolator.
	ErrDOFMismatch = errors.New("trajectory: dof mismatch")
)
