// Package motion layers operating modes and timed joint moves on top of
// a running arm controller.
//
// A Player streams poses from a Move to the controller at a fixed rate,
// each stamped one period ahead so the controller's interpolator fills in
// between them. SmoothGo wraps the usual mode dance around a single move:
// hold the current pose, switch to position control, move, and optionally
// release back into gravity compensation.
package motion

import (
	"time"

	"github.com/teslashibe/go-arx5/pkg/arm"
)

// Commander is the part of a controller a Player drives.
// *controller.Controller satisfies it.
type Commander interface {
	Now() float64
	JointState() arm.JointState
	Gain() arm.Gain
	SetJointCommand(cmd arm.JointState) error
	SetGain(g arm.Gain) error
	ControllerConfig() arm.ControllerConfig
}

// Move provides joint poses over time.
type Move interface {
	// Name returns the move identifier (for logging).
	Name() string

	// Duration returns the total duration of the move.
	Duration() time.Duration

	// Evaluate returns the pose at time t since move start.
	Evaluate(t time.Duration) arm.JointState

	// IsComplete returns true when the move has finished.
	IsComplete(t time.Duration) bool
}

// positionsOnly keeps the pose of s and drops velocity and torque.
func positionsOnly(s arm.JointState) arm.JointState {
	out := arm.NewJointState(s.DOF())
	copy(out.Pos, s.Pos)
	out.GripperPos = s.GripperPos
	return out
}
