// Package safety bounds outgoing commands and watches incoming feedback.
package safety

import (
	"fmt"

	"github.com/teslashibe/go-arx5/pkg/arm"
)

// GripperJoint is the joint index reported for gripper violations.
const GripperJoint = -1

// ViolationKind names the bound a command crossed.
type ViolationKind int

const (
	PositionLimit ViolationKind = iota
	RateLimit
	VelocityLimit
	TorqueLimit
)

func (k ViolationKind) String() string {
	switch k {
	case PositionLimit:
		return "position"
	case RateLimit:
		return "rate"
	case VelocityLimit:
		return "velocity"
	case TorqueLimit:
		return "torque"
	default:
		return fmt.Sprintf("ViolationKind(%d)", int(k))
	}
}

// Violation records one clamped value.
type Violation struct {
	Joint     int
	Kind      ViolationKind
	Requested float64
	Applied   float64
}

func (v Violation) String() string {
	joint := fmt.Sprintf("joint %d", v.Joint)
	if v.Joint == GripperJoint {
		joint = "gripper"
	}
	return fmt.Sprintf("%s %s limit: requested %.4f, applied %.4f", joint, v.Kind, v.Requested, v.Applied)
}

// Limiter clamps each cycle's command against the robot limits.
type Limiter struct {
	robot *arm.RobotConfig
	dt    float64
}

// NewLimiter returns a limiter for one control period dt.
func NewLimiter(robot *arm.RobotConfig, dt float64) *Limiter {
	return &Limiter{robot: robot, dt: dt}
}

// Limit bounds raw per joint: position clamp, then a rate limit relative
// to prev of vel_max*dt, then a torque clamp. gravity, when non-nil, is
// added to the torque before clamping. The cycle never aborts; every
// clamped value is reported.
func (l *Limiter) Limit(raw, prev arm.JointState, gravity []float64) (arm.JointState, []Violation) {
	out := raw.Clone()
	var violations []Violation
	note := func(joint int, kind ViolationKind, req, applied float64) float64 {
		if req != applied {
			violations = append(violations, Violation{Joint: joint, Kind: kind, Requested: req, Applied: applied})
		}
		return applied
	}
	havePrev := prev.DOF() == out.DOF()

	for j, lim := range l.robot.Joints {
		pos := note(j, PositionLimit, out.Pos[j], clamp(out.Pos[j], lim.PosMin, lim.PosMax))
		if havePrev {
			pos = note(j, RateLimit, pos, step(prev.Pos[j], pos, lim.VelMax*l.dt))
		}
		out.Pos[j] = pos
		out.Vel[j] = note(j, VelocityLimit, out.Vel[j], clamp(out.Vel[j], -lim.VelMax, lim.VelMax))

		tau := out.Torque[j]
		if j < len(gravity) {
			tau += gravity[j]
		}
		out.Torque[j] = note(j, TorqueLimit, tau, clamp(tau, -lim.TorqueMax, lim.TorqueMax))
	}

	if l.robot.HasGripper() {
		g := GripperJoint
		pos := note(g, PositionLimit, out.GripperPos, clamp(out.GripperPos, 0, l.robot.GripperWidth))
		if havePrev {
			pos = note(g, RateLimit, pos, step(prev.GripperPos, pos, l.robot.GripperVelMax*l.dt))
		}
		out.GripperPos = pos
		out.GripperVel = note(g, VelocityLimit, out.GripperVel, clamp(out.GripperVel, -l.robot.GripperVelMax, l.robot.GripperVelMax))
		out.GripperTorque = note(g, TorqueLimit, out.GripperTorque,
			clamp(out.GripperTorque, -l.robot.GripperTorqueMax, l.robot.GripperTorqueMax))
	}
	return out, violations
}

// step moves from toward to by at most maxStep.
func step(from, to, maxStep float64) float64 {
	d := to - from
	if d > maxStep {
		return from + maxStep
	}
	if d < -maxStep {
		return from - maxStep
	}
	return to
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
