package motion

import (
	"fmt"

	"github.com/teslashibe/go-arx5/pkg/arm"
)

// Mode names an operating mode of the arm.
type Mode string

const (
	// ModeDamping has zero stiffness and the default damping.
	ModeDamping Mode = "damping"
	// ModeGravityCompensation lets the arm be moved by hand.
	ModeGravityCompensation Mode = "gravity_compensation"
	// ModePosition tracks joint commands with reduced stiffness.
	ModePosition Mode = "position"
)

// ParseMode accepts a mode name, with "gravcomp" as a short form.
func ParseMode(name string) (Mode, error) {
	switch Mode(name) {
	case ModeDamping, ModeGravityCompensation, ModePosition:
		return Mode(name), nil
	case "gravcomp":
		return ModeGravityCompensation, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, name)
}

// Wrist joints get stiffer and less damped in inference mode so policy
// actions are followed closely.
const (
	inferenceJoints  = 3
	inferenceKpScale = 1.5
	inferenceKdScale = 0.5
)

// DampingGain returns kp 0 with the default damping.
func DampingGain(cfg arm.ControllerConfig) arm.Gain {
	g := cfg.DefaultGain()
	for i := range g.Kp {
		g.Kp[i] = 0
	}
	g.GripperKp = 0
	return g
}

// GravityCompensationGain returns kp 0 and a tenth of the default damping,
// gripper included.
func GravityCompensationGain(cfg arm.ControllerConfig) arm.Gain {
	g := cfg.DefaultGain().Scale(0, 0.1)
	g.GripperKp = 0
	g.GripperKd = cfg.DefaultGripperKd * 0.1
	return g
}

// PositionControlGain returns 0.4x the default stiffness and 1.2x the
// default damping. With inference set the last three joints are boosted.
// The gripper keeps its defaults.
func PositionControlGain(cfg arm.ControllerConfig, inference bool) arm.Gain {
	g := cfg.DefaultGain().Scale(0.4, 1.2)
	if inference {
		n := len(g.Kp)
		for i := max(0, n-inferenceJoints); i < n; i++ {
			g.Kp[i] *= inferenceKpScale
			g.Kd[i] *= inferenceKdScale
		}
	}
	g.GripperKp = cfg.DefaultGripperKp
	g.GripperKd = cfg.DefaultGripperKd
	return g
}

// GainFor returns the gain of mode.
func GainFor(mode Mode, cfg arm.ControllerConfig, inference bool) (arm.Gain, error) {
	switch mode {
	case ModeDamping:
		return DampingGain(cfg), nil
	case ModeGravityCompensation:
		return GravityCompensationGain(cfg), nil
	case ModePosition:
		return PositionControlGain(cfg, inference), nil
	}
	return arm.Gain{}, fmt.Errorf("%w: %q", ErrUnknownMode, string(mode))
}

// SetMode switches c into mode. Entering position control first holds
// the measured pose so the gain guard sees no tracking error.
func SetMode(c Commander, mode Mode, inference bool) error {
	g, err := GainFor(mode, c.ControllerConfig(), inference)
	if err != nil {
		return err
	}
	if mode == ModePosition {
		if err := c.SetJointCommand(positionsOnly(c.JointState())); err != nil {
			return fmt.Errorf("hold current pose: %w", err)
		}
	}
	return c.SetGain(g)
}
