package safety

import "github.com/teslashibe/go-arx5/pkg/arm"

// GuardConfig bounds the damping to position-control switch.
type GuardConfig struct {
	Threshold float64 // rad
	MinKp     float64
}

// CheckGainTransition rejects switching from an all-zero kp to a kp above
// MinKp while the measured pose is more than Threshold from the commanded
// pose. Any other transition passes.
func CheckGainTransition(current, next arm.Gain, measured, commanded arm.JointState, cfg GuardConfig) error {
	if !current.IsDamping() || next.IsDamping() {
		return nil
	}
	kp := next.MaxKp()
	if kp <= cfg.MinKp {
		return nil
	}
	maxErr := measured.MaxPosError(commanded)
	if maxErr <= cfg.Threshold {
		return nil
	}
	return &GainTransitionError{MaxError: maxErr, Threshold: cfg.Threshold, Kp: kp}
}
