package arm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Gain is the per-joint stiffness and damping sent with every command.
type Gain struct {
	Kp        []float64 `json:"kp"`
	Kd        []float64 `json:"kd"`
	GripperKp float64   `json:"gripper_kp"`
	GripperKd float64   `json:"gripper_kd"`
}

// NewGain returns an all-zero gain.
func NewGain(dof int) Gain {
	return Gain{Kp: make([]float64, dof), Kd: make([]float64, dof)}
}

// Clone returns a deep copy.
func (g Gain) Clone() Gain {
	out := g
	out.Kp = append([]float64(nil), g.Kp...)
	out.Kd = append([]float64(nil), g.Kd...)
	return out
}

// DOF returns the number of joints.
func (g Gain) DOF() int {
	return len(g.Kp)
}

// IsDamping reports whether every joint kp is zero.
func (g Gain) IsDamping() bool {
	for _, kp := range g.Kp {
		if kp != 0 {
			return false
		}
	}
	return true
}

// MaxKp returns the largest joint kp, or 0 for an empty gain.
func (g Gain) MaxKp() float64 {
	if len(g.Kp) == 0 {
		return 0
	}
	return floats.Max(g.Kp)
}

// Validate checks lengths and that every coefficient is finite and non-negative.
func (g Gain) Validate(dof int) error {
	if len(g.Kp) != dof || len(g.Kd) != dof {
		return fmt.Errorf("%w: gain want %d, got kp=%d kd=%d", ErrDOFMismatch, dof, len(g.Kp), len(g.Kd))
	}
	all := append(append([]float64{g.GripperKp, g.GripperKd}, g.Kp...), g.Kd...)
	for _, v := range all {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("arm: gain coefficient %v must be finite and non-negative", v)
		}
	}
	return nil
}

// BlendGain returns a + alpha*(b-a).
func BlendGain(a, b Gain, alpha float64) Gain {
	out := NewGain(a.DOF())
	for i := range out.Kp {
		out.Kp[i] = a.Kp[i] + alpha*(b.Kp[i]-a.Kp[i])
		out.Kd[i] = a.Kd[i] + alpha*(b.Kd[i]-a.Kd[i])
	}
	out.GripperKp = a.GripperKp + alpha*(b.GripperKp-a.GripperKp)
	out.GripperKd = a.GripperKd + alpha*(b.GripperKd-a.GripperKd)
	return out
}

// Scale returns the gain with every kp multiplied by kpScale and every kd
// by kdScale, gripper included.
func (g Gain) Scale(kpScale, kdScale float64) Gain {
	out := g.Clone()
	floats.Scale(kpScale, out.Kp)
	floats.Scale(kdScale, out.Kd)
	out.GripperKp *= kpScale
	out.GripperKd *= kdScale
	return out
}
