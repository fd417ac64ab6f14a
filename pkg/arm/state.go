// Package arm holds the value types shared by every layer of the
// controller: joint states, gains and the static robot and controller
// configuration.
package arm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// JointState is a snapshot of every joint plus the gripper.
// Timestamp is in seconds on the controller clock; zero means unset.
// Values are never mutated after they are published; use Clone.
type JointState struct {
	Timestamp float64   `json:"timestamp"`
	Pos       []float64 `json:"pos"`
	Vel       []float64 `json:"vel"`
	Torque    []float64 `json:"torque"`

	GripperPos    float64 `json:"gripper_pos"`
	GripperVel    float64 `json:"gripper_vel"`
	GripperTorque float64 `json:"gripper_torque"`
}

// NewJointState returns a zero state for dof joints.
func NewJointState(dof int) JointState {
	return JointState{
		Pos:    make([]float64, dof),
		Vel:    make([]float64, dof),
		Torque: make([]float64, dof),
	}
}

// DOF returns the number of joints.
func (s JointState) DOF() int {
	return len(s.Pos)
}

// Clone returns a deep copy.
func (s JointState) Clone() JointState {
	out := s
	out.Pos = append([]float64(nil), s.Pos...)
	out.Vel = append([]float64(nil), s.Vel...)
	out.Torque = append([]float64(nil), s.Torque...)
	return out
}

// CheckDOF verifies that every vector has dof entries.
func (s JointState) CheckDOF(dof int) error {
	if len(s.Pos) != dof || len(s.Vel) != dof || len(s.Torque) != dof {
		return fmt.Errorf("%w: want %d, got pos=%d vel=%d torque=%d",
			ErrDOFMismatch, dof, len(s.Pos), len(s.Vel), len(s.Torque))
	}
	return nil
}

// IsFinite reports whether every scalar is neither NaN nor infinite.
func (s JointState) IsFinite() bool {
	for _, v := range [][]float64{s.Pos, s.Vel, s.Torque} {
		for _, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	for _, x := range []float64{s.GripperPos, s.GripperVel, s.GripperTorque, s.Timestamp} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Sub returns s - o element-wise. The timestamp is taken from s.
func (s JointState) Sub(o JointState) JointState {
	out := NewJointState(s.DOF())
	out.Timestamp = s.Timestamp
	floats.SubTo(out.Pos, s.Pos, o.Pos)
	floats.SubTo(out.Vel, s.Vel, o.Vel)
	floats.SubTo(out.Torque, s.Torque, o.Torque)
	out.GripperPos = s.GripperPos - o.GripperPos
	out.GripperVel = s.GripperVel - o.GripperVel
	out.GripperTorque = s.GripperTorque - o.GripperTorque
	return out
}

// Blend returns a + alpha*(b-a) for every field, timestamp included.
func Blend(a, b JointState, alpha float64) JointState {
	d := b.Sub(a)
	out := NewJointState(a.DOF())
	floats.AddScaledTo(out.Pos, a.Pos, alpha, d.Pos)
	floats.AddScaledTo(out.Vel, a.Vel, alpha, d.Vel)
	floats.AddScaledTo(out.Torque, a.Torque, alpha, d.Torque)
	out.GripperPos = a.GripperPos + alpha*d.GripperPos
	out.GripperVel = a.GripperVel + alpha*d.GripperVel
	out.GripperTorque = a.GripperTorque + alpha*d.GripperTorque
	out.Timestamp = a.Timestamp + alpha*(b.Timestamp-a.Timestamp)
	return out
}

// MaxPosError returns the largest absolute joint position difference.
func (s JointState) MaxPosError(o JointState) float64 {
	if s.DOF() == 0 || s.DOF() != o.DOF() {
		return 0
	}
	return floats.Distance(s.Pos, o.Pos, math.Inf(1))
}
