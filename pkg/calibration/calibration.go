// Package calibration maps joint positions to and from the normalized
// action space used by teleoperation and learned policies: joints span
// [-100, 100] and the gripper [0, 100] across their recorded ranges.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/teslashibe/go-arx5/pkg/arm"
)

var (
	ErrInvalid      = errors.New("calibration: invalid")
	ErrMissingJoint = errors.New("calibration: missing joint")
)

const gripperKey = "gripper"

// Range is the recorded travel of one joint, in radians (meters for the
// gripper).
type Range struct {
	Min float64 `json:"range_min"`
	Max float64 `json:"range_max"`
}

// Span returns Max - Min.
func (r Range) Span() float64 {
	return r.Max - r.Min
}

// Calibration holds one Range per joint plus the gripper.
type Calibration struct {
	Joints  []Range
	Gripper Range
}

// jointKey names joint i the way calibration files do, starting at joint_1.
func jointKey(i int) string {
	return "joint_" + strconv.Itoa(i+1)
}

// MarshalJSON writes the keyed file format.
func (c Calibration) MarshalJSON() ([]byte, error) {
	m := make(map[string]Range, len(c.Joints)+1)
	for i, r := range c.Joints {
		m[jointKey(i)] = r
	}
	m[gripperKey] = c.Gripper
	return json.Marshal(m)
}

// UnmarshalJSON reads the keyed file format. Joint keys must be dense.
func (c *Calibration) UnmarshalJSON(data []byte) error {
	var m map[string]Range
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	g, ok := m[gripperKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingJoint, gripperKey)
	}
	delete(m, gripperKey)

	idx := make([]int, 0, len(m))
	for k := range m {
		n, err := strconv.Atoi(strings.TrimPrefix(k, "joint_"))
		if err != nil || !strings.HasPrefix(k, "joint_") || n < 1 {
			return fmt.Errorf("%w: unexpected key %q", ErrInvalid, k)
		}
		idx = append(idx, n-1)
	}
	sort.Ints(idx)
	joints := make([]Range, len(idx))
	for i, n := range idx {
		if n != i {
			return fmt.Errorf("%w: %s", ErrMissingJoint, jointKey(i))
		}
		joints[i] = m[jointKey(i)]
	}
	c.Joints, c.Gripper = joints, g
	return nil
}

// Validate checks every range is finite with Max > Min.
func (c *Calibration) Validate(dof int) error {
	if len(c.Joints) != dof {
		return fmt.Errorf("%w: %d joints, want %d", ErrInvalid, len(c.Joints), dof)
	}
	all := append(append([]Range(nil), c.Joints...), c.Gripper)
	for i, r := range all {
		name := gripperKey
		if i < dof {
			name = jointKey(i)
		}
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
			return fmt.Errorf("%w: %s range not finite", ErrInvalid, name)
		}
		if r.Max <= r.Min {
			return fmt.Errorf("%w: %s range_max %.4f <= range_min %.4f", ErrInvalid, name, r.Max, r.Min)
		}
	}
	return nil
}

// FromRobot builds a calibration spanning the configured joint limits.
func FromRobot(robot *arm.RobotConfig) Calibration {
	c := Calibration{Joints: make([]Range, robot.DOF())}
	for i, j := range robot.Joints {
		c.Joints[i] = Range{Min: j.PosMin, Max: j.PosMax}
	}
	c.Gripper = Range{Min: 0, Max: robot.GripperWidth}
	return c
}

// Load reads and validates a calibration file for an arm with dof joints.
func Load(path string, dof int) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Calibration{}, fmt.Errorf("read calibration file: %w", err)
	}
	var c Calibration
	if err := json.Unmarshal(data, &c); err != nil {
		return Calibration{}, fmt.Errorf("parse calibration file: %w", err)
	}
	if err := c.Validate(dof); err != nil {
		return Calibration{}, err
	}
	return c, nil
}

// Save writes c as indented JSON.
func Save(path string, c Calibration) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal calibration: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write calibration file: %w", err)
	}
	return nil
}

// Unnormalize maps joints from [-100, 100] and the gripper from [0, 100]
// to positions. Values outside those bands extrapolate; the controller's
// limiter clamps them.
func (c *Calibration) Unnormalize(joints []float64, gripper float64) (arm.JointState, error) {
	if len(joints) != len(c.Joints) {
		return arm.JointState{}, fmt.Errorf("%w: want %d joints, got %d", arm.ErrDOFMismatch, len(c.Joints), len(joints))
	}
	s := arm.NewJointState(len(joints))
	for i, v := range joints {
		r := c.Joints[i]
		s.Pos[i] = r.Min + (v+100)/200*r.Span()
	}
	s.GripperPos = c.Gripper.Min + gripper/100*c.Gripper.Span()
	return s, nil
}

// Normalize is the inverse of Unnormalize.
func (c *Calibration) Normalize(s arm.JointState) ([]float64, float64, error) {
	if s.DOF() != len(c.Joints) {
		return nil, 0, fmt.Errorf("%w: want %d joints, got %d", arm.ErrDOFMismatch, len(c.Joints), s.DOF())
	}
	out := make([]float64, s.DOF())
	for i, p := range s.Pos {
		r := c.Joints[i]
		out[i] = (p-r.Min)/r.Span()*200 - 100
	}
	gripper := (s.GripperPos - c.Gripper.Min) / c.Gripper.Span() * 100
	return out, gripper, nil
}
