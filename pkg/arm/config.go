package arm

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-arx5/pkg/motor"
)

// JointLimit bounds one joint.
type JointLimit struct {
	PosMin    float64 `yaml:"pos_min" json:"pos_min"`
	PosMax    float64 `yaml:"pos_max" json:"pos_max"`
	VelMax    float64 `yaml:"vel_max" json:"vel_max"`
	TorqueMax float64 `yaml:"torque_max" json:"torque_max"`
}

// RobotConfig is the static description of one arm. It is validated once
// and shared read-only afterwards.
type RobotConfig struct {
	Model  string       `yaml:"model" json:"model"`
	Joints []JointLimit `yaml:"joints" json:"joints"`

	MotorIDs   []uint32     `yaml:"motor_ids" json:"motor_ids"`
	MotorTypes []motor.Type `yaml:"motor_types" json:"motor_types"`

	GripperMotorID     uint32     `yaml:"gripper_motor_id" json:"gripper_motor_id"`
	GripperMotorType   motor.Type `yaml:"gripper_motor_type" json:"gripper_motor_type"`
	GripperWidth       float64    `yaml:"gripper_width" json:"gripper_width"`               // m, fully open
	GripperOpenReadout float64    `yaml:"gripper_open_readout" json:"gripper_open_readout"` // motor rad, fully open
	GripperVelMax      float64    `yaml:"gripper_vel_max" json:"gripper_vel_max"`           // m/s
	GripperTorqueMax   float64    `yaml:"gripper_torque_max" json:"gripper_torque_max"`

	Gravity  r3.Vector `yaml:"gravity" json:"gravity"`
	URDFPath string    `yaml:"urdf_path" json:"urdf_path"`
	BaseLink string    `yaml:"base_link" json:"base_link"`
	EEFLink  string    `yaml:"eef_link" json:"eef_link"`
}

// DOF returns the number of arm joints, gripper excluded.
func (c *RobotConfig) DOF() int {
	return len(c.Joints)
}

// HasGripper reports whether a gripper motor is configured.
func (c *RobotConfig) HasGripper() bool {
	return c.GripperMotorType != "" && c.GripperMotorType != motor.TypeNone
}

// GripperToMotor converts a gripper width in meters to motor radians.
func (c *RobotConfig) GripperToMotor(width float64) float64 {
	return width / c.GripperWidth * c.GripperOpenReadout
}

// MotorToGripper converts motor radians to a gripper width in meters.
func (c *RobotConfig) MotorToGripper(pos float64) float64 {
	return pos / c.GripperOpenReadout * c.GripperWidth
}

// HomeState is the all-zero pose with the gripper closed.
func (c *RobotConfig) HomeState() JointState {
	return NewJointState(c.DOF())
}

// tripFraction of the wire maximum is where a torque reading counts as
// saturated.
const tripFraction = 0.99

// TorqueTripLimits returns the over-current thresholds for each joint and
// the gripper. A TorqueMax the motor cannot report is lowered to just
// under the wire maximum so saturated feedback still counts as over.
func (c *RobotConfig) TorqueTripLimits() (joints []float64, gripper float64) {
	joints = make([]float64, len(c.Joints))
	for i, l := range c.Joints {
		joints[i] = l.TorqueMax
		if i < len(c.MotorTypes) {
			joints[i] = tripLimit(c.MotorTypes[i], l.TorqueMax)
		}
	}
	return joints, tripLimit(c.GripperMotorType, c.GripperTorqueMax)
}

func tripLimit(t motor.Type, max float64) float64 {
	p, err := motor.ParamsFor(t)
	if err != nil {
		return max
	}
	return math.Min(max, p.TorqueRange().Max*tripFraction)
}

// Validate reports the first malformed limit or motor table entry.
func (c *RobotConfig) Validate() error {
	dof := c.DOF()
	if dof == 0 {
		return fmt.Errorf("%w: no joints", ErrInvalidConfig)
	}
	if len(c.MotorIDs) != dof || len(c.MotorTypes) != dof {
		return fmt.Errorf("%w: %d joints but %d motor ids and %d motor types",
			ErrInvalidConfig, dof, len(c.MotorIDs), len(c.MotorTypes))
	}
	for i, l := range c.Joints {
		if !finite(l.PosMin, l.PosMax, l.VelMax, l.TorqueMax) {
			return fmt.Errorf("%w: joint %d has non-finite limits", ErrInvalidConfig, i)
		}
		if l.PosMin >= l.PosMax {
			return fmt.Errorf("%w: joint %d pos_min %v >= pos_max %v", ErrInvalidConfig, i, l.PosMin, l.PosMax)
		}
		if l.VelMax <= 0 || l.TorqueMax <= 0 {
			return fmt.Errorf("%w: joint %d vel_max and torque_max must be positive", ErrInvalidConfig, i)
		}
	}
	seen := make(map[uint32]bool, dof+1)
	for i, id := range c.MotorIDs {
		t := c.MotorTypes[i]
		if t == motor.TypeNone || !t.Valid() {
			return fmt.Errorf("%w: joint %d motor type %q", ErrInvalidConfig, i, string(t))
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate motor id %d", ErrInvalidConfig, id)
		}
		seen[id] = true
	}
	if c.HasGripper() {
		if !c.GripperMotorType.Valid() {
			return fmt.Errorf("%w: gripper motor type %q", ErrInvalidConfig, string(c.GripperMotorType))
		}
		if seen[c.GripperMotorID] {
			return fmt.Errorf("%w: gripper motor id %d already used by a joint", ErrInvalidConfig, c.GripperMotorID)
		}
		if c.GripperWidth <= 0 || c.GripperOpenReadout == 0 {
			return fmt.Errorf("%w: gripper geometry must be non-zero", ErrInvalidConfig)
		}
		if c.GripperVelMax <= 0 || c.GripperTorqueMax <= 0 {
			return fmt.Errorf("%w: gripper vel_max and torque_max must be positive", ErrInvalidConfig)
		}
	}
	if !finite(c.Gravity.X, c.Gravity.Y, c.Gravity.Z) {
		return fmt.Errorf("%w: gravity vector is not finite", ErrInvalidConfig)
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

var (
	x5PosMin    = []float64{-3.14, -0.05, -0.1, -1.6, -1.57, -2}
	x5PosMax    = []float64{2.618, 3.5, 3.2, 1.55, 1.57, 2}
	x5VelMax    = []float64{5.0, 5.0, 5.5, 5.5, 5.0, 5.0}
	// The DM_J4310 wrist reports at most 10 Nm, so joint 3 trips on
	// saturation rather than at 15.
	x5TorqueMax = []float64{30, 40, 30, 15, 10, 10}
)

func x5Joints() []JointLimit {
	joints := make([]JointLimit, len(x5PosMin))
	for i := range joints {
		joints[i] = JointLimit{
			PosMin:    x5PosMin[i],
			PosMax:    x5PosMax[i],
			VelMax:    x5VelMax[i],
			TorqueMax: x5TorqueMax[i],
		}
	}
	return joints
}

// X5Config returns the ARX X5 arm: EC shoulder and elbow, DM wrist.
func X5Config() RobotConfig {
	return RobotConfig{
		Model:              "X5",
		Joints:             x5Joints(),
		MotorIDs:           []uint32{1, 2, 4, 5, 6, 7},
		MotorTypes:         []motor.Type{motor.TypeECA4310, motor.TypeECA4310, motor.TypeECA4310, motor.TypeDMJ4310, motor.TypeDMJ4310, motor.TypeDMJ4310},
		GripperMotorID:     8,
		GripperMotorType:   motor.TypeDMJ4310,
		GripperWidth:       0.088,
		GripperOpenReadout: 4.8,
		GripperVelMax:      0.3,
		GripperTorqueMax:   1.5,
		Gravity:            r3.Vector{X: 0, Y: 0, Z: -9.807},
		URDFPath:           "models/X5.urdf",
		BaseLink:           "base_link",
		EEFLink:            "eef_link",
	}
}

// L5Config returns the ARX L5 arm, which swaps the EC joints for DM J4340s.
func L5Config() RobotConfig {
	c := X5Config()
	c.Model = "L5"
	c.MotorTypes = []motor.Type{motor.TypeDMJ4340, motor.TypeDMJ4340, motor.TypeDMJ4340, motor.TypeDMJ4310, motor.TypeDMJ4310, motor.TypeDMJ4310}
	c.URDFPath = "models/L5.urdf"
	return c
}

// RobotConfigFor returns the preset for a model name.
func RobotConfigFor(model string) (RobotConfig, error) {
	switch model {
	case "X5", "x5":
		return X5Config(), nil
	case "L5", "l5":
		return L5Config(), nil
	default:
		return RobotConfig{}, fmt.Errorf("%w: unknown model %q", ErrInvalidConfig, model)
	}
}

// InterpolationMethod selects how the trajectory is sampled between waypoints.
type InterpolationMethod string

const (
	InterpolationLinear InterpolationMethod = "linear"
	InterpolationCubic  InterpolationMethod = "cubic"
)

// WaypointPolicy selects how a new target joins the current trajectory.
type WaypointPolicy string

const (
	PolicyOverride WaypointPolicy = "override"
	PolicyAppend   WaypointPolicy = "append"
)

// ControllerConfig tunes the control loop. Durations in seconds are
// float64 to match the controller clock.
type ControllerConfig struct {
	DT float64 `yaml:"dt" json:"dt"`

	DefaultKp        []float64 `yaml:"default_kp" json:"default_kp"`
	DefaultKd        []float64 `yaml:"default_kd" json:"default_kd"`
	DefaultGripperKp float64   `yaml:"default_gripper_kp" json:"default_gripper_kp"`
	DefaultGripperKd float64   `yaml:"default_gripper_kd" json:"default_gripper_kd"`

	OverCurrentCntMax int `yaml:"over_current_cnt_max" json:"over_current_cnt_max"`
	FaultCntMax       int `yaml:"fault_cnt_max" json:"fault_cnt_max"`

	GravityCompensation bool                `yaml:"gravity_compensation" json:"gravity_compensation"`
	Interpolation       InterpolationMethod `yaml:"interpolation" json:"interpolation"`
	WaypointPolicy      WaypointPolicy      `yaml:"waypoint_policy" json:"waypoint_policy"`
	DefaultPreviewTime  float64             `yaml:"default_preview_time" json:"default_preview_time"`
	MaxWaypoints        int                 `yaml:"max_waypoints" json:"max_waypoints"`

	GainGuardThreshold float64 `yaml:"gain_guard_threshold" json:"gain_guard_threshold"` // rad
	GainGuardMinKp     float64 `yaml:"gain_guard_min_kp" json:"gain_guard_min_kp"`
	HomingMinDuration  float64 `yaml:"homing_min_duration" json:"homing_min_duration"` // s

	InterFrameDelay  time.Duration `yaml:"inter_frame_delay" json:"inter_frame_delay"`
	RecvTimeout      time.Duration `yaml:"recv_timeout" json:"recv_timeout"`
	OverrunTolerance time.Duration `yaml:"overrun_tolerance" json:"overrun_tolerance"`

	ShutdownToPassive bool `yaml:"shutdown_to_passive" json:"shutdown_to_passive"`
	RTPriority        int  `yaml:"rt_priority" json:"rt_priority"` // 0 leaves the default scheduler
}

// DefaultControllerConfig returns the 500 Hz joint controller settings.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		DT:                  0.002,
		DefaultKp:           []float64{70, 70, 70, 30, 30, 20},
		DefaultKd:           []float64{2.0, 2.0, 2.0, 1.0, 1.0, 0.7},
		DefaultGripperKp:    30,
		DefaultGripperKd:    0.2,
		OverCurrentCntMax:   20,
		FaultCntMax:         50,
		GravityCompensation: false,
		Interpolation:       InterpolationLinear,
		WaypointPolicy:      PolicyOverride,
		DefaultPreviewTime:  0,
		MaxWaypoints:        16,
		GainGuardThreshold:  0.2,
		GainGuardMinKp:      1.0,
		HomingMinDuration:   0.5,
		InterFrameDelay:     50 * time.Microsecond,
		RecvTimeout:         time.Millisecond,
		OverrunTolerance:    500 * time.Microsecond,
		ShutdownToPassive:   true,
		RTPriority:          0,
	}
}

// Period returns DT as a time.Duration.
func (c *ControllerConfig) Period() time.Duration {
	return time.Duration(c.DT * float64(time.Second))
}

// DefaultGain builds a Gain from the configured defaults.
func (c *ControllerConfig) DefaultGain() Gain {
	return Gain{
		Kp:        append([]float64(nil), c.DefaultKp...),
		Kd:        append([]float64(nil), c.DefaultKd...),
		GripperKp: c.DefaultGripperKp,
		GripperKd: c.DefaultGripperKd,
	}
}

// Validate checks the config against an arm with dof joints.
func (c *ControllerConfig) Validate(dof int) error {
	if !(c.DT > 0) || math.IsInf(c.DT, 0) {
		return fmt.Errorf("%w: dt must be positive, got %v", ErrInvalidConfig, c.DT)
	}
	if err := c.DefaultGain().Validate(dof); err != nil {
		return fmt.Errorf("%w: default gain: %v", ErrInvalidConfig, err)
	}
	if c.OverCurrentCntMax <= 0 || c.FaultCntMax <= 0 {
		return fmt.Errorf("%w: fault thresholds must be positive", ErrInvalidConfig)
	}
	switch c.Interpolation {
	case InterpolationLinear, InterpolationCubic:
	default:
		return fmt.Errorf("%w: interpolation %q", ErrInvalidConfig, string(c.Interpolation))
	}
	switch c.WaypointPolicy {
	case PolicyOverride, PolicyAppend:
	default:
		return fmt.Errorf("%w: waypoint policy %q", ErrInvalidConfig, string(c.WaypointPolicy))
	}
	if c.DefaultPreviewTime < 0 || c.MaxWaypoints < 2 {
		return fmt.Errorf("%w: preview time must be >= 0 and max waypoints >= 2", ErrInvalidConfig)
	}
	if c.GainGuardThreshold <= 0 || c.GainGuardMinKp < 0 || c.HomingMinDuration <= 0 {
		return fmt.Errorf("%w: guard and homing settings must be positive", ErrInvalidConfig)
	}
	if c.InterFrameDelay < 0 || c.RecvTimeout <= 0 || c.OverrunTolerance < 0 {
		return fmt.Errorf("%w: bus timing must be non-negative", ErrInvalidConfig)
	}
	return nil
}
