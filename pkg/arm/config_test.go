package arm

import (
	"errors"
	"math"
	"testing"

	"github.com/teslashibe/go-arx5/pkg/motor"
)

func TestPresetsValidate(t *testing.T) {
	for _, model := range []string{"X5", "L5"} {
		cfg, err := RobotConfigFor(model)
		if err != nil {
			t.Fatalf("RobotConfigFor(%s) error = %v", model, err)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("%s Validate() error = %v", model, err)
		}
		if cfg.DOF() != 6 {
			t.Errorf("%s DOF = %d, want 6", model, cfg.DOF())
		}
	}
	if _, err := RobotConfigFor("X7"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("unknown model error = %v", err)
	}
}

func TestRobotConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RobotConfig)
	}{
		{"no joints", func(c *RobotConfig) { c.Joints = nil }},
		{"short motor table", func(c *RobotConfig) { c.MotorIDs = c.MotorIDs[:3] }},
		{"inverted limits", func(c *RobotConfig) { c.Joints[1].PosMin = 4 }},
		{"zero velocity", func(c *RobotConfig) { c.Joints[2].VelMax = 0 }},
		{"duplicate ids", func(c *RobotConfig) { c.MotorIDs[1] = 1 }},
		{"unknown type", func(c *RobotConfig) { c.MotorTypes[0] = "FOO" }},
		{"none type on joint", func(c *RobotConfig) { c.MotorTypes[0] = motor.TypeNone }},
		{"gripper id clash", func(c *RobotConfig) { c.GripperMotorID = 7 }},
		{"zero gripper width", func(c *RobotConfig) { c.GripperWidth = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := X5Config()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestGripperlessConfig(t *testing.T) {
	cfg := X5Config()
	cfg.GripperMotorType = motor.TypeNone
	cfg.GripperWidth = 0
	if cfg.HasGripper() {
		t.Fatal("HasGripper() = true for TypeNone")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestGripperConversion(t *testing.T) {
	cfg := X5Config()
	if got := cfg.GripperToMotor(cfg.GripperWidth); !floatEquals(got, cfg.GripperOpenReadout) {
		t.Errorf("GripperToMotor(full) = %v, want %v", got, cfg.GripperOpenReadout)
	}
	if got := cfg.MotorToGripper(cfg.GripperToMotor(0.03)); !floatEquals(got, 0.03) {
		t.Errorf("round trip = %v, want 0.03", got)
	}
}

func TestControllerConfigValidate(t *testing.T) {
	cfg := DefaultControllerConfig()
	if err := cfg.Validate(6); err != nil {
		t.Fatalf("default Validate() error = %v", err)
	}
	if err := cfg.Validate(5); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Validate(5) error = %v, want ErrInvalidConfig", err)
	}

	tests := []struct {
		name   string
		mutate func(*ControllerConfig)
	}{
		{"zero dt", func(c *ControllerConfig) { c.DT = 0 }},
		{"negative kd", func(c *ControllerConfig) { c.DefaultKd[0] = -1 }},
		{"zero trip count", func(c *ControllerConfig) { c.OverCurrentCntMax = 0 }},
		{"bad method", func(c *ControllerConfig) { c.Interpolation = "spline" }},
		{"bad policy", func(c *ControllerConfig) { c.WaypointPolicy = "merge" }},
		{"one waypoint", func(c *ControllerConfig) { c.MaxWaypoints = 1 }},
		{"zero homing floor", func(c *ControllerConfig) { c.HomingMinDuration = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultControllerConfig()
			tt.mutate(&c)
			if err := c.Validate(6); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestPeriod(t *testing.T) {
	cfg := DefaultControllerConfig()
	if got := cfg.Period().Microseconds(); got != 2000 {
		t.Errorf("Period() = %dus, want 2000us", got)
	}
}

func TestTorqueTripLimits(t *testing.T) {
	cfg := X5Config()
	joints, gripper := cfg.TorqueTripLimits()
	want := []float64{30, 40, 30, 9.9, 9.9, 9.9}
	for i := range want {
		if math.Abs(joints[i]-want[i]) > 1e-9 {
			t.Errorf("joint %d trip limit = %v, want %v", i, joints[i], want[i])
		}
	}
	if gripper != cfg.GripperTorqueMax {
		t.Errorf("gripper trip limit = %v, want %v", gripper, cfg.GripperTorqueMax)
	}

	// Every threshold must be reachable by a decoded reading.
	for i, typ := range cfg.MotorTypes {
		p, err := motor.ParamsFor(typ)
		if err != nil {
			t.Fatalf("ParamsFor(%s) error = %v", typ, err)
		}
		if joints[i] >= p.TorqueRange().Max {
			t.Errorf("joint %d trip limit %v not below wire max %v", i, joints[i], p.TorqueRange().Max)
		}
	}
}
