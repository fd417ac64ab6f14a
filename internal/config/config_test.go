package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-arx5/pkg/arm"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arx5.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	f, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.Model != "X5" || f.Interface != "can0" {
		t.Errorf("got model %q interface %q", f.Model, f.Interface)
	}
	if f.Controller.DT != arm.DefaultControllerConfig().DT {
		t.Errorf("DT = %v", f.Controller.DT)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
model: L5
interface: serial:/dev/ttyACM0@1000000
controller:
  waypoint_policy: append
  inter_frame_delay: 80us
  default_kp: [50, 50, 50, 20, 20, 10]
web:
  port: "9090"
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.Model != "L5" {
		t.Errorf("Model = %q", f.Model)
	}
	if f.Controller.WaypointPolicy != arm.PolicyAppend {
		t.Errorf("WaypointPolicy = %q", f.Controller.WaypointPolicy)
	}
	if f.Controller.InterFrameDelay != 80*time.Microsecond {
		t.Errorf("InterFrameDelay = %v", f.Controller.InterFrameDelay)
	}
	if f.Controller.DefaultKp[0] != 50 {
		t.Errorf("DefaultKp = %v", f.Controller.DefaultKp)
	}
	// Unset keys keep their defaults.
	if f.Controller.FaultCntMax != arm.DefaultControllerConfig().FaultCntMax {
		t.Errorf("FaultCntMax = %d", f.Controller.FaultCntMax)
	}
	if f.Web.Port != "9090" || f.Web.StateRate != 50 {
		t.Errorf("Web = %+v", f.Web)
	}
	robot, err := f.Robot()
	if err != nil || robot.Model != "L5" {
		t.Errorf("Robot() = %v, %v", robot.Model, err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown model", "model: X9\n"},
		{"unknown key", "modle: X5\n"},
		{"bad policy", "controller:\n  waypoint_policy: queue\n"},
		{"short gain", "controller:\n  default_kp: [1, 2]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, tt.body)); err == nil {
				t.Error("Load() should fail")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: error = %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvModel, "L5")
	t.Setenv(EnvInterface, "vcan0")
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvWebPort, "7000")

	f, err := Load(writeFile(t, "model: X5\ninterface: can1\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if f.Model != "L5" || f.Interface != "vcan0" || f.LogLevel != "debug" || f.Web.Port != "7000" {
		t.Errorf("overrides not applied: %+v", f)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("ARX5_TEST_INT", "42")
	t.Setenv("ARX5_TEST_BAD", "x")
	t.Setenv("ARX5_TEST_BOOL", "true")

	if got := Int("ARX5_TEST_INT", 1); got != 42 {
		t.Errorf("Int = %d", got)
	}
	if got := Int("ARX5_TEST_BAD", 1); got != 1 {
		t.Errorf("Int malformed = %d", got)
	}
	if got := Bool("ARX5_TEST_BOOL", false); !got {
		t.Error("Bool = false")
	}
	if got := String("ARX5_TEST_UNSET", "def"); got != "def" {
		t.Errorf("String = %q", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	f := Default()
	f.Model = "L5"
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := f.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Model != "L5" {
		t.Errorf("Model = %q", got.Model)
	}
}
