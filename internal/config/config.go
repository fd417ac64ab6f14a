package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-arx5/pkg/arm"
	"github.com/teslashibe/go-arx5/pkg/web"
)

// File is the on-disk configuration.
//
//	model: X5
//	interface: can0
//	log_level: info
//	controller:
//	  dt: 0.002
//	  waypoint_policy: append
//	  inter_frame_delay: 50us
//	web:
//	  port: "8080"
type File struct {
	Model     string `yaml:"model"`
	Interface string `yaml:"interface"`
	LogLevel  string `yaml:"log_level"`

	// Calibration is an optional calibration JSON path; normalized
	// actions are rejected without one.
	Calibration string `yaml:"calibration"`
	// Inference selects the inference gains for position mode.
	Inference bool `yaml:"inference"`
	// DampOnDisconnect damps the arm when the last remote client leaves.
	DampOnDisconnect bool `yaml:"damp_on_disconnect"`

	Controller arm.ControllerConfig `yaml:"controller"`
	Web        web.Config           `yaml:"web"`
}

// Default returns the configuration used when no file is given.
func Default() *File {
	return &File{
		Model:            "X5",
		Interface:        "can0",
		LogLevel:         "info",
		DampOnDisconnect: true,
		Controller:       arm.DefaultControllerConfig(),
		Web:              web.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*File, error) {
	f := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	f.applyEnv()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) applyEnv() {
	f.Model = String(EnvModel, f.Model)
	f.Interface = String(EnvInterface, f.Interface)
	f.LogLevel = String(EnvLogLevel, f.LogLevel)
	f.Web.Port = String(EnvWebPort, f.Web.Port)
}

// Robot returns the preset for the configured model.
func (f *File) Robot() (arm.RobotConfig, error) {
	return arm.RobotConfigFor(f.Model)
}

// Validate checks the model, controller settings and ports.
func (f *File) Validate() error {
	robot, err := f.Robot()
	if err != nil {
		return err
	}
	if err := f.Controller.Validate(robot.DOF()); err != nil {
		return err
	}
	if f.Interface == "" {
		return fmt.Errorf("%w: interface is required", arm.ErrInvalidConfig)
	}
	if f.Web.Port == "" {
		return fmt.Errorf("%w: web port is required", arm.ErrInvalidConfig)
	}
	return nil
}

// Save writes f to path as YAML.
func (f *File) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
