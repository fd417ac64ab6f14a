// Package controller runs the fixed-rate joint control loop of one arm and
// exposes the thread-safe API used by callers.
//
// Shared state is split in two groups. The command side (trajectory and
// gain) is written by callers and read once per cycle by the loop. The
// state side (decoded joint state and fault counters) is written by the
// loop and read by callers. Each group has its own mutex and neither is
// held across bus I/O or interpolation.
package controller

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/teslashibe/go-arx5/internal/log"
	"github.com/teslashibe/go-arx5/pkg/arm"
	"github.com/teslashibe/go-arx5/pkg/can"
	"github.com/teslashibe/go-arx5/pkg/motor"
	"github.com/teslashibe/go-arx5/pkg/safety"
	"github.com/teslashibe/go-arx5/pkg/trajectory"
)

// joint binds one motor on the bus to its codec.
type joint struct {
	id         uint32
	feedbackID uint32
	codec      motor.Codec
}

// Option customises a Controller.
type Option func(*Controller)

// WithInverseDynamics supplies the gravity model used when gravity
// compensation is enabled.
func WithInverseDynamics(d arm.InverseDynamics) Option {
	return func(c *Controller) { c.dynamics = d }
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(c *Controller) { c.events = make(chan Event, n) }
}

// WithName tags log lines, for setups driving more than one arm.
func WithName(name string) Option {
	return func(c *Controller) { c.name = name }
}

// Controller drives one arm.
type Controller struct {
	name     string
	lg       *slog.Logger
	robot    arm.RobotConfig
	cfg      arm.ControllerConfig
	bus      can.Bus
	dynamics arm.InverseDynamics
	epoch    time.Time

	joints   []joint
	gripper  *joint
	expected map[uint32]int // feedback id -> joint index, gripper = dof

	limiter    *safety.Limiter
	supervisor *safety.Supervisor
	guard      safety.GuardConfig

	// Command side.
	cmdMu  sync.Mutex
	interp *trajectory.Interpolator
	gain   arm.Gain

	// State side.
	stateMu sync.Mutex
	state   arm.JointState
	stats   Stats

	emergency     atomic.Bool
	runState      atomic.Int32
	paused        atomic.Bool
	droppedEvents atomic.Uint64
	events        chan Event

	lifeMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}

	// Owned by the loop goroutine.
	prevApplied arm.JointState
	overrunLog  rate.Sometimes
	faultLog    rate.Sometimes
	limitLog    rate.Sometimes
}

// New validates both configurations and builds an idle controller on bus.
// Configuration errors are returned here and never at run time.
func New(robot arm.RobotConfig, cfg arm.ControllerConfig, bus can.Bus, opts ...Option) (*Controller, error) {
	if err := robot.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(robot.DOF()); err != nil {
		return nil, err
	}
	if bus == nil {
		return nil, fmt.Errorf("%w: nil bus", arm.ErrInvalidConfig)
	}

	c := &Controller{
		name:       robot.Model,
		robot:      robot,
		cfg:        cfg,
		bus:        bus,
		epoch:      time.Now(),
		expected:   make(map[uint32]int),
		guard:      safety.GuardConfig{Threshold: cfg.GainGuardThreshold, MinKp: cfg.GainGuardMinKp},
		events:     make(chan Event, 64),
		overrunLog: rate.Sometimes{Interval: 5 * time.Second},
		faultLog:   rate.Sometimes{Interval: 5 * time.Second},
		limitLog:   rate.Sometimes{Interval: 5 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	c.lg = log.With("arm", c.name)
	if cfg.GravityCompensation && c.dynamics == nil {
		return nil, fmt.Errorf("%w: gravity compensation enabled without an inverse dynamics model", arm.ErrInvalidConfig)
	}

	// Resolve each motor type to its codec once, keeping type dispatch out
	// of the cycle.
	dof := robot.DOF()
	for i, id := range robot.MotorIDs {
		codec, err := motor.NewCodec(robot.MotorTypes[i])
		if err != nil {
			return nil, fmt.Errorf("%w: joint %d: %v", arm.ErrInvalidConfig, i, err)
		}
		j := joint{id: id, feedbackID: codec.FeedbackID(id), codec: codec}
		if _, dup := c.expected[j.feedbackID]; dup {
			return nil, fmt.Errorf("%w: feedback id %#x used twice", arm.ErrInvalidConfig, j.feedbackID)
		}
		c.expected[j.feedbackID] = i
		c.joints = append(c.joints, j)
	}
	if robot.HasGripper() {
		codec, err := motor.NewCodec(robot.GripperMotorType)
		if err != nil {
			return nil, fmt.Errorf("%w: gripper: %v", arm.ErrInvalidConfig, err)
		}
		g := joint{id: robot.GripperMotorID, feedbackID: codec.FeedbackID(robot.GripperMotorID), codec: codec}
		if _, dup := c.expected[g.feedbackID]; dup {
			return nil, fmt.Errorf("%w: gripper feedback id %#x used twice", arm.ErrInvalidConfig, g.feedbackID)
		}
		c.expected[g.feedbackID] = dof
		c.gripper = &g
	}

	c.limiter = safety.NewLimiter(&c.robot, cfg.DT)
	c.supervisor = safety.NewSupervisor(&c.robot, cfg.OverCurrentCntMax, cfg.FaultCntMax)
	c.interp = trajectory.NewInterpolator(dof, cfg.Interpolation, cfg.WaypointPolicy, cfg.MaxWaypoints)
	c.gain = c.dampingGain()
	c.state = arm.NewJointState(dof)
	c.prevApplied = arm.NewJointState(dof)
	return c, nil
}

// Now returns seconds since the controller was built. Joint command
// timestamps use this clock.
func (c *Controller) Now() float64 {
	return time.Since(c.epoch).Seconds()
}

// RobotConfig returns a copy of the robot description.
func (c *Controller) RobotConfig() arm.RobotConfig {
	r := c.robot
	r.Joints = append([]arm.JointLimit(nil), c.robot.Joints...)
	r.MotorIDs = append([]uint32(nil), c.robot.MotorIDs...)
	r.MotorTypes = append([]motor.Type(nil), c.robot.MotorTypes...)
	return r
}

// ControllerConfig returns a copy of the loop configuration.
func (c *Controller) ControllerConfig() arm.ControllerConfig {
	cfg := c.cfg
	cfg.DefaultKp = append([]float64(nil), c.cfg.DefaultKp...)
	cfg.DefaultKd = append([]float64(nil), c.cfg.DefaultKd...)
	return cfg
}

// State returns the scheduler state.
func (c *Controller) State() RunState {
	return RunState(c.runState.Load())
}

// Events delivers loop events. Events are dropped when nobody reads.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Emergency reports whether the emergency latch is set.
func (c *Controller) Emergency() bool {
	return c.emergency.Load()
}

// Stats returns a snapshot of the loop counters.
func (c *Controller) Stats() Stats {
	c.stateMu.Lock()
	s := c.stats
	c.stateMu.Unlock()
	s.State = c.State().String()
	s.Emergency = c.Emergency()
	s.DroppedEvents = c.droppedEvents.Load()
	return s
}

// JointState returns the most recently published joint state.
func (c *Controller) JointState() arm.JointState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state.Clone()
}

// Gain returns the active gain.
func (c *Controller) Gain() arm.Gain {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	return c.gain.Clone()
}

// SetJointCommand installs a target. A zero Timestamp is stamped
// now + DefaultPreviewTime. The target takes effect on the next cycle.
func (c *Controller) SetJointCommand(cmd arm.JointState) error {
	if err := cmd.CheckDOF(c.robot.DOF()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if !cmd.IsFinite() {
		return fmt.Errorf("%w: non-finite value", ErrInvalidCommand)
	}
	if err := c.checkActive(); err != nil {
		return err
	}

	now := c.Now()
	target := cmd.Timestamp
	if target == 0 {
		target = now + c.cfg.DefaultPreviewTime
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.interp.Policy() == arm.PolicyAppend {
		c.interp.Prune(now)
	}
	return c.interp.SetTarget(now, cmd, target)
}

// SetGain installs g if the transition is safe. Switching from damping
// to stiff control is refused while the arm is far from the commanded
// pose; the gain is then left unchanged.
func (c *Controller) SetGain(g arm.Gain) error {
	if err := g.Validate(c.robot.DOF()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if err := c.checkActive(); err != nil {
		return err
	}
	measured := c.JointState()

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.emergency.Load() {
		return ErrEmergency
	}
	commanded := c.interp.Query(c.Now())
	if err := safety.CheckGainTransition(c.gain, g, measured, commanded, c.guard); err != nil {
		return err
	}
	c.gain = g.Clone()
	return nil
}

// SetToDamping drops stiffness to zero and keeps the default damping.
func (c *Controller) SetToDamping() error {
	if !c.setGainUnchecked(c.dampingGain()) {
		return ErrEmergency
	}
	return nil
}

func (c *Controller) dampingGain() arm.Gain {
	g := c.cfg.DefaultGain()
	for i := range g.Kp {
		g.Kp[i] = 0
	}
	g.GripperKp = 0
	return g
}

// setGainUnchecked bypasses the transition guard. It is a no-op once the
// emergency latch is set.
func (c *Controller) setGainUnchecked(g arm.Gain) bool {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.emergency.Load() {
		return false
	}
	c.gain = g.Clone()
	return true
}

func (c *Controller) checkActive() error {
	if c.Emergency() {
		return ErrEmergency
	}
	switch c.State() {
	case Running, Paused:
		return nil
	case Stopped:
		return ErrStopped
	default:
		return ErrNotRunning
	}
}
