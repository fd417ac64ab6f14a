// Package sim is an in-process stand-in for the motors on a CAN bus. It
// decodes commands with the real codecs, runs each motor's PD law on a
// one-axis plant, and answers with encoded feedback frames.
package sim

import (
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"

	"github.com/teslashibe/go-arx5/pkg/arm"
	"github.com/teslashibe/go-arx5/pkg/can"
	"github.com/teslashibe/go-arx5/pkg/motor"
)

// gripperJoint indexes the gripper in per-joint settings.
const gripperJoint = -1

// Plant constants shared by every simulated axis.
const (
	inertia  = 0.02 // kg·m²
	friction = 0.05 // N·m·s/rad
)

// loads are the gravity moment arms (kg·m) of each joint of a six axis arm.
var loads = []float64{0, 0.35, 0.2, 0.05, 0, 0}

type simMotor struct {
	id      uint32
	joint   int
	codec   motor.Codec
	enabled bool

	pos, vel, torque float64

	bias   float64
	silent bool
}

// Arm simulates every motor of one RobotConfig.
type Arm struct {
	mu      sync.Mutex
	robot   *arm.RobotConfig
	dt      float64
	gravity r3.Vector
	motors  map[uint32]*simMotor
	byJoint map[int]*simMotor

	frames chan can.Frame
	done   chan struct{}
	once   sync.Once

	sent uint64
}

var _ can.Bus = (*Arm)(nil)

// New builds a simulator for robot stepping dt seconds per command.
func New(robot *arm.RobotConfig, dt float64) (*Arm, error) {
	a := &Arm{
		robot:   robot,
		dt:      dt,
		gravity: robot.Gravity,
		motors:  make(map[uint32]*simMotor),
		byJoint: make(map[int]*simMotor),
		frames:  make(chan can.Frame, 64),
		done:    make(chan struct{}),
	}
	add := func(id uint32, t motor.Type, joint int) error {
		c, err := motor.NewCodec(t)
		if err != nil {
			return err
		}
		m := &simMotor{id: id, joint: joint, codec: c}
		a.motors[id] = m
		a.byJoint[joint] = m
		return nil
	}
	for j, id := range robot.MotorIDs {
		if err := add(id, robot.MotorTypes[j], j); err != nil {
			return nil, err
		}
	}
	if robot.HasGripper() {
		if err := add(robot.GripperMotorID, robot.GripperMotorType, gripperJoint); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// GravityTorque returns the holding torque of the simulated plant. It
// satisfies arm.InverseDynamics.
func (a *Arm) GravityTorque(pos []float64) ([]float64, error) {
	g := a.gravity.Norm()
	out := make([]float64, len(pos))
	for j := range pos {
		if j < len(loads) {
			out[j] = loads[j] * g * math.Sin(pos[j])
		}
	}
	return out, nil
}

func (a *Arm) gravityLoad(joint int, pos float64) float64 {
	if joint < 0 || joint >= len(loads) {
		return 0
	}
	return loads[joint] * a.gravity.Norm() * math.Sin(pos)
}

// Send applies a command frame and queues the motor's reply.
func (a *Arm) Send(f can.Frame) error {
	select {
	case <-a.done:
		return can.ErrClosed
	default:
	}

	a.mu.Lock()
	a.sent++
	m, ok := a.motors[f.ID]
	if !ok {
		a.mu.Unlock()
		return nil
	}
	if data, has := m.codec.EnableFrame(); has && f.Data == data {
		m.enabled = true
		reply := a.reply(m)
		a.mu.Unlock()
		a.push(reply, m.silent)
		return nil
	}
	if data, has := m.codec.DisableFrame(); has && f.Data == data {
		m.enabled = false
		a.mu.Unlock()
		return nil
	}
	cmd, err := m.codec.DecodeCommand(f.Data[:])
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.step(m, cmd)
	reply := a.reply(m)
	silent := m.silent
	a.mu.Unlock()

	a.push(reply, silent)
	return nil
}

// step integrates one MIT-mode control period.
func (a *Arm) step(m *simMotor, cmd motor.Command) {
	tr := m.codec.Params().TorqueRange()
	tau := cmd.Kp*(cmd.Pos-m.pos) + cmd.Kd*(cmd.Vel-m.vel) + cmd.Torque
	tau = math.Max(tr.Min, math.Min(tr.Max, tau))
	m.torque = tau
	m.enabled = true

	acc := (tau - a.gravityLoad(m.joint, m.pos) - friction*m.vel) / inertia
	m.vel += acc * a.dt
	m.pos += m.vel * a.dt
}

func (a *Arm) reply(m *simMotor) can.Frame {
	fb := motor.Feedback{Pos: m.pos, Vel: m.vel, Torque: m.torque + m.bias, Temperature: 35}
	return can.Frame{ID: m.codec.FeedbackID(m.id), Data: m.codec.EncodeFeedback(fb, m.id)}
}

func (a *Arm) push(f can.Frame, silent bool) {
	if silent {
		return
	}
	select {
	case a.frames <- f:
	default:
	}
}

// Recv returns the next queued reply.
func (a *Arm) Recv(timeout time.Duration) (can.Frame, error) {
	select {
	case f := <-a.frames:
		return f, nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-a.frames:
		return f, nil
	case <-a.done:
		return can.Frame{}, can.ErrClosed
	case <-timer.C:
		return can.Frame{}, can.ErrTimeout
	}
}

// Close stops the simulator.
func (a *Arm) Close() error {
	a.once.Do(func() { close(a.done) })
	return nil
}

// SetPosition places a joint (or the gripper, in motor radians, with
// joint -1) at pos at rest.
func (a *Arm) SetPosition(joint int, pos float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.byJoint[joint]; ok {
		m.pos, m.vel = pos, 0
	}
}

// Position returns a joint's true position.
func (a *Arm) Position(joint int) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.byJoint[joint]; ok {
		return m.pos
	}
	return 0
}

// SetTorqueBias adds bias to the torque a joint reports.
func (a *Arm) SetTorqueBias(joint int, bias float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.byJoint[joint]; ok {
		m.bias = bias
	}
}

// SetSilent makes a joint stop replying.
func (a *Arm) SetSilent(joint int, silent bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.byJoint[joint]; ok {
		m.silent = silent
	}
}

// Enabled reports whether a joint's driver is on.
func (a *Arm) Enabled(joint int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.byJoint[joint]
	return ok && m.enabled
}

// FramesSent returns how many frames the controller has sent.
func (a *Arm) FramesSent() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent
}
