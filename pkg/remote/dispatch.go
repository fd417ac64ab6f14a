// Package remote accepts arm commands over WebSocket. Each connected
// client gets a session; its messages are decoded and applied to the arm
// by a Dispatcher, and every request is answered with an ack or an error
// carrying the request id.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-arx5/internal/log"
	"github.com/teslashibe/go-arx5/pkg/arm"
	"github.com/teslashibe/go-arx5/pkg/calibration"
	"github.com/teslashibe/go-arx5/pkg/controller"
	"github.com/teslashibe/go-arx5/pkg/motion"
	"github.com/teslashibe/go-arx5/pkg/protocol"
	"github.com/teslashibe/go-arx5/pkg/safety"
	"github.com/teslashibe/go-arx5/pkg/trajectory"
)

// ErrNoCalibration is returned for normalized actions when no
// calibration is loaded.
var ErrNoCalibration = errors.New("remote: no calibration loaded")

// Arm is the controller surface commands are applied to.
// *controller.Controller satisfies it.
type Arm interface {
	motion.Commander
	RobotConfig() arm.RobotConfig
	ResetToHome(ctx context.Context) error
	SetToDamping() error
	Emergency() bool
	State() controller.RunState
}

// Error codes sent in protocol.ErrorData.
const (
	CodeInvalid       = "invalid"
	CodeEmergency     = "emergency"
	CodeNotRunning    = "not_running"
	CodeDangerousGain = "dangerous_gain"
	CodeCanceled      = "canceled"
	CodeInternal      = "internal"
)

// Classify maps an arm error to an error code and an HTTP status.
func Classify(err error) (string, int) {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.Is(err, controller.ErrEmergency):
		return CodeEmergency, fiber.StatusConflict
	case errors.Is(err, controller.ErrNotRunning), errors.Is(err, controller.ErrStopped):
		return CodeNotRunning, fiber.StatusConflict
	case errors.Is(err, safety.ErrDangerousGain):
		return CodeDangerousGain, fiber.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled, fiber.StatusRequestTimeout
	case errors.Is(err, controller.ErrInvalidCommand),
		errors.Is(err, arm.ErrDOFMismatch),
		errors.Is(err, trajectory.ErrDOFMismatch),
		errors.Is(err, trajectory.ErrTimestampInPast),
		errors.Is(err, trajectory.ErrWaypointOrder),
		errors.Is(err, trajectory.ErrTrajectoryFull),
		errors.Is(err, motion.ErrUnknownEasing),
		errors.Is(err, motion.ErrUnknownMode),
		errors.Is(err, motion.ErrEmptyMove),
		errors.Is(err, motion.ErrBadSegment),
		errors.Is(err, ErrNoCalibration),
		errors.Is(err, errBadRequest),
		errors.As(err, &syntaxErr),
		errors.As(err, &typeErr):
		return CodeInvalid, fiber.StatusBadRequest
	default:
		return CodeInternal, fiber.StatusInternalServerError
	}
}

var errBadRequest = errors.New("remote: bad request")

// DispatchOption customises a Dispatcher.
type DispatchOption func(*Dispatcher)

// WithCalibration enables normalized actions.
func WithCalibration(c calibration.Calibration) DispatchOption {
	return func(d *Dispatcher) { d.cal = &c }
}

// WithPlayerOptions configures the player used for trajectories.
func WithPlayerOptions(opts ...motion.PlayerOption) DispatchOption {
	return func(d *Dispatcher) { d.playerOpts = append(d.playerOpts, opts...) }
}

// WithInference makes position mode use the inference gains.
func WithInference(on bool) DispatchOption {
	return func(d *Dispatcher) { d.inference = on }
}

// Dispatcher applies protocol messages to an arm. Long operations (homing,
// trajectories) run in the background, one at a time; a new motion
// request cancels the running one.
type Dispatcher struct {
	arm        Arm
	dof        int
	cal        *calibration.Calibration
	playerOpts []motion.PlayerOption
	inference  bool

	mu     sync.Mutex
	job    *job
	closed bool
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher creates a dispatcher for a.
func NewDispatcher(a Arm, opts ...DispatchOption) *Dispatcher {
	d := &Dispatcher{arm: a}
	rc := a.RobotConfig()
	d.dof = rc.DOF()
	for _, o := range opts {
		o(d)
	}
	return d
}

// Arm returns the arm commands are applied to.
func (d *Dispatcher) Arm() Arm {
	return d.arm
}

// Calibration returns the loaded calibration, if any.
func (d *Dispatcher) Calibration() (calibration.Calibration, bool) {
	if d.cal == nil {
		return calibration.Calibration{}, false
	}
	return *d.cal, true
}

// Close cancels the running job and waits for it.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancelJob()
}

// Dispatch applies msg and calls reply with the answer. reply may be
// called from another goroutine for background operations.
func (d *Dispatcher) Dispatch(msg *protocol.Message, reply func(*protocol.Message)) {
	var err error
	switch msg.Type {
	case protocol.TypePing:
		ping, perr := msg.GetPingData()
		if perr != nil {
			err = fmt.Errorf("%w: %v", errBadRequest, perr)
			break
		}
		if pong, perr := protocol.NewPongMessage(ping.ID, ping.Timestamp, time.Now().UnixMilli()); perr == nil {
			pong.ID = msg.ID
			reply(pong)
		}
		return

	case protocol.TypeCommand:
		var cmd *protocol.CommandData
		if cmd, err = msg.GetCommandData(); err == nil {
			err = d.Command(*cmd)
		}

	case protocol.TypeAction:
		var act *protocol.ActionData
		if act, err = msg.GetActionData(); err == nil {
			err = d.Action(*act)
		}

	case protocol.TypeGain:
		var g *protocol.GainData
		if g, err = msg.GetGainData(); err == nil {
			err = d.arm.SetGain(g.Gain())
		}

	case protocol.TypeMode:
		var m *protocol.ModeData
		if m, err = msg.GetModeData(); err == nil {
			err = d.Mode(m.Mode, m.Inference || d.inference)
		}

	case protocol.TypeHome:
		err = d.Start(func(ctx context.Context) error { return d.arm.ResetToHome(ctx) }, func(err error) {
			reply(answer(msg.ID, err))
		})
		if err == nil {
			return
		}

	case protocol.TypeTrajectory:
		var segs []motion.Segment
		segs, err = d.segments(msg)
		if err == nil {
			p := motion.NewPlayer(d.arm, d.playerOpts...)
			err = d.Start(func(ctx context.Context) error { return p.Play(ctx, segs...) }, func(err error) {
				reply(answer(msg.ID, err))
			})
			if err == nil {
				return
			}
		}

	default:
		err = fmt.Errorf("%w: unknown message type %q", errBadRequest, msg.Type)
	}
	reply(answer(msg.ID, err))
}

func (d *Dispatcher) segments(msg *protocol.Message) ([]motion.Segment, error) {
	t, err := msg.GetTrajectoryData()
	if err != nil {
		return nil, err
	}
	segs, err := t.Segments(d.dof)
	if err != nil {
		return nil, err
	}
	// Validate against the current pose so a bad trajectory is rejected
	// before anything moves. Play rebuilds from the pose at start.
	if _, err := motion.NewSequenceMove(d.arm.JointState(), segs); err != nil {
		return nil, err
	}
	return segs, nil
}

func answer(id string, err error) *protocol.Message {
	var msg *protocol.Message
	if err == nil {
		msg, _ = protocol.NewAckMessage(id)
		return msg
	}
	code, _ := Classify(err)
	msg, _ = protocol.NewErrorMessage(id, code, err.Error())
	return msg
}

// Command installs a joint target. A Delay is converted to a timestamp on
// the controller clock.
func (d *Dispatcher) Command(c protocol.CommandData) error {
	s, err := c.JointState(d.dof)
	if err != nil {
		return err
	}
	if s.Timestamp == 0 && c.Delay > 0 {
		s.Timestamp = d.arm.Now() + c.Delay
	}
	d.cancelJob()
	return d.arm.SetJointCommand(s)
}

// Action installs a normalized target.
func (d *Dispatcher) Action(a protocol.ActionData) error {
	if d.cal == nil {
		return ErrNoCalibration
	}
	s, err := d.cal.Unnormalize(a.Joints, a.Gripper)
	if err != nil {
		return err
	}
	if a.Delay > 0 {
		s.Timestamp = d.arm.Now() + a.Delay
	}
	d.cancelJob()
	return d.arm.SetJointCommand(s)
}

// Mode switches the operating mode.
func (d *Dispatcher) Mode(name string, inference bool) error {
	mode, err := motion.ParseMode(name)
	if err != nil {
		return err
	}
	d.cancelJob()
	if mode == motion.ModeDamping {
		return d.arm.SetToDamping()
	}
	return motion.SetMode(d.arm, mode, inference)
}

// cancelJob stops the running job and waits until it has sent its last
// command.
func (d *Dispatcher) cancelJob() {
	d.mu.Lock()
	j := d.job
	d.job = nil
	d.mu.Unlock()
	if j != nil {
		j.cancel()
		<-j.done
	}
}

// Start runs fn in the background after cancelling any running job.
// done receives fn's result.
func (d *Dispatcher) Start(fn func(ctx context.Context) error, done func(error)) error {
	d.cancelJob()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return controller.ErrStopped
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel, done: make(chan struct{})}
	d.job = j
	d.mu.Unlock()

	go func() {
		err := fn(ctx)
		cancel()
		d.mu.Lock()
		if d.job == j {
			d.job = nil
		}
		d.mu.Unlock()
		close(j.done)

		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("background arm operation failed", "err", err)
		}
		if done != nil {
			done(err)
		}
	}()
	return nil
}
