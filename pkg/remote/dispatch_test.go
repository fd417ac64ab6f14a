package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-arx5/pkg/arm"
	"github.com/teslashibe/go-arx5/pkg/calibration"
	"github.com/teslashibe/go-arx5/pkg/controller"
	"github.com/teslashibe/go-arx5/pkg/protocol"
	"github.com/teslashibe/go-arx5/pkg/safety"
	"github.com/teslashibe/go-arx5/pkg/sim"
)

func newSimController(t *testing.T, start bool) (*controller.Controller, *sim.Arm) {
	t.Helper()
	robot := arm.X5Config()
	cfg := arm.DefaultControllerConfig()
	cfg.InterFrameDelay = 0
	cfg.ShutdownToPassive = false
	bus, err := sim.New(&robot, cfg.DT)
	require.NoError(t, err)
	ctrl, err := controller.New(robot, cfg, bus)
	require.NoError(t, err)
	if start {
		require.NoError(t, ctrl.Start())
	}
	t.Cleanup(func() {
		ctrl.Stop()
		bus.Close()
	})
	return ctrl, bus
}

// replies collects dispatcher answers.
type replies chan *protocol.Message

func (r replies) send(msg *protocol.Message) { r <- msg }

func (r replies) next(t *testing.T, timeout time.Duration) *protocol.Message {
	t.Helper()
	select {
	case msg := <-r:
		return msg
	case <-time.After(timeout):
		t.Fatal("no reply")
		return nil
	}
}

func mustMessage(t *testing.T, typ protocol.MessageType, id string, data any) *protocol.Message {
	t.Helper()
	msg, err := protocol.NewMessage(typ, data)
	require.NoError(t, err)
	msg.ID = id
	return msg
}

func requireAck(t *testing.T, msg *protocol.Message, id string) {
	t.Helper()
	if msg.Type == protocol.TypeError {
		e, _ := msg.GetErrorData()
		t.Fatalf("got error %s: %s", e.Code, e.Message)
	}
	require.Equal(t, protocol.TypeAck, msg.Type)
	assert.Equal(t, id, msg.ID)
}

func requireErrorCode(t *testing.T, msg *protocol.Message, id, code string) {
	t.Helper()
	require.Equal(t, protocol.TypeError, msg.Type)
	assert.Equal(t, id, msg.ID)
	e, err := msg.GetErrorData()
	require.NoError(t, err)
	assert.Equal(t, code, e.Code, e.Message)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{controller.ErrEmergency, CodeEmergency, 409},
		{fmt.Errorf("wrapped: %w", controller.ErrNotRunning), CodeNotRunning, 409},
		{controller.ErrStopped, CodeNotRunning, 409},
		{safety.ErrDangerousGain, CodeDangerousGain, 409},
		{controller.ErrInvalidCommand, CodeInvalid, 400},
		{arm.ErrDOFMismatch, CodeInvalid, 400},
		{ErrNoCalibration, CodeInvalid, 400},
		{context.Canceled, CodeCanceled, 408},
		{errors.New("boom"), CodeInternal, 500},
	}
	for _, tt := range tests {
		code, status := Classify(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}

func TestDispatchPing(t *testing.T) {
	ctrl, _ := newSimController(t, false)
	d := NewDispatcher(ctrl)
	r := make(replies, 1)

	d.Dispatch(mustMessage(t, protocol.TypePing, "p1", protocol.PingData{ID: "x", Timestamp: 42}), r.send)
	msg := r.next(t, time.Second)
	require.Equal(t, protocol.TypePong, msg.Type)
	assert.Equal(t, "p1", msg.ID)
	pong, err := msg.GetPongData()
	require.NoError(t, err)
	assert.Equal(t, int64(42), pong.PingTS)
}

func TestDispatchRejectsWhenIdle(t *testing.T) {
	ctrl, _ := newSimController(t, false)
	d := NewDispatcher(ctrl)
	r := make(replies, 1)

	d.Dispatch(mustMessage(t, protocol.TypeCommand, "c1", protocol.CommandData{Pos: make([]float64, 6)}), r.send)
	requireErrorCode(t, r.next(t, time.Second), "c1", CodeNotRunning)
}

func TestDispatchCommand(t *testing.T) {
	ctrl, bus := newSimController(t, true)
	d := NewDispatcher(ctrl)
	r := make(replies, 1)

	pos := []float64{0.2, 0, 0, 0, 0, 0}
	d.Dispatch(mustMessage(t, protocol.TypeCommand, "c1", protocol.CommandData{Pos: pos, Delay: 0.5}), r.send)
	requireAck(t, r.next(t, time.Second), "c1")

	assert.Eventually(t, func() bool {
		return math.Abs(bus.Position(0)-0.2) < 0.02
	}, 2*time.Second, 10*time.Millisecond)

	d.Dispatch(mustMessage(t, protocol.TypeCommand, "c2", protocol.CommandData{Pos: pos[:3]}), r.send)
	requireErrorCode(t, r.next(t, time.Second), "c2", CodeInvalid)
}

func TestDispatchAction(t *testing.T) {
	ctrl, bus := newSimController(t, true)
	r := make(replies, 1)
	action := protocol.ActionData{Joints: []float64{0, 0, 0, 0, 0, 0}, Gripper: 50, Delay: 0.5}

	// Without a calibration actions cannot be mapped.
	NewDispatcher(ctrl).Dispatch(mustMessage(t, protocol.TypeAction, "a0", action), r.send)
	requireErrorCode(t, r.next(t, time.Second), "a0", CodeInvalid)

	cal := calibration.Calibration{
		Joints:  make([]calibration.Range, 6),
		Gripper: calibration.Range{Min: 0, Max: 0.04},
	}
	for i := range cal.Joints {
		cal.Joints[i] = calibration.Range{Min: -0.1, Max: 0.1}
	}
	cal.Joints[0] = calibration.Range{Min: 0, Max: 0.4}

	d := NewDispatcher(ctrl, WithCalibration(cal))
	d.Dispatch(mustMessage(t, protocol.TypeAction, "a1", action), r.send)
	requireAck(t, r.next(t, time.Second), "a1")

	assert.Eventually(t, func() bool {
		return math.Abs(bus.Position(0)-0.2) < 0.02
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatchHome(t *testing.T) {
	ctrl, bus := newSimController(t, false)
	bus.SetPosition(1, 0.3)
	require.NoError(t, ctrl.Start())
	d := NewDispatcher(ctrl)
	defer d.Close()
	r := make(replies, 1)

	d.Dispatch(mustMessage(t, protocol.TypeHome, "h1", nil), r.send)
	requireAck(t, r.next(t, 5*time.Second), "h1")
	assert.Eventually(t, func() bool {
		return math.Abs(bus.Position(1)) < 0.03
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatchTrajectory(t *testing.T) {
	ctrl, bus := newSimController(t, true)
	d := NewDispatcher(ctrl)
	defer d.Close()
	r := make(replies, 1)

	traj := protocol.TrajectoryData{Segments: []protocol.SegmentData{
		{Pos: []float64{0.15, 0, 0, 0, 0, 0}, Duration: 0.3},
		{Pos: []float64{0.15, 0, 0, 0, -0.1, 0}, Duration: 0.3, Easing: "linear"},
	}}
	d.Dispatch(mustMessage(t, protocol.TypeTrajectory, "t1", traj), r.send)
	requireAck(t, r.next(t, 3*time.Second), "t1")

	assert.Eventually(t, func() bool {
		return math.Abs(bus.Position(0)-0.15) < 0.02 && math.Abs(bus.Position(4)+0.1) < 0.02
	}, 2*time.Second, 10*time.Millisecond)

	bad := protocol.TrajectoryData{Segments: []protocol.SegmentData{
		{Pos: []float64{0, 0, 0, 0, 0, 0}, Duration: 0.3, Easing: "bounce"},
	}}
	d.Dispatch(mustMessage(t, protocol.TypeTrajectory, "t2", bad), r.send)
	requireErrorCode(t, r.next(t, time.Second), "t2", CodeInvalid)
}

func TestCommandCancelsTrajectory(t *testing.T) {
	ctrl, _ := newSimController(t, true)
	d := NewDispatcher(ctrl)
	defer d.Close()
	r := make(replies, 2)

	traj := protocol.TrajectoryData{Segments: []protocol.SegmentData{
		{Pos: []float64{0.2, 0, 0, 0, 0, 0}, Duration: 5},
	}}
	d.Dispatch(mustMessage(t, protocol.TypeTrajectory, "t1", traj), r.send)
	time.Sleep(50 * time.Millisecond)

	d.Dispatch(mustMessage(t, protocol.TypeCommand, "c1", protocol.CommandData{Pos: make([]float64, 6), Delay: 0.2}), r.send)

	got := map[string]*protocol.Message{}
	for i := 0; i < 2; i++ {
		msg := r.next(t, 2*time.Second)
		got[msg.ID] = msg
	}
	requireAck(t, got["c1"], "c1")
	requireErrorCode(t, got["t1"], "t1", CodeCanceled)
}

func TestDispatchMode(t *testing.T) {
	ctrl, _ := newSimController(t, true)
	d := NewDispatcher(ctrl)
	r := make(replies, 1)

	d.Dispatch(mustMessage(t, protocol.TypeMode, "m1", protocol.ModeData{Mode: "damping"}), r.send)
	requireAck(t, r.next(t, time.Second), "m1")
	assert.True(t, ctrl.Gain().IsDamping())

	d.Dispatch(mustMessage(t, protocol.TypeMode, "m2", protocol.ModeData{Mode: "gravity_compensation"}), r.send)
	requireAck(t, r.next(t, time.Second), "m2")
	g := ctrl.Gain()
	for _, kp := range g.Kp {
		assert.Zero(t, kp)
	}

	d.Dispatch(mustMessage(t, protocol.TypeMode, "m3", protocol.ModeData{Mode: "teleport"}), r.send)
	requireErrorCode(t, r.next(t, time.Second), "m3", CodeInvalid)
}

func TestDispatchDangerousGain(t *testing.T) {
	ctrl, bus := newSimController(t, false)
	bus.SetPosition(4, 0.5)
	require.NoError(t, ctrl.Start())
	d := NewDispatcher(ctrl)
	r := make(replies, 1)

	d.Dispatch(mustMessage(t, protocol.TypeMode, "m1", protocol.ModeData{Mode: "damping"}), r.send)
	requireAck(t, r.next(t, time.Second), "m1")

	d.Dispatch(mustMessage(t, protocol.TypeCommand, "c1", protocol.CommandData{Pos: make([]float64, 6)}), r.send)
	requireAck(t, r.next(t, time.Second), "c1")

	cfg := ctrl.ControllerConfig()
	gain := protocol.GainFromArm(cfg.DefaultGain())
	d.Dispatch(mustMessage(t, protocol.TypeGain, "g1", gain), r.send)
	requireErrorCode(t, r.next(t, time.Second), "g1", CodeDangerousGain)
}

func TestDispatchUnknownType(t *testing.T) {
	ctrl, _ := newSimController(t, false)
	d := NewDispatcher(ctrl)
	r := make(replies, 1)

	d.Dispatch(mustMessage(t, protocol.MessageType("dance"), "x", nil), r.send)
	requireErrorCode(t, r.next(t, time.Second), "x", CodeInvalid)
}

func TestDispatcherClose(t *testing.T) {
	ctrl, _ := newSimController(t, true)
	d := NewDispatcher(ctrl)
	d.Close()

	r := make(replies, 1)
	d.Dispatch(mustMessage(t, protocol.TypeHome, "h1", nil), r.send)
	requireErrorCode(t, r.next(t, time.Second), "h1", CodeNotRunning)
}
