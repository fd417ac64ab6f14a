package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-arx5/pkg/arm"
	"github.com/teslashibe/go-arx5/pkg/can"
	"github.com/teslashibe/go-arx5/pkg/motor"
)

func TestPDConvergesUnderGravity(t *testing.T) {
	robot := arm.X5Config()
	a, err := New(&robot, 0.002)
	require.NoError(t, err)
	defer a.Close()

	codec, err := motor.NewCodec(robot.MotorTypes[1])
	require.NoError(t, err)
	id := robot.MotorIDs[1]

	for i := 0; i < 2000; i++ {
		pos := a.Position(1)
		g, _ := a.GravityTorque([]float64{0, pos})
		frame := codec.EncodeCommand(motor.Command{Pos: 0.5, Kp: 40, Kd: 2, Torque: g[1]})
		require.NoError(t, a.Send(can.Frame{ID: id, Data: frame}))
		_, err := a.Recv(time.Millisecond)
		require.NoError(t, err)
	}
	assert.InDelta(t, 0.5, a.Position(1), 0.01)
}

func TestReplyUsesFeedbackID(t *testing.T) {
	robot := arm.L5Config()
	a, err := New(&robot, 0.002)
	require.NoError(t, err)
	defer a.Close()

	codec, _ := motor.NewCodec(robot.MotorTypes[0])
	require.NoError(t, a.Send(can.Frame{ID: robot.MotorIDs[0], Data: codec.EncodeCommand(motor.Command{})}))
	f, err := a.Recv(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, codec.FeedbackID(robot.MotorIDs[0]), f.ID)
}

func TestFaultInjection(t *testing.T) {
	robot := arm.X5Config()
	a, err := New(&robot, 0.002)
	require.NoError(t, err)

	codec, _ := motor.NewCodec(robot.MotorTypes[3])
	id := robot.MotorIDs[3]

	a.SetTorqueBias(3, 5)
	require.NoError(t, a.Send(can.Frame{ID: id, Data: codec.EncodeCommand(motor.Command{})}))
	f, err := a.Recv(time.Millisecond)
	require.NoError(t, err)
	fb, err := codec.DecodeFeedback(f.Data[:])
	require.NoError(t, err)
	assert.InDelta(t, 5, fb.Torque, 0.01)

	a.SetSilent(3, true)
	require.NoError(t, a.Send(can.Frame{ID: id, Data: codec.EncodeCommand(motor.Command{})}))
	_, err = a.Recv(time.Millisecond)
	assert.ErrorIs(t, err, can.ErrTimeout)

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(can.Frame{ID: id}), can.ErrClosed)
}

func TestEnableDisable(t *testing.T) {
	robot := arm.X5Config()
	a, err := New(&robot, 0.002)
	require.NoError(t, err)
	defer a.Close()

	codec, _ := motor.NewCodec(robot.MotorTypes[4])
	on, _ := codec.EnableFrame()
	off, _ := codec.DisableFrame()

	require.NoError(t, a.Send(can.Frame{ID: robot.MotorIDs[4], Data: on}))
	assert.True(t, a.Enabled(4))
	require.NoError(t, a.Send(can.Frame{ID: robot.MotorIDs[4], Data: off}))
	assert.False(t, a.Enabled(4))
}
