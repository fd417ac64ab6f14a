package safety

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-arx5/pkg/arm"
)

func testRobot() *arm.RobotConfig {
	cfg := arm.X5Config()
	return &cfg
}

func TestRateLimitFirstStep(t *testing.T) {
	robot := testRobot()
	robot.Joints[0].VelMax = 5
	l := NewLimiter(robot, 0.002)

	prev := arm.NewJointState(robot.DOF())
	raw := arm.NewJointState(robot.DOF())
	raw.Pos[0] = 1.0

	out, violations := l.Limit(raw, prev, nil)
	assert.InDelta(t, 0.01, out.Pos[0], 1e-12)
	require.Len(t, violations, 1)
	assert.Equal(t, RateLimit, violations[0].Kind)
	assert.Equal(t, 0, violations[0].Joint)
	assert.Equal(t, 1.0, violations[0].Requested)
}

func TestLimiterOrder(t *testing.T) {
	robot := testRobot()
	l := NewLimiter(robot, 0.002)
	dof := robot.DOF()

	// Above pos_max and far from prev: clamp first, then step toward the clamp.
	prev := arm.NewJointState(dof)
	copy(prev.Pos, []float64{2.615, 0, 0, 0, 0, 0})
	raw := prev.Clone()
	raw.Pos[0] = 10

	out, violations := l.Limit(raw, prev, nil)
	assert.InDelta(t, 2.618, out.Pos[0], 1e-12)
	kinds := []ViolationKind{}
	for _, v := range violations {
		kinds = append(kinds, v.Kind)
	}
	assert.Equal(t, []ViolationKind{PositionLimit}, kinds)
}

func TestGravityAddedBeforeClamp(t *testing.T) {
	robot := testRobot()
	l := NewLimiter(robot, 0.002)
	dof := robot.DOF()

	raw := arm.NewJointState(dof)
	raw.Torque[1] = 35
	gravity := make([]float64, dof)
	gravity[1] = 10
	gravity[2] = 4

	out, violations := l.Limit(raw, raw, gravity)
	assert.Equal(t, 40.0, out.Torque[1])
	assert.Equal(t, 4.0, out.Torque[2])
	require.Len(t, violations, 1)
	assert.Equal(t, TorqueLimit, violations[0].Kind)
	assert.Equal(t, 45.0, violations[0].Requested)
}

func TestLimiterNeverExceedsBounds(t *testing.T) {
	robot := testRobot()
	l := NewLimiter(robot, 0.002)
	dof := robot.DOF()
	rng := rand.New(rand.NewSource(1))

	prev := arm.NewJointState(dof)
	for i := 0; i < 2000; i++ {
		raw := arm.NewJointState(dof)
		for j := range raw.Pos {
			raw.Pos[j] = (rng.Float64() - 0.5) * 20
			raw.Vel[j] = (rng.Float64() - 0.5) * 40
			raw.Torque[j] = (rng.Float64() - 0.5) * 200
		}
		raw.GripperPos = (rng.Float64() - 0.5)
		raw.GripperTorque = (rng.Float64() - 0.5) * 10

		out, _ := l.Limit(raw, prev, nil)
		for j, lim := range robot.Joints {
			require.GreaterOrEqual(t, out.Pos[j], lim.PosMin)
			require.LessOrEqual(t, out.Pos[j], lim.PosMax)
			require.LessOrEqual(t, math.Abs(out.Torque[j]), lim.TorqueMax)
			require.LessOrEqual(t, math.Abs(out.Pos[j]-prev.Pos[j]), lim.VelMax*0.002+1e-12)
		}
		require.GreaterOrEqual(t, out.GripperPos, 0.0)
		require.LessOrEqual(t, out.GripperPos, robot.GripperWidth)
		require.LessOrEqual(t, math.Abs(out.GripperTorque), robot.GripperTorqueMax)
		prev = out
	}
}

func TestLimiterDoesNotMutateInput(t *testing.T) {
	robot := testRobot()
	l := NewLimiter(robot, 0.002)
	raw := arm.NewJointState(robot.DOF())
	raw.Pos[0] = 100
	_, _ = l.Limit(raw, arm.NewJointState(robot.DOF()), nil)
	assert.Equal(t, 100.0, raw.Pos[0])
}

func TestViolationString(t *testing.T) {
	v := Violation{Joint: GripperJoint, Kind: TorqueLimit, Requested: 2, Applied: 1.5}
	assert.Contains(t, v.String(), "gripper torque")
	v = Violation{Joint: 3, Kind: RateLimit}
	assert.Contains(t, v.String(), "joint 3 rate")
}
