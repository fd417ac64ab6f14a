package trajectory

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-arx5/pkg/arm"
)

const dof = 3

func stateAt(pos ...float64) arm.JointState {
	s := arm.NewJointState(dof)
	copy(s.Pos, pos)
	return s
}

func newLinear(policy arm.WaypointPolicy) *Interpolator {
	return NewInterpolator(dof, arm.InterpolationLinear, policy, 16)
}

func TestLinearEndpointsAndMonotonic(t *testing.T) {
	ip := newLinear(arm.PolicyOverride)
	ip.Fixed(0, stateAt(0, 1, -0.5))
	require.NoError(t, ip.Override(1, stateAt(2, -1, -0.5), 3))

	p0 := ip.Query(1)
	p1 := ip.Query(3)
	assert.InDeltaSlice(t, []float64{0, 1, -0.5}, p0.Pos, 1e-12)
	assert.InDeltaSlice(t, []float64{2, -1, -0.5}, p1.Pos, 1e-12)

	prev := p0
	for tm := 1.0; tm <= 3.0; tm += 0.01 {
		cur := ip.Query(tm)
		assert.GreaterOrEqual(t, cur.Pos[0], prev.Pos[0]-1e-12)
		assert.LessOrEqual(t, cur.Pos[1], prev.Pos[1]+1e-12)
		prev = cur
	}

	mid := ip.Query(2)
	assert.InDelta(t, 1.0, mid.Vel[0], 1e-12)
	assert.InDelta(t, -1.0, mid.Vel[1], 1e-12)
	assert.InDelta(t, 2.0, mid.Timestamp, 1e-12)
}

func TestQueryClampsOutsideWindow(t *testing.T) {
	ip := newLinear(arm.PolicyOverride)
	ip.Fixed(0, stateAt(0, 0, 0))
	require.NoError(t, ip.Override(1, stateAt(1, 1, 1), 2))

	before := ip.Query(0.5)
	after := ip.Query(10)
	assert.Equal(t, []float64{0, 0, 0}, before.Pos)
	assert.Equal(t, []float64{0, 0, 0}, before.Vel)
	assert.Equal(t, []float64{1, 1, 1}, after.Pos)
	assert.Equal(t, []float64{0, 0, 0}, after.Vel)
}

func TestOverrideStartsFromCurrentOutput(t *testing.T) {
	ip := newLinear(arm.PolicyOverride)
	ip.Fixed(0, stateAt(0, 0, 0))
	require.NoError(t, ip.Override(0, stateAt(1, 0, 0), 1))

	// Halfway there, retarget.
	require.NoError(t, ip.Override(0.5, stateAt(-1, 0, 0), 1.5))
	assert.Equal(t, 2, ip.Len())

	wps := ip.Current().Waypoints()
	assert.InDelta(t, 0.5, wps[0].State.Pos[0], 1e-12)
	assert.InDelta(t, 0.5, ip.Query(0.5).Pos[0], 1e-12)
	assert.InDelta(t, -1, ip.Query(1.5).Pos[0], 1e-12)
}

func TestAppendPreservesHistory(t *testing.T) {
	ip := newLinear(arm.PolicyAppend)
	ip.Fixed(0, stateAt(0, 0, 0))
	require.NoError(t, ip.Append(stateAt(1, 0, 0), 1))
	require.NoError(t, ip.Append(stateAt(1, 1, 0), 2))

	before := ip.Current().Waypoints()
	require.NoError(t, ip.Append(stateAt(0, 1, 0), 3))
	after := ip.Current().Waypoints()

	require.Len(t, after, len(before)+1)
	for i := range before {
		assert.Equal(t, before[i].Time, after[i].Time)
		assert.Equal(t, before[i].State.Pos, after[i].State.Pos)
	}
	assert.InDelta(t, 0.5, ip.Query(2.5).Pos[0], 1e-12)
}

func TestAppendRejectsOutOfOrder(t *testing.T) {
	ip := newLinear(arm.PolicyAppend)
	ip.Fixed(0, stateAt(0, 0, 0))
	require.NoError(t, ip.Append(stateAt(1, 0, 0), 1))

	snapshot := ip.Current()
	err := ip.Append(stateAt(2, 0, 0), 1)
	assert.True(t, errors.Is(err, ErrWaypointOrder))
	err = ip.Append(stateAt(2, 0, 0), 0.5)
	assert.ErrorIs(t, err, ErrWaypointOrder)
	assert.Same(t, snapshot, ip.Current())
}

func TestAppendCap(t *testing.T) {
	ip := NewInterpolator(dof, arm.InterpolationLinear, arm.PolicyAppend, 2)
	ip.Fixed(0, stateAt(0, 0, 0))
	require.NoError(t, ip.Append(stateAt(1, 0, 0), 1))
	assert.ErrorIs(t, ip.Append(stateAt(1, 0, 0), 2), ErrTrajectoryFull)
}

func TestSetTargetPolicies(t *testing.T) {
	t.Run("fixed within epsilon", func(t *testing.T) {
		ip := newLinear(arm.PolicyOverride)
		require.NoError(t, ip.SetTarget(5, stateAt(1, 2, 3), 5.0005))
		assert.Equal(t, 1, ip.Len())
		assert.Equal(t, []float64{1, 2, 3}, ip.Query(5).Pos)
		assert.Equal(t, []float64{1, 2, 3}, ip.Query(100).Pos)
	})

	t.Run("override", func(t *testing.T) {
		ip := newLinear(arm.PolicyOverride)
		ip.Fixed(0, stateAt(0, 0, 0))
		require.NoError(t, ip.SetTarget(0, stateAt(1, 0, 0), 1))
		require.NoError(t, ip.SetTarget(0.2, stateAt(1, 0, 0), 1))
		assert.Equal(t, 2, ip.Len())
	})

	t.Run("append", func(t *testing.T) {
		ip := newLinear(arm.PolicyAppend)
		ip.Fixed(0, stateAt(0, 0, 0))
		require.NoError(t, ip.SetTarget(0, stateAt(1, 0, 0), 1))
		require.NoError(t, ip.SetTarget(0.2, stateAt(2, 0, 0), 2))
		assert.Equal(t, 3, ip.Len())
	})

	t.Run("past target", func(t *testing.T) {
		ip := newLinear(arm.PolicyOverride)
		ip.Fixed(0, stateAt(0, 0, 0))
		assert.ErrorIs(t, ip.SetTarget(1, stateAt(1, 0, 0), 0.5), ErrTimestampInPast)
	})

	t.Run("dof mismatch", func(t *testing.T) {
		ip := newLinear(arm.PolicyOverride)
		assert.ErrorIs(t, ip.SetTarget(0, arm.NewJointState(2), 1), ErrDOFMismatch)
	})
}

func TestPruneKeepsActiveSegment(t *testing.T) {
	ip := newLinear(arm.PolicyAppend)
	ip.Fixed(0, stateAt(0, 0, 0))
	require.NoError(t, ip.Append(stateAt(1, 0, 0), 1))
	require.NoError(t, ip.Append(stateAt(2, 0, 0), 2))
	require.NoError(t, ip.Append(stateAt(3, 0, 0), 3))

	want := ip.Query(1.5)
	ip.Prune(1.5)
	assert.Equal(t, 3, ip.Len())
	assert.InDeltaSlice(t, want.Pos, ip.Query(1.5).Pos, 1e-12)

	ip.Prune(10)
	assert.Equal(t, 1, ip.Len())
	held := ip.Query(10)
	assert.Equal(t, []float64{3, 0, 0}, held.Pos)
	assert.Equal(t, []float64{0, 0, 0}, held.Vel)
}

func TestAppendAfterFinishedTrajectory(t *testing.T) {
	ip := newLinear(arm.PolicyAppend)
	ip.Fixed(0, stateAt(0, 0, 0))
	require.NoError(t, ip.SetTarget(0, stateAt(0.2, 0, 0), 1))

	ip.Prune(10)
	before := ip.Query(10)
	require.NoError(t, ip.SetTarget(10, stateAt(1.2, 0, 0), 11))

	assert.InDeltaSlice(t, before.Pos, ip.Query(10).Pos, 1e-12)
	assert.InDelta(t, 0.7, ip.Query(10.5).Pos[0], 1e-12)
	assert.InDelta(t, 1.2, ip.Query(11).Pos[0], 1e-12)
	assert.Equal(t, 2, ip.Len())

	// A hold seeded long ago behaves the same.
	ip = newLinear(arm.PolicyAppend)
	ip.Fixed(0, stateAt(0.3, 0, 0))
	require.NoError(t, ip.SetTarget(5, stateAt(0.5, 0, 0), 6))
	assert.InDelta(t, 0.3, ip.Query(5).Pos[0], 1e-12)
	assert.InDelta(t, 0.4, ip.Query(5.5).Pos[0], 1e-12)
}

func TestCubicIsSmooth(t *testing.T) {
	ip := NewInterpolator(dof, arm.InterpolationCubic, arm.PolicyOverride, 16)
	ip.Fixed(0, stateAt(0, 0, 0))
	require.NoError(t, ip.Override(0, stateAt(1, -1, 0), 2))

	start := ip.Query(0)
	end := ip.Query(2)
	assert.InDelta(t, 0, start.Pos[0], 1e-12)
	assert.InDelta(t, 1, end.Pos[0], 1e-12)

	// Velocity starts and ends at rest and peaks mid-way at 1.5x the mean.
	assert.InDelta(t, 0, ip.Query(1e-9).Vel[0], 1e-6)
	assert.InDelta(t, 0, ip.Query(2-1e-9).Vel[0], 1e-6)
	assert.InDelta(t, 0.75, ip.Query(1).Vel[0], 1e-12)
	assert.InDelta(t, -0.75, ip.Query(1).Vel[1], 1e-12)

	// Retargeting mid-flight keeps velocity continuous.
	before := ip.Query(1)
	require.NoError(t, ip.Override(1, stateAt(0, 0, 0), 3))
	after := ip.Query(1)
	assert.InDelta(t, before.Vel[0], after.Vel[0], 1e-9)
	assert.InDelta(t, before.Pos[0], after.Pos[0], 1e-12)
}

func TestEmptyTrajectoryQuery(t *testing.T) {
	ip := newLinear(arm.PolicyOverride)
	s := ip.Query(3)
	assert.Len(t, s.Pos, dof)
	assert.False(t, math.IsNaN(s.Pos[0]))
	assert.Equal(t, 3.0, s.Timestamp)
}
