// Package trajectory turns sparse, timestamped joint targets into a
// continuous command that the control loop samples every cycle.
package trajectory

import (
	"sort"

	"github.com/teslashibe/go-arx5/pkg/arm"
)

// Waypoint is a joint state the arm should reach at Time.
type Waypoint struct {
	Time  float64
	State arm.JointState
}

// Trajectory is an immutable, time-ordered list of waypoints. It is safe
// to query from several goroutines.
type Trajectory struct {
	dof    int
	method arm.InterpolationMethod
	points []Waypoint
}

// Len returns the number of waypoints.
func (t *Trajectory) Len() int {
	return len(t.points)
}

// Waypoints returns a copy of the waypoint list.
func (t *Trajectory) Waypoints() []Waypoint {
	out := make([]Waypoint, len(t.points))
	for i, p := range t.points {
		out[i] = Waypoint{Time: p.Time, State: p.State.Clone()}
	}
	return out
}

// End returns the time of the last waypoint, or 0 when empty.
func (t *Trajectory) End() float64 {
	if len(t.points) == 0 {
		return 0
	}
	return t.points[len(t.points)-1].Time
}

// Query samples the trajectory. Times before the first waypoint clamp to
// it and times after the last hold it with zero velocity.
func (t *Trajectory) Query(at float64) arm.JointState {
	n := len(t.points)
	if n == 0 {
		s := arm.NewJointState(t.dof)
		s.Timestamp = at
		return s
	}
	if n == 1 {
		s := t.points[0].State.Clone()
		s.Timestamp = at
		return s
	}
	if at < t.points[0].Time {
		return hold(t.points[0].State, at)
	}
	if at >= t.points[n-1].Time {
		return hold(t.points[n-1].State, at)
	}

	// First waypoint strictly after at; the segment is [i-1, i].
	i := sort.Search(n, func(k int) bool { return t.points[k].Time > at })
	a, b := t.points[i-1], t.points[i]

	var out arm.JointState
	if t.method == arm.InterpolationCubic {
		endVel := i == n-1
		out = cubic(a, b, at, endVel)
	} else {
		out = linear(a, b, at)
	}
	out.Timestamp = at
	return out
}

func hold(s arm.JointState, at float64) arm.JointState {
	out := s.Clone()
	for i := range out.Vel {
		out.Vel[i] = 0
	}
	out.GripperVel = 0
	out.Timestamp = at
	return out
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func linear(a, b Waypoint, at float64) arm.JointState {
	h := b.Time - a.Time
	s := clamp((at-a.Time)/h, 0, 1)
	p0, p1 := a.State, b.State

	out := arm.NewJointState(p0.DOF())
	for j := range out.Pos {
		out.Pos[j] = lerp(p0.Pos[j], p1.Pos[j], s)
		out.Vel[j] = (p1.Pos[j] - p0.Pos[j]) / h
		out.Torque[j] = lerp(p0.Torque[j], p1.Torque[j], s)
	}
	out.GripperPos = lerp(p0.GripperPos, p1.GripperPos, s)
	out.GripperVel = (p1.GripperPos - p0.GripperPos) / h
	out.GripperTorque = lerp(p0.GripperTorque, p1.GripperTorque, s)
	return out
}

// cubic evaluates a Hermite segment. When last is set the segment ends
// the trajectory and its end velocity is zero.
func cubic(a, b Waypoint, at float64, last bool) arm.JointState {
	h := b.Time - a.Time
	s := clamp((at-a.Time)/h, 0, 1)
	s2, s3 := s*s, s*s*s

	h00, h10, h01, h11 := 2*s3-3*s2+1, s3-2*s2+s, -2*s3+3*s2, s3-s2
	d00, d10, d01, d11 := 6*s2-6*s, 3*s2-4*s+1, -6*s2+6*s, 3*s2-2*s

	p0, p1 := a.State, b.State
	v1 := func(v float64) float64 {
		if last {
			return 0
		}
		return v
	}
	herm := func(x0, v0, x1, u1 float64) (pos, vel float64) {
		pos = h00*x0 + h10*h*v0 + h01*x1 + h11*h*u1
		vel = (d00*x0+d10*h*v0+d01*x1+d11*h*u1) / h
		return pos, vel
	}

	out := arm.NewJointState(p0.DOF())
	for j := range out.Pos {
		out.Pos[j], out.Vel[j] = herm(p0.Pos[j], p0.Vel[j], p1.Pos[j], v1(p1.Vel[j]))
		out.Torque[j] = lerp(p0.Torque[j], p1.Torque[j], s)
	}
	out.GripperPos, out.GripperVel = herm(p0.GripperPos, p0.GripperVel, p1.GripperPos, v1(p1.GripperVel))
	out.GripperTorque = lerp(p0.GripperTorque, p1.GripperTorque, s)
	return out
}
