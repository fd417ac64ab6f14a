package trajectory

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-arx5/pkg/arm"
)

// FixedEpsilon is how close to now a target must be to install it as a
// single point instead of an interpolated segment.
const FixedEpsilon = 1e-3

// Interpolator owns the current trajectory and installs new targets
// according to a waypoint policy. It is not safe for concurrent use; the
// controller guards it. Every mutation builds a new Trajectory, so a
// Current() snapshot can be queried without holding that guard.
type Interpolator struct {
	dof       int
	method    arm.InterpolationMethod
	policy    arm.WaypointPolicy
	maxPoints int

	traj *Trajectory
}

// NewInterpolator returns an interpolator holding an empty trajectory.
func NewInterpolator(dof int, method arm.InterpolationMethod, policy arm.WaypointPolicy, maxPoints int) *Interpolator {
	if maxPoints < 2 {
		maxPoints = 2
	}
	ip := &Interpolator{dof: dof, method: method, policy: policy, maxPoints: maxPoints}
	ip.traj = ip.build(nil)
	return ip
}

func (ip *Interpolator) build(points []Waypoint) *Trajectory {
	return &Trajectory{dof: ip.dof, method: ip.method, points: points}
}

// Current returns the installed trajectory.
func (ip *Interpolator) Current() *Trajectory {
	return ip.traj
}

// Len returns the number of installed waypoints.
func (ip *Interpolator) Len() int {
	return ip.traj.Len()
}

// Query samples the installed trajectory.
func (ip *Interpolator) Query(at float64) arm.JointState {
	return ip.traj.Query(at)
}

// Policy returns the policy used by SetTarget.
func (ip *Interpolator) Policy() arm.WaypointPolicy {
	return ip.policy
}

func (ip *Interpolator) check(s arm.JointState) error {
	if err := s.CheckDOF(ip.dof); err != nil {
		return fmt.Errorf("%w: %v", ErrDOFMismatch, err)
	}
	return nil
}

// SetTarget installs end to be reached at endTime. Targets within
// FixedEpsilon of now become a single point; otherwise the configured
// policy decides between Override and Append.
func (ip *Interpolator) SetTarget(now float64, end arm.JointState, endTime float64) error {
	if err := ip.check(end); err != nil {
		return err
	}
	if math.Abs(endTime-now) < FixedEpsilon {
		ip.Fixed(now, end)
		return nil
	}
	if endTime < now {
		return fmt.Errorf("%w: %.4f < %.4f", ErrTimestampInPast, endTime, now)
	}
	if ip.policy == arm.PolicyAppend && ip.traj.Len() > 0 {
		ip.holdIfFinished(now)
		return ip.Append(end, endTime)
	}
	return ip.Override(now, end, endTime)
}

// Override replaces the trajectory with two points: the current output at
// now and end at endTime. The start point is sampled before the swap so
// position stays continuous.
func (ip *Interpolator) Override(now float64, end arm.JointState, endTime float64) error {
	if err := ip.check(end); err != nil {
		return err
	}
	if endTime <= now {
		return fmt.Errorf("%w: %.4f <= %.4f", ErrTimestampInPast, endTime, now)
	}
	start := ip.traj.Query(now)
	if ip.traj.Len() == 0 {
		start = end.Clone()
		start.Timestamp = now
	}
	target := end.Clone()
	target.Timestamp = endTime
	ip.traj = ip.build([]Waypoint{
		{Time: now, State: start},
		{Time: endTime, State: target},
	})
	return nil
}

// Append adds end after the last waypoint, keeping the existing ones.
func (ip *Interpolator) Append(end arm.JointState, endTime float64) error {
	if err := ip.check(end); err != nil {
		return err
	}
	n := ip.traj.Len()
	if n > 0 && endTime <= ip.traj.points[n-1].Time {
		return fmt.Errorf("%w: %.4f <= %.4f", ErrWaypointOrder, endTime, ip.traj.points[n-1].Time)
	}
	if n >= ip.maxPoints {
		return fmt.Errorf("%w: limit %d", ErrTrajectoryFull, ip.maxPoints)
	}
	target := end.Clone()
	target.Timestamp = endTime
	points := make([]Waypoint, n, n+1)
	copy(points, ip.traj.points)
	ip.traj = ip.build(append(points, Waypoint{Time: endTime, State: target}))
	return nil
}

// holdIfFinished restarts a finished trajectory as a hold at now, so an
// appended segment starts from the pose being output instead of from the
// stale last waypoint.
func (ip *Interpolator) holdIfFinished(now float64) {
	n := ip.traj.Len()
	if n == 0 || ip.traj.points[n-1].Time >= now {
		return
	}
	ip.traj = ip.build([]Waypoint{{Time: now, State: hold(ip.traj.Query(now), now)}})
}

// Fixed installs state as a single point. The command jumps to it on the
// next cycle; the limiter bounds how fast the joints follow.
func (ip *Interpolator) Fixed(now float64, state arm.JointState) {
	s := state.Clone()
	s.Timestamp = now
	ip.traj = ip.build([]Waypoint{{Time: now, State: s}})
}

// Prune drops waypoints that lie entirely before now, keeping the segment
// that contains now so the output does not change.
func (ip *Interpolator) Prune(now float64) {
	pts := ip.traj.points
	drop := 0
	for drop+1 < len(pts) && pts[drop+1].Time <= now {
		drop++
	}
	if drop == 0 {
		return
	}
	kept := make([]Waypoint, len(pts)-drop)
	copy(kept, pts[drop:])
	if len(kept) == 1 {
		kept[0].State = hold(kept[0].State, kept[0].Time)
	}
	ip.traj = ip.build(kept)
}
