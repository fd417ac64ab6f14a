package safety

import (
	"math"

	"github.com/teslashibe/go-arx5/pkg/arm"
)

// HomingPlan ramps the gain from From to To in Steps control periods
// while the trajectory carries the arm home over Duration seconds.
type HomingPlan struct {
	Duration float64
	Steps    int
	From     arm.Gain
	To       arm.Gain
}

// PlanHoming sizes the move at 1 rad/s of the largest joint error, with
// the gripper error scaled so a full stroke counts as 2 rad. The duration
// never drops below floor.
func PlanHoming(robot *arm.RobotConfig, current, home arm.JointState, from, to arm.Gain, floor, dt float64) HomingPlan {
	maxErr := current.MaxPosError(home)
	if robot.HasGripper() {
		g := math.Abs(current.GripperPos-home.GripperPos) * 2 / robot.GripperWidth
		maxErr = math.Max(maxErr, g)
	}
	duration := math.Max(maxErr, floor)
	steps := int(math.Ceil(duration/dt - 1e-9))
	if steps < 1 {
		steps = 1
	}
	return HomingPlan{Duration: duration, Steps: steps, From: from.Clone(), To: to.Clone()}
}

// GainAt returns the gain for step i in [0, Steps].
func (p HomingPlan) GainAt(i int) arm.Gain {
	alpha := float64(i) / float64(p.Steps)
	if alpha > 1 {
		alpha = 1
	}
	if alpha < 0 {
		alpha = 0
	}
	return arm.BlendGain(p.From, p.To, alpha)
}
