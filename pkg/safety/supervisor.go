package safety

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-arx5/pkg/arm"
)

// posMargin is how far past a joint limit feedback may read before it is
// treated as corrupt rather than as an overshoot.
const posMargin = math.Pi

// Verdict is the supervisor's ruling on one cycle.
type Verdict struct {
	// State is what the controller should publish: the decoded state, or
	// the last good one when Fault is set.
	State arm.JointState

	Fault       error
	OverCurrent []int // joints over their torque limit this cycle

	// Tripped is set on the one cycle that latched the emergency.
	Tripped bool
	Reason  error
}

// Supervisor checks decoded feedback each cycle. It is owned by the
// control loop goroutine and is not safe for concurrent use.
type Supervisor struct {
	robot             *arm.RobotConfig
	tripJoint         []float64
	tripGripper       float64
	overCurrentCntMax int
	faultCntMax       int

	overCurrentCnt int
	faultCnt       int
	totalFaults    uint64

	lastGood  arm.JointState
	emergency bool
	reason    error
}

// NewSupervisor returns a supervisor seeded with a zero state.
func NewSupervisor(robot *arm.RobotConfig, overCurrentCntMax, faultCntMax int) *Supervisor {
	tripJoint, tripGripper := robot.TorqueTripLimits()
	return &Supervisor{
		robot:             robot,
		tripJoint:         tripJoint,
		tripGripper:       tripGripper,
		overCurrentCntMax: overCurrentCntMax,
		faultCntMax:       faultCntMax,
		lastGood:          arm.NewJointState(robot.DOF()),
	}
}

// Seed sets the state published until the first good feedback arrives.
func (s *Supervisor) Seed(state arm.JointState) {
	s.lastGood = state.Clone()
}

// Observe checks one cycle. busErr non-nil means feedback was incomplete.
func (s *Supervisor) Observe(decoded arm.JointState, busErr error) Verdict {
	var v Verdict

	fault := busErr
	if fault != nil {
		fault = fmt.Errorf("%w: %v", ErrMissingFeedback, busErr)
	} else {
		fault = s.sanity(decoded)
	}

	if fault != nil {
		s.faultCnt++
		s.totalFaults++
		v.Fault = fault
		v.State = s.lastGood.Clone()
		if s.faultCnt > s.faultCntMax {
			s.trip(&v, fmt.Errorf("%w: %d cycles, last: %v", ErrTooManyFaults, s.faultCnt, fault))
		}
		return v
	}
	s.faultCnt = 0
	s.lastGood = decoded.Clone()
	v.State = decoded

	for j, lim := range s.tripJoint {
		if math.Abs(decoded.Torque[j]) > lim {
			v.OverCurrent = append(v.OverCurrent, j)
		}
	}
	if s.robot.HasGripper() && math.Abs(decoded.GripperTorque) > s.tripGripper {
		v.OverCurrent = append(v.OverCurrent, GripperJoint)
	}
	if len(v.OverCurrent) == 0 {
		s.overCurrentCnt = 0
		return v
	}
	s.overCurrentCnt++
	if s.overCurrentCnt > s.overCurrentCntMax {
		s.trip(&v, fmt.Errorf("%w: joints %v for %d cycles", ErrOverCurrent, v.OverCurrent, s.overCurrentCnt))
	}
	return v
}

func (s *Supervisor) trip(v *Verdict, reason error) {
	if s.emergency {
		return
	}
	s.emergency = true
	s.reason = reason
	v.Tripped = true
	v.Reason = reason
}

// Trip latches the emergency from outside the feedback path.
func (s *Supervisor) Trip(reason error) bool {
	var v Verdict
	s.trip(&v, reason)
	return v.Tripped
}

func (s *Supervisor) sanity(st arm.JointState) error {
	if err := st.CheckDOF(s.robot.DOF()); err != nil {
		return fmt.Errorf("%w: %v", ErrOutOfRange, err)
	}
	if !st.IsFinite() {
		return ErrNonFinite
	}
	for j, lim := range s.robot.Joints {
		if st.Pos[j] < lim.PosMin-posMargin || st.Pos[j] > lim.PosMax+posMargin {
			return fmt.Errorf("%w: joint %d at %.3f rad", ErrOutOfRange, j, st.Pos[j])
		}
	}
	if s.robot.HasGripper() {
		w := s.robot.GripperWidth
		if st.GripperPos < -0.5*w || st.GripperPos > 1.5*w {
			return fmt.Errorf("%w: gripper at %.4f m", ErrOutOfRange, st.GripperPos)
		}
	}
	return nil
}

// Emergency reports whether the emergency latch is set.
func (s *Supervisor) Emergency() bool { return s.emergency }

// Reason returns why the emergency latched, or nil.
func (s *Supervisor) Reason() error { return s.reason }

// OverCurrentCount returns the consecutive over-current cycles.
func (s *Supervisor) OverCurrentCount() int { return s.overCurrentCnt }

// FaultCount returns the consecutive faulty cycles.
func (s *Supervisor) FaultCount() int { return s.faultCnt }

// TotalFaults returns every faulty cycle since start.
func (s *Supervisor) TotalFaults() uint64 { return s.totalFaults }

// LastGood returns the last state that passed the sanity check.
func (s *Supervisor) LastGood() arm.JointState { return s.lastGood.Clone() }
