package calibration

import (
	"fmt"
	"math"
	"sync"

	"github.com/teslashibe/go-arx5/pkg/arm"
)

// Recorder widens per-joint ranges as the arm is moved by hand. It is
// safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	joints  []Range
	gripper Range
	samples int
}

// NewRecorder returns a recorder for an arm with dof joints.
func NewRecorder(dof int) *Recorder {
	r := &Recorder{joints: make([]Range, dof)}
	r.Reset()
	return r
}

// Reset forgets every sample.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.joints {
		r.joints[i] = Range{Min: math.Inf(1), Max: math.Inf(-1)}
	}
	r.gripper = Range{Min: math.Inf(1), Max: math.Inf(-1)}
	r.samples = 0
}

// Observe folds one state into the ranges. Non-finite states are skipped.
func (r *Recorder) Observe(s arm.JointState) error {
	if err := s.CheckDOF(len(r.joints)); err != nil {
		return err
	}
	if !s.IsFinite() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range s.Pos {
		r.joints[i].Min = math.Min(r.joints[i].Min, p)
		r.joints[i].Max = math.Max(r.joints[i].Max, p)
	}
	r.gripper.Min = math.Min(r.gripper.Min, s.GripperPos)
	r.gripper.Max = math.Max(r.gripper.Max, s.GripperPos)
	r.samples++
	return nil
}

// Samples returns how many states were observed.
func (r *Recorder) Samples() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.samples
}

// Calibration returns the recorded ranges. It fails until every joint has
// moved.
func (r *Recorder) Calibration() (Calibration, error) {
	r.mu.Lock()
	c := Calibration{Joints: append([]Range(nil), r.joints...), Gripper: r.gripper}
	n := r.samples
	r.mu.Unlock()

	if n == 0 {
		return Calibration{}, fmt.Errorf("%w: no samples recorded", ErrInvalid)
	}
	if err := c.Validate(len(c.Joints)); err != nil {
		return Calibration{}, err
	}
	return c, nil
}
