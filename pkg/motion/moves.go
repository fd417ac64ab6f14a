package motion

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-arx5/pkg/arm"
)

// Segment is one leg of a multi-segment move. A zero Duration jumps
// straight to Target.
type Segment struct {
	Target   arm.JointState `json:"target"`
	Duration time.Duration  `json:"duration"`
	Easing   Easing         `json:"easing,omitempty"`
}

// EasedMove blends from one pose to another along an easing curve.
type EasedMove struct {
	name     string
	from, to arm.JointState
	duration time.Duration
	easing   Easing
}

// NewEasedMove creates a move from from to to over d.
func NewEasedMove(name string, from, to arm.JointState, d time.Duration, e Easing) *EasedMove {
	if e == "" {
		e = EaseInOutQuad
	}
	return &EasedMove{
		name:     name,
		from:     positionsOnly(from),
		to:       positionsOnly(to),
		duration: d,
		easing:   e,
	}
}

// Name returns the move name.
func (m *EasedMove) Name() string {
	return m.name
}

// Duration returns the move length.
func (m *EasedMove) Duration() time.Duration {
	return m.duration
}

// Evaluate returns the eased pose at t.
func (m *EasedMove) Evaluate(t time.Duration) arm.JointState {
	if m.duration <= 0 || t >= m.duration {
		return m.to.Clone()
	}
	alpha := m.easing.Apply(float64(t) / float64(m.duration))
	return arm.Blend(m.from, m.to, alpha)
}

// IsComplete returns true once t reaches the duration.
func (m *EasedMove) IsComplete(t time.Duration) bool {
	return t >= m.duration
}

// SequenceMove chains segments, each starting where the previous ended.
type SequenceMove struct {
	moves  []*EasedMove
	starts []time.Duration
	total  time.Duration
}

// NewSequenceMove builds a move through segs starting at from.
func NewSequenceMove(from arm.JointState, segs []Segment) (*SequenceMove, error) {
	if len(segs) == 0 {
		return nil, ErrEmptyMove
	}
	dof := from.DOF()
	s := &SequenceMove{}
	cur := from
	for i, seg := range segs {
		if err := seg.Target.CheckDOF(dof); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		if !seg.Target.IsFinite() {
			return nil, fmt.Errorf("%w %d: non-finite target", ErrBadSegment, i)
		}
		if seg.Duration < 0 {
			return nil, fmt.Errorf("%w %d: negative duration %v", ErrBadSegment, i, seg.Duration)
		}
		if seg.Easing != "" {
			if _, err := ParseEasing(string(seg.Easing)); err != nil {
				return nil, fmt.Errorf("segment %d: %w", i, err)
			}
		}
		s.moves = append(s.moves, NewEasedMove(fmt.Sprintf("segment-%d", i), cur, seg.Target, seg.Duration, seg.Easing))
		s.starts = append(s.starts, s.total)
		s.total += seg.Duration
		cur = seg.Target
	}
	return s, nil
}

// Name returns "sequence".
func (s *SequenceMove) Name() string {
	return "sequence"
}

// Duration returns the summed segment durations.
func (s *SequenceMove) Duration() time.Duration {
	return s.total
}

// Evaluate returns the pose of the segment active at t.
func (s *SequenceMove) Evaluate(t time.Duration) arm.JointState {
	for i := len(s.moves) - 1; i >= 0; i-- {
		if t >= s.starts[i] {
			return s.moves[i].Evaluate(t - s.starts[i])
		}
	}
	return s.moves[0].Evaluate(0)
}

// IsComplete returns true once the last segment is done.
func (s *SequenceMove) IsComplete(t time.Duration) bool {
	return t >= s.total
}

// Segments returns how many legs the move has.
func (s *SequenceMove) Segments() int {
	return len(s.moves)
}
