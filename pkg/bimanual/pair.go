// Package bimanual drives a left and a right arm as one unit.
package bimanual

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-arx5/internal/log"
	"github.com/teslashibe/go-arx5/pkg/arm"
)

// ErrActionLength is returned when a combined action has the wrong size.
var ErrActionLength = errors.New("bimanual: wrong action length")

// Arm is the controller surface a Pair needs. *controller.Controller
// satisfies it.
type Arm interface {
	Start() error
	Stop() error
	ResetToHome(ctx context.Context) error
	SetToDamping() error
	SetJointCommand(cmd arm.JointState) error
	JointState() arm.JointState
	Now() float64
}

// Pair holds two arms with the same joint count.
type Pair struct {
	Left, Right Arm
	dof         int
}

// New pairs left and right, each with dof joints plus a gripper.
func New(left, right Arm, dof int) *Pair {
	return &Pair{Left: left, Right: right, dof: dof}
}

// ActionLen is the size of a combined action: each arm's joints followed
// by its gripper, left first.
func (p *Pair) ActionLen() int {
	return 2 * (p.dof + 1)
}

// both runs fn on each arm concurrently and returns the first error.
func (p *Pair) both(ctx context.Context, op string, fn func(ctx context.Context, side string, a Arm) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for side, a := range map[string]Arm{"left": p.Left, "right": p.Right} {
		side, a := side, a
		g.Go(func() error {
			if err := fn(ctx, side, a); err != nil {
				log.Warn("bimanual operation failed", "op", op, "side", side, "err", err)
				return fmt.Errorf("%s arm: %w", side, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Start starts both arms.
func (p *Pair) Start(ctx context.Context) error {
	return p.both(ctx, "start", func(_ context.Context, _ string, a Arm) error { return a.Start() })
}

// ResetToHome homes both arms in parallel.
func (p *Pair) ResetToHome(ctx context.Context) error {
	return p.both(ctx, "reset_to_home", func(ctx context.Context, _ string, a Arm) error { return a.ResetToHome(ctx) })
}

// SetToDamping damps both arms.
func (p *Pair) SetToDamping(ctx context.Context) error {
	return p.both(ctx, "set_to_damping", func(_ context.Context, _ string, a Arm) error { return a.SetToDamping() })
}

// Stop stops both arms. Both are always stopped, even if one fails.
func (p *Pair) Stop() error {
	return p.both(context.Background(), "stop", func(_ context.Context, _ string, a Arm) error { return a.Stop() })
}

// Split cuts a combined action into one command per arm.
func (p *Pair) Split(action []float64) (left, right arm.JointState, err error) {
	if len(action) != p.ActionLen() {
		return arm.JointState{}, arm.JointState{}, fmt.Errorf("%w: want %d, got %d", ErrActionLength, p.ActionLen(), len(action))
	}
	half := p.dof + 1
	return p.command(action[:half]), p.command(action[half:]), nil
}

func (p *Pair) command(v []float64) arm.JointState {
	s := arm.NewJointState(p.dof)
	copy(s.Pos, v[:p.dof])
	s.GripperPos = v[p.dof]
	return s
}

// SetJointCommand splits action and sends each half. The left arm is
// commanded first; a failure there leaves the right arm untouched.
func (p *Pair) SetJointCommand(action []float64) error {
	left, right, err := p.Split(action)
	if err != nil {
		return err
	}
	if err := p.Left.SetJointCommand(left); err != nil {
		return fmt.Errorf("left arm: %w", err)
	}
	if err := p.Right.SetJointCommand(right); err != nil {
		return fmt.Errorf("right arm: %w", err)
	}
	return nil
}

// Observation joins both measured states in action order.
func (p *Pair) Observation() []float64 {
	out := make([]float64, 0, p.ActionLen())
	for _, a := range []Arm{p.Left, p.Right} {
		s := a.JointState()
		out = append(out, s.Pos...)
		out = append(out, s.GripperPos)
	}
	return out
}
