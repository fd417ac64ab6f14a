package motion

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-arx5/internal/log"
	"github.com/teslashibe/go-arx5/pkg/arm"
)

// DefaultRate is how often a Player sends a pose.
const DefaultRate = 10 * time.Millisecond

// PlayerOption customises a Player.
type PlayerOption func(*Player)

// WithRate sets the streaming period.
func WithRate(d time.Duration) PlayerOption {
	return func(p *Player) {
		if d > 0 {
			p.rate = d
		}
	}
}

// WithInference boosts the wrist gains used by SmoothGo.
func WithInference(on bool) PlayerOption {
	return func(p *Player) { p.inference = on }
}

// WithRelease makes SmoothGo drop into gravity compensation when the move
// ends.
func WithRelease(on bool) PlayerOption {
	return func(p *Player) { p.release = on }
}

// Player streams moves to a Commander.
type Player struct {
	c         Commander
	rate      time.Duration
	inference bool
	release   bool

	tickCount  atomic.Uint64
	errorCount atomic.Uint64
}

// NewPlayer creates a player for c.
func NewPlayer(c Commander, opts ...PlayerOption) *Player {
	p := &Player{c: c, rate: DefaultRate}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Ticks returns how many poses have been sent.
func (p *Player) Ticks() uint64 {
	return p.tickCount.Load()
}

// Run streams m until it completes or ctx is done. Each pose is stamped
// one period ahead. The final pose is always the move's end pose.
func (p *Player) Run(ctx context.Context, m Move) error {
	ticker := time.NewTicker(p.rate)
	defer ticker.Stop()

	log.Debug("move started", "move", m.Name(), "duration", m.Duration())
	start := time.Now()
	for {
		elapsed := time.Since(start)
		done := m.IsComplete(elapsed)

		pose := m.Evaluate(elapsed)
		if done {
			pose.Timestamp = 0
		} else {
			pose.Timestamp = p.c.Now() + p.rate.Seconds()
		}
		if err := p.c.SetJointCommand(pose); err != nil {
			p.errorCount.Add(1)
			return fmt.Errorf("move %s at %v: %w", m.Name(), elapsed.Round(time.Millisecond), err)
		}
		p.tickCount.Add(1)
		if done {
			log.Debug("move finished", "move", m.Name(), "ticks", p.tickCount.Load())
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Play runs segs in order starting from the measured pose.
func (p *Player) Play(ctx context.Context, segs ...Segment) error {
	m, err := NewSequenceMove(p.c.JointState(), segs)
	if err != nil {
		return err
	}
	return p.Run(ctx, m)
}

// SmoothGo holds the current pose, switches to position control and
// moves to target over d. With WithRelease the arm is left in gravity
// compensation afterwards.
func (p *Player) SmoothGo(ctx context.Context, target arm.JointState, d time.Duration, e Easing) error {
	if err := SetMode(p.c, ModePosition, p.inference); err != nil {
		return fmt.Errorf("enter position control: %w", err)
	}
	log.Info("smooth go", "duration", d, "easing", e)
	if err := p.Play(ctx, Segment{Target: target, Duration: d, Easing: e}); err != nil {
		return err
	}
	if p.release {
		if err := SetMode(p.c, ModeGravityCompensation, false); err != nil {
			return fmt.Errorf("release to gravity compensation: %w", err)
		}
	}
	return nil
}

// SmoothGoHome is SmoothGo towards the zero pose.
func (p *Player) SmoothGoHome(ctx context.Context, d time.Duration, e Easing) error {
	cfg := p.c.ControllerConfig()
	dof := cfg.DefaultGain().DOF()
	return p.SmoothGo(ctx, arm.NewJointState(dof), d, e)
}
