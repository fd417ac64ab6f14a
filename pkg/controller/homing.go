package controller

import (
	"context"
	"time"

	"github.com/teslashibe/go-arx5/pkg/safety"
)

// ResetToHome carries the arm to the zero pose with the gripper closed.
// The gain ramps linearly from the current gain to the target gain, one
// step per control period, over a duration of one second per radian of
// error (at least HomingMinDuration). From damping the target is the
// default gain, otherwise the current gain is kept. ResetToHome blocks
// until the ramp ends or ctx is done.
func (c *Controller) ResetToHome(ctx context.Context) error {
	if err := c.checkActive(); err != nil {
		return err
	}
	if c.State() != Running {
		return ErrNotRunning
	}

	current := c.JointState()
	from := c.Gain()
	to := from
	if from.IsDamping() {
		to = c.cfg.DefaultGain()
	}
	plan := safety.PlanHoming(&c.robot, current, c.robot.HomeState(), from, to, c.cfg.HomingMinDuration, c.cfg.DT)

	hold := current.Clone()
	for i := range hold.Vel {
		hold.Vel[i], hold.Torque[i] = 0, 0
	}
	hold.GripperVel, hold.GripperTorque = 0, 0

	c.cmdMu.Lock()
	now := c.Now()
	c.interp.Fixed(now, hold)
	err := c.interp.Override(now, c.robot.HomeState(), now+plan.Duration)
	c.cmdMu.Unlock()
	if err != nil {
		return err
	}

	c.lg.Info("homing", "duration", plan.Duration, "steps", plan.Steps)
	ticker := time.NewTicker(c.cfg.Period())
	defer ticker.Stop()
	for i := 1; i <= plan.Steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if c.State() == Stopped {
			return ErrStopped
		}
		if !c.setGainUnchecked(plan.GainAt(i)) {
			return ErrEmergency
		}
	}
	c.lg.Info("homing done")
	return nil
}
