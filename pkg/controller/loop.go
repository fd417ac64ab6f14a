package controller

import (
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-arx5/pkg/arm"
	"github.com/teslashibe/go-arx5/pkg/can"
	"github.com/teslashibe/go-arx5/pkg/motor"
	"github.com/teslashibe/go-arx5/pkg/rt"
)

// Start moves Idle to Running, or resumes a paused loop. From Idle it
// enables the motors, reads their state with zero stiffness and holds the
// arm where it is before the loop starts.
func (c *Controller) Start() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	switch c.State() {
	case Running:
		return nil
	case Paused:
		c.paused.Store(false)
		c.runState.Store(int32(Running))
		c.lg.Info("control loop resumed")
		return nil
	case Stopped:
		return ErrStopped
	}

	c.enable()
	state, err := c.syncState()
	if err != nil {
		return err
	}

	now := c.Now()
	hold := state.Clone()
	for i := range hold.Vel {
		hold.Vel[i], hold.Torque[i] = 0, 0
	}
	hold.GripperVel, hold.GripperTorque = 0, 0

	c.cmdMu.Lock()
	c.interp.Fixed(now, hold)
	c.cmdMu.Unlock()

	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()

	c.supervisor.Seed(state)
	c.prevApplied = hold

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.runState.Store(int32(Running))
	go c.loop(c.stop, c.done)

	c.lg.Info("control loop started",
		"dt", c.cfg.DT, "interpolation", c.cfg.Interpolation, "policy", c.cfg.WaypointPolicy)
	return nil
}

// Pause keeps the loop ticking but stops bus traffic.
func (c *Controller) Pause() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	switch c.State() {
	case Running:
		c.paused.Store(true)
		c.runState.Store(int32(Paused))
		c.lg.Info("control loop paused")
		return nil
	case Paused:
		return nil
	case Stopped:
		return ErrStopped
	default:
		return ErrNotRunning
	}
}

// Stop ends the loop after the in-flight cycle and, if configured, leaves
// the motors damped and disabled. Stop is terminal and idempotent. It
// does not close the bus.
func (c *Controller) Stop() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	prev := c.State()
	if prev == Stopped {
		return nil
	}
	c.runState.Store(int32(Stopped))
	if prev == Idle {
		return nil
	}

	close(c.stop)
	<-c.done
	if c.cfg.ShutdownToPassive {
		c.passivate()
	}
	c.lg.Info("control loop stopped", "cycles", c.Stats().Cycles)
	return nil
}

func (c *Controller) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if c.cfg.RTPriority > 0 {
		if err := rt.Elevate(c.cfg.RTPriority); err != nil {
			c.lg.Warn("real-time priority unavailable, using default scheduling", "err", err)
		}
	}

	period := c.cfg.Period()
	tolerance := c.cfg.OverrunTolerance
	timer := time.NewTimer(period)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		default:
		}

		start := time.Now()
		if !c.paused.Load() {
			c.cycle()
		}
		elapsed := time.Since(start)

		c.stateMu.Lock()
		c.stats.LastCycle = elapsed
		if elapsed > c.stats.MaxCycle {
			c.stats.MaxCycle = elapsed
		}
		if elapsed > period+tolerance {
			c.stats.Overruns++
		}
		c.stateMu.Unlock()

		if elapsed > period+tolerance {
			c.emit(EventTimingViolation, "cycle took %v, period %v", elapsed, period)
			c.overrunLog.Do(func() {
				c.lg.Warn("control cycle overrun", "elapsed", elapsed, "period", period)
			})
		}
		if elapsed >= period {
			continue
		}

		timer.Reset(period - elapsed)
		select {
		case <-stop:
			return
		case <-timer.C:
		}
	}
}

// cycle runs one control period. It never returns an error: faults
// become counters, events or the emergency latch.
func (c *Controller) cycle() {
	now := c.Now()
	emergency := c.Emergency()

	c.cmdMu.Lock()
	traj := c.interp.Current()
	gain := c.gain
	c.cmdMu.Unlock()

	raw := traj.Query(now)
	if emergency {
		for i := range raw.Torque {
			raw.Torque[i] = 0
		}
		raw.GripperTorque = 0
	}

	var gravity []float64
	if c.cfg.GravityCompensation {
		g, err := c.dynamics.GravityTorque(c.supervisor.LastGood().Pos)
		if err != nil {
			c.faultLog.Do(func() { c.lg.Warn("gravity compensation failed", "err", err) })
		} else {
			gravity = g
		}
	}

	cmd, violations := c.limiter.Limit(raw, c.prevApplied, gravity)
	c.prevApplied = cmd

	decoded, busErr := c.exchange(cmd, gain)
	decoded.Timestamp = now
	verdict := c.supervisor.Observe(decoded, busErr)

	published := verdict.State
	published.Timestamp = now
	c.stateMu.Lock()
	c.state = published
	c.stats.Cycles++
	c.stats.LimitViolations += uint64(len(violations))
	c.stats.OverCurrentCount = c.supervisor.OverCurrentCount()
	if verdict.Fault != nil {
		if busErr != nil {
			c.stats.BusFaults++
		} else {
			c.stats.SanityFaults++
		}
	}
	c.stateMu.Unlock()

	if len(violations) > 0 {
		c.emit(EventLimitViolation, "%s", violations[0])
		c.limitLog.Do(func() {
			c.lg.Debug("command limited", "count", len(violations), "first", violations[0].String())
		})
	}
	if verdict.Fault != nil {
		kind := EventSanityFault
		if busErr != nil {
			kind = EventBusFault
		}
		c.emit(kind, "%v", verdict.Fault)
		c.faultLog.Do(func() {
			c.lg.Warn("feedback fault, holding last good state", "err", verdict.Fault)
		})
	}
	if len(verdict.OverCurrent) > 0 {
		c.emit(EventOverCurrent, "joints %v over torque limit (%d consecutive)",
			verdict.OverCurrent, c.supervisor.OverCurrentCount())
	}
	if verdict.Tripped {
		c.enterEmergency(verdict.Reason)
	}
}

// enterEmergency latches the emergency flag and forces a zero gain. The
// flag is set first so no later gain write can undo the zero gain.
func (c *Controller) enterEmergency(reason error) {
	c.emergency.Store(true)
	c.cmdMu.Lock()
	c.gain = arm.NewGain(c.robot.DOF())
	c.cmdMu.Unlock()

	c.stateMu.Lock()
	c.stats.EmergencyReason = reason.Error()
	c.stateMu.Unlock()

	c.emit(EventEmergency, "%v", reason)
	c.lg.Error("emergency stop, arm set to damping", "reason", reason)
}

// exchange sends one frame per motor and collects the replies.
func (c *Controller) exchange(cmd arm.JointState, gain arm.Gain) (arm.JointState, error) {
	var sendErr error
	for i, j := range c.joints {
		data := j.codec.EncodeCommand(motor.Command{
			Pos:    cmd.Pos[i],
			Vel:    cmd.Vel[i],
			Kp:     gain.Kp[i],
			Kd:     gain.Kd[i],
			Torque: cmd.Torque[i],
		})
		if err := c.send(j.id, data); err != nil && sendErr == nil {
			sendErr = err
		}
	}
	if c.gripper != nil {
		data := c.gripper.codec.EncodeCommand(motor.Command{
			Pos:    c.robot.GripperToMotor(cmd.GripperPos),
			Vel:    c.robot.GripperToMotor(cmd.GripperVel),
			Kp:     gain.GripperKp,
			Kd:     gain.GripperKd,
			Torque: cmd.GripperTorque,
		})
		if err := c.send(c.gripper.id, data); err != nil && sendErr == nil {
			sendErr = err
		}
	}

	state, err := c.collect()
	if sendErr != nil {
		return state, sendErr
	}
	return state, err
}

func (c *Controller) send(id uint32, data [8]byte) error {
	err := c.bus.Send(can.Frame{ID: id, Data: data})
	if c.cfg.InterFrameDelay > 0 {
		time.Sleep(c.cfg.InterFrameDelay)
	}
	return err
}

// collect reads replies until every motor has answered or RecvTimeout
// passes without a frame.
func (c *Controller) collect() (arm.JointState, error) {
	dof := c.robot.DOF()
	state := arm.NewJointState(dof)
	want := len(c.expected)
	seen := make([]bool, dof+1)
	got := 0

	for got < want {
		f, err := c.bus.Recv(c.cfg.RecvTimeout)
		if err != nil {
			return state, fmt.Errorf("%d of %d motors answered: %w", got, want, err)
		}
		idx, ok := c.expected[f.ID]
		if !ok || seen[idx] {
			continue
		}
		j := c.gripper
		if idx < dof {
			j = &c.joints[idx]
		}
		fb, err := j.codec.DecodeFeedback(f.Data[:])
		if err != nil {
			return state, err
		}
		seen[idx] = true
		got++
		if idx == dof {
			state.GripperPos = c.robot.MotorToGripper(fb.Pos)
			state.GripperVel = c.robot.MotorToGripper(fb.Vel)
			state.GripperTorque = fb.Torque
			continue
		}
		state.Pos[idx], state.Vel[idx], state.Torque[idx] = fb.Pos, fb.Vel, fb.Torque
	}
	return state, nil
}

func (c *Controller) enable() {
	all := append([]joint(nil), c.joints...)
	if c.gripper != nil {
		all = append(all, *c.gripper)
	}
	enabled := 0
	for _, j := range all {
		if data, ok := j.codec.EnableFrame(); ok {
			if err := c.send(j.id, data); err != nil {
				c.lg.Warn("enable frame failed", "motor", j.id, "err", err)
			}
			enabled++
		}
	}
	// Drain enable acknowledgements so they are not read as cycle replies.
	for i := 0; i < enabled; i++ {
		if _, err := c.bus.Recv(c.cfg.RecvTimeout); err != nil {
			break
		}
	}
}

// syncState performs zero-stiffness exchanges until every motor answers.
func (c *Controller) syncState() (arm.JointState, error) {
	const attempts = 10
	zero := arm.NewGain(c.robot.DOF())
	idle := arm.NewJointState(c.robot.DOF())

	var lastErr error
	for i := 0; i < attempts; i++ {
		state, err := c.exchange(idle, zero)
		if err == nil {
			if !state.IsFinite() {
				err = errors.New("non-finite feedback")
			} else {
				return state, nil
			}
		}
		lastErr = err
		time.Sleep(c.cfg.Period())
	}
	return arm.JointState{}, fmt.Errorf("%w: %v", ErrNoFeedback, lastErr)
}

// passivate holds the last state with damping for a few periods, then
// disables the motors that support it.
func (c *Controller) passivate() {
	hold := c.JointState()
	damping := c.dampingGain()
	if c.Emergency() {
		damping = arm.NewGain(c.robot.DOF())
	}
	for i := 0; i < 10; i++ {
		if _, err := c.exchange(hold, damping); err != nil && !errors.Is(err, can.ErrTimeout) {
			c.lg.Warn("passivate exchange failed", "err", err)
			break
		}
		time.Sleep(c.cfg.Period())
	}
	all := append([]joint(nil), c.joints...)
	if c.gripper != nil {
		all = append(all, *c.gripper)
	}
	for _, j := range all {
		if data, ok := j.codec.DisableFrame(); ok {
			if err := c.send(j.id, data); err != nil {
				c.lg.Warn("disable frame failed", "motor", j.id, "err", err)
			}
		}
	}
}
