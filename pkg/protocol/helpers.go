package protocol

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-arx5/pkg/arm"
	"github.com/teslashibe/go-arx5/pkg/motion"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewStateMessage creates a state message from a joint state
func NewStateMessage(s arm.JointState, runState string, emergency bool) (*Message, error) {
	return NewMessage(TypeState, StateFromJointState(s, runState, emergency))
}

// NewEventMessage creates an event message
func NewEventMessage(kind, message string, at time.Time) (*Message, error) {
	return NewMessage(TypeEvent, EventData{
		Kind:    kind,
		Time:    at.UnixMilli(),
		Message: message,
	})
}

// NewAckMessage acknowledges request id
func NewAckMessage(id string) (*Message, error) {
	msg, err := NewMessage(TypeAck, nil)
	if err != nil {
		return nil, err
	}
	msg.ID = id
	return msg, nil
}

// NewErrorMessage rejects request id
func NewErrorMessage(id, code, message string) (*Message, error) {
	msg, err := NewMessage(TypeError, ErrorData{Code: code, Message: message})
	if err != nil {
		return nil, err
	}
	msg.ID = id
	return msg, nil
}

// NewCommandMessage creates a joint command message
func NewCommandMessage(cmd CommandData) (*Message, error) {
	return NewMessage(TypeCommand, cmd)
}

// NewGainMessage creates a gain message from a gain
func NewGainMessage(g arm.Gain) (*Message, error) {
	return NewMessage(TypeGain, GainFromArm(g))
}

// NewModeMessage creates a mode change message
func NewModeMessage(mode string, inference bool) (*Message, error) {
	return NewMessage(TypeMode, ModeData{Mode: mode, Inference: inference})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Conversions
// =============================================================================

// StateFromJointState copies s into wire form
func StateFromJointState(s arm.JointState, runState string, emergency bool) StateData {
	c := s.Clone()
	return StateData{
		Timestamp:     c.Timestamp,
		Pos:           c.Pos,
		Vel:           c.Vel,
		Torque:        c.Torque,
		GripperPos:    c.GripperPos,
		GripperVel:    c.GripperVel,
		GripperTorque: c.GripperTorque,
		RunState:      runState,
		Emergency:     emergency,
	}
}

// JointState converts the command for an arm with dof joints. Missing
// velocity and torque vectors are zero.
func (c *CommandData) JointState(dof int) (arm.JointState, error) {
	if len(c.Pos) != dof {
		return arm.JointState{}, fmt.Errorf("%w: pos has %d values, want %d", arm.ErrDOFMismatch, len(c.Pos), dof)
	}
	s := arm.NewJointState(dof)
	copy(s.Pos, c.Pos)
	for name, v := range map[string][]float64{"vel": c.Vel, "torque": c.Torque} {
		if v != nil && len(v) != dof {
			return arm.JointState{}, fmt.Errorf("%w: %s has %d values, want %d", arm.ErrDOFMismatch, name, len(v), dof)
		}
	}
	copy(s.Vel, c.Vel)
	copy(s.Torque, c.Torque)
	s.GripperPos = c.GripperPos
	s.Timestamp = c.Timestamp
	return s, nil
}

// GainFromArm copies g into wire form
func GainFromArm(g arm.Gain) GainData {
	c := g.Clone()
	return GainData{Kp: c.Kp, Kd: c.Kd, GripperKp: c.GripperKp, GripperKd: c.GripperKd}
}

// Gain converts the wire gain
func (g *GainData) Gain() arm.Gain {
	return arm.Gain{
		Kp:        append([]float64(nil), g.Kp...),
		Kd:        append([]float64(nil), g.Kd...),
		GripperKp: g.GripperKp,
		GripperKd: g.GripperKd,
	}
}

// Segments converts the trajectory for an arm with dof joints
func (t *TrajectoryData) Segments(dof int) ([]motion.Segment, error) {
	out := make([]motion.Segment, 0, len(t.Segments))
	for i, s := range t.Segments {
		if len(s.Pos) != dof {
			return nil, fmt.Errorf("%w: segment %d has %d values, want %d", arm.ErrDOFMismatch, i, len(s.Pos), dof)
		}
		if s.Duration < 0 {
			return nil, fmt.Errorf("%w %d: negative duration", motion.ErrBadSegment, i)
		}
		e, err := motion.ParseEasing(s.Easing)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		target := arm.NewJointState(dof)
		copy(target.Pos, s.Pos)
		target.GripperPos = s.GripperPos
		out = append(out, motion.Segment{
			Target:   target,
			Duration: time.Duration(s.Duration * float64(time.Second)),
			Easing:   e,
		})
	}
	return out, nil
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetStateData extracts state data from a message
func (m *Message) GetStateData() (*StateData, error) {
	var data StateData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetEventData extracts event data from a message
func (m *Message) GetEventData() (*EventData, error) {
	var data EventData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts error data from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCommandData extracts a joint command from a message
func (m *Message) GetCommandData() (*CommandData, error) {
	var data CommandData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetActionData extracts a normalized action from a message
func (m *Message) GetActionData() (*ActionData, error) {
	var data ActionData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetGainData extracts gain data from a message
func (m *Message) GetGainData() (*GainData, error) {
	var data GainData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetModeData extracts a mode change from a message
func (m *Message) GetModeData() (*ModeData, error) {
	var data ModeData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTrajectoryData extracts a trajectory from a message
func (m *Message) GetTrajectoryData() (*TrajectoryData, error) {
	var data TrajectoryData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
