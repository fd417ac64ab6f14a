// Package protocol defines the JSON WebSocket messages exchanged between an
// arm server and its clients (dashboards, teleoperation leaders, policies).
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Server → client messages
	TypeState MessageType = "state" // Joint state snapshot
	TypeEvent MessageType = "event" // Control loop event
	TypeAck   MessageType = "ack"   // Request accepted
	TypeError MessageType = "error" // Request rejected

	// Client → server messages
	TypeCommand    MessageType = "command"    // Joint target
	TypeAction     MessageType = "action"     // Normalized joint target
	TypeGain       MessageType = "gain"       // Gain change
	TypeMode       MessageType = "mode"       // Operating mode change
	TypeHome       MessageType = "home"       // Reset to home
	TypeTrajectory MessageType = "trajectory" // Multi-segment move

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"` // Request id, echoed in ack/error
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Server → Client Message Types
// =============================================================================

// StateData is a joint state snapshot. Positions are radians, the gripper
// is meters.
type StateData struct {
	Timestamp     float64   `json:"timestamp"` // Controller clock, seconds
	Pos           []float64 `json:"pos"`
	Vel           []float64 `json:"vel"`
	Torque        []float64 `json:"torque"`
	GripperPos    float64   `json:"gripper_pos"`
	GripperVel    float64   `json:"gripper_vel"`
	GripperTorque float64   `json:"gripper_torque"`
	RunState      string    `json:"run_state,omitempty"`
	Emergency     bool      `json:"emergency"`
}

// EventData mirrors a control loop event
type EventData struct {
	Kind    string `json:"kind"`
	Time    int64  `json:"time"` // Unix milliseconds
	Message string `json:"message"`
}

// ErrorData explains a rejected request
type ErrorData struct {
	Code    string `json:"code"` // "invalid", "emergency", "not_running", "dangerous_gain", "internal"
	Message string `json:"message"`
}

// =============================================================================
// Client → Server Message Types
// =============================================================================

// CommandData is a joint target. Timestamp is on the controller clock; when
// zero, Delay seconds from now is used instead (zero Delay means the
// configured preview time).
type CommandData struct {
	Pos        []float64 `json:"pos"`
	Vel        []float64 `json:"vel,omitempty"`
	Torque     []float64 `json:"torque,omitempty"`
	GripperPos float64   `json:"gripper_pos"`
	Timestamp  float64   `json:"timestamp,omitempty"`
	Delay      float64   `json:"delay,omitempty"`
}

// ActionData is a target in the calibrated space: joints in [-100, 100],
// gripper in [0, 100].
type ActionData struct {
	Joints  []float64 `json:"joints"`
	Gripper float64   `json:"gripper"`
	Delay   float64   `json:"delay,omitempty"`
}

// GainData sets stiffness and damping
type GainData struct {
	Kp        []float64 `json:"kp"`
	Kd        []float64 `json:"kd"`
	GripperKp float64   `json:"gripper_kp"`
	GripperKd float64   `json:"gripper_kd"`
}

// ModeData selects an operating mode
type ModeData struct {
	Mode      string `json:"mode"` // "damping", "gravity_compensation", "position"
	Inference bool   `json:"inference,omitempty"`
}

// SegmentData is one leg of a trajectory
type SegmentData struct {
	Pos        []float64 `json:"pos"`
	GripperPos float64   `json:"gripper_pos"`
	Duration   float64   `json:"duration"` // Seconds
	Easing     string    `json:"easing,omitempty"`
}

// TrajectoryData is a multi-segment move
type TrajectoryData struct {
	Segments []SegmentData `json:"segments"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
