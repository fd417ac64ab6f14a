package controller

import (
	"fmt"
	"time"
)

// RunState is the scheduler state.
type RunState int32

const (
	Idle RunState = iota
	Running
	Paused
	Stopped
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("RunState(%d)", int32(s))
	}
}

// EventKind classifies loop events.
type EventKind string

const (
	EventTimingViolation EventKind = "timing_violation"
	EventLimitViolation  EventKind = "limit_violation"
	EventBusFault        EventKind = "bus_fault"
	EventSanityFault     EventKind = "sanity_fault"
	EventOverCurrent     EventKind = "over_current"
	EventEmergency       EventKind = "emergency"
)

// Event is a non-fatal observation from the control loop.
type Event struct {
	Kind    EventKind `json:"kind"`
	Time    float64   `json:"time"` // controller clock
	Message string    `json:"message"`
}

// Stats is a snapshot of loop counters.
type Stats struct {
	State            string        `json:"state"`
	Cycles           uint64        `json:"cycles"`
	Overruns         uint64        `json:"overruns"`
	LastCycle        time.Duration `json:"last_cycle_ns"`
	MaxCycle         time.Duration `json:"max_cycle_ns"`
	BusFaults        uint64        `json:"bus_faults"`
	SanityFaults     uint64        `json:"sanity_faults"`
	LimitViolations  uint64        `json:"limit_violations"`
	OverCurrentCount int           `json:"over_current_count"`
	Emergency        bool          `json:"emergency"`
	EmergencyReason  string        `json:"emergency_reason,omitempty"`
	DroppedEvents    uint64        `json:"dropped_events"`
}

// emit hands e to subscribers without ever blocking the loop.
func (c *Controller) emit(kind EventKind, format string, args ...any) {
	e := Event{Kind: kind, Time: c.Now(), Message: fmt.Sprintf(format, args...)}
	select {
	case c.events <- e:
	default:
		c.droppedEvents.Add(1)
	}
}
