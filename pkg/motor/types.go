// Package motor encodes and decodes the 8-byte CAN frames spoken by the
// ARX EC and Damiao DM motor families.
package motor

import "fmt"

// Type names a concrete motor model as written in configuration files.
type Type string

const (
	TypeNone    Type = "NONE"
	TypeECA4310 Type = "EC_A4310"
	TypeDMJ4310 Type = "DM_J4310"
	TypeDMJ4340 Type = "DM_J4340"
)

// Family selects the frame layout.
type Family int

const (
	FamilyEC Family = iota
	FamilyDM
)

func (f Family) String() string {
	switch f {
	case FamilyEC:
		return "EC"
	case FamilyDM:
		return "DM"
	default:
		return fmt.Sprintf("Family(%d)", int(f))
	}
}

// Range is a closed physical interval mapped onto an unsigned field.
type Range struct {
	Min, Max float64
}

// Params are the per-model constants of a motor: field ranges and the
// current to torque constant. Torque crosses the wire as current for the
// EC family and as torque for the DM family.
type Params struct {
	Family Family

	Pos Range
	Vel Range
	Kp  Range
	Kd  Range

	// Effort is the wire range of the torque field: amperes for EC, N·m for DM.
	Effort Range

	// TorqueConstant k in τ = I·k.
	TorqueConstant float64
}

var params = map[Type]Params{
	TypeECA4310: {
		Family:         FamilyEC,
		Pos:            Range{-12.5, 12.5},
		Vel:            Range{-18, 18},
		Kp:             Range{0, 500},
		Kd:             Range{0, 5},
		Effort:         Range{-30, 30},
		TorqueConstant: 1.4,
	},
	TypeDMJ4310: {
		Family:         FamilyDM,
		Pos:            Range{-12.5, 12.5},
		Vel:            Range{-30, 30},
		Kp:             Range{0, 500},
		Kd:             Range{0, 5},
		Effort:         Range{-10, 10},
		TorqueConstant: 0.424,
	},
	TypeDMJ4340: {
		Family:         FamilyDM,
		Pos:            Range{-12.5, 12.5},
		Vel:            Range{-10, 10},
		Kp:             Range{0, 500},
		Kd:             Range{0, 5},
		Effort:         Range{-28, 28},
		TorqueConstant: 1.0,
	},
}

// ParamsFor returns the constants for t.
func ParamsFor(t Type) (Params, error) {
	if t == TypeNone {
		return Params{}, ErrNoMotor
	}
	p, ok := params[t]
	if !ok {
		return Params{}, fmt.Errorf("%w: %q", ErrUnknownType, string(t))
	}
	return p, nil
}

// Valid reports whether t is a known model or TypeNone.
func (t Type) Valid() bool {
	if t == TypeNone {
		return true
	}
	_, ok := params[t]
	return ok
}

// TorqueRange is the torque interval representable on the wire.
func (p Params) TorqueRange() Range {
	if p.Family == FamilyEC {
		return Range{p.Effort.Min * p.TorqueConstant, p.Effort.Max * p.TorqueConstant}
	}
	return p.Effort
}

// Command is the MIT-style set point sent to one motor each cycle.
type Command struct {
	Pos    float64
	Vel    float64
	Kp     float64
	Kd     float64
	Torque float64
}

// Feedback is the decoded reply of one motor.
type Feedback struct {
	Pos         float64
	Vel         float64
	Torque      float64
	Temperature float64
	Error       uint8
}
