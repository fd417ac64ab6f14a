package motor

import "fmt"

// Codec is the per-joint frame strategy, resolved once from a Type at
// configuration time.
type Codec interface {
	Type() Type
	Params() Params

	// FeedbackID is the CAN identifier the motor replies on.
	FeedbackID(motorID uint32) uint32

	EncodeCommand(cmd Command) [8]byte
	DecodeCommand(data []byte) (Command, error)
	EncodeFeedback(fb Feedback, motorID uint32) [8]byte
	DecodeFeedback(data []byte) (Feedback, error)

	// EnableFrame and DisableFrame return the payload switching the
	// motor driver on or off, or ok=false if the family has none.
	EnableFrame() (data [8]byte, ok bool)
	DisableFrame() (data [8]byte, ok bool)
}

// NewCodec returns the codec for t.
func NewCodec(t Type) (Codec, error) {
	p, err := ParamsFor(t)
	if err != nil {
		return nil, err
	}
	switch p.Family {
	case FamilyEC:
		return &ecCodec{typ: t, p: p}, nil
	case FamilyDM:
		return &dmCodec{typ: t, p: p}, nil
	default:
		return nil, fmt.Errorf("%w: family %v", ErrUnknownType, p.Family)
	}
}

func checkLen(data []byte) error {
	if len(data) != 8 {
		return fmt.Errorf("%w: got %d", ErrFrameLength, len(data))
	}
	return nil
}

// Bit widths of the command fields.
const (
	posBits   = 16
	velBits   = 12
	effBits   = 12
	dmKpBits  = 12
	dmKdBits  = 12
	ecKpBits  = 12
	ecKdBits  = 9
	tempRange = 255
)

// ecCodec packs the ARX EC servo frame: kp12 kd9 pos16 vel12 cur12.
type ecCodec struct {
	typ Type
	p   Params
}

func (c *ecCodec) Type() Type                      { return c.typ }
func (c *ecCodec) Params() Params                  { return c.p }
func (c *ecCodec) FeedbackID(motorID uint32) uint32 { return motorID }

func (c *ecCodec) EncodeCommand(cmd Command) [8]byte {
	kp := toUint(cmd.Kp, c.p.Kp, ecKpBits)
	kd := toUint(cmd.Kd, c.p.Kd, ecKdBits)
	pos := toUint(cmd.Pos, c.p.Pos, posBits)
	vel := toUint(cmd.Vel, c.p.Vel, velBits)
	cur := toUint(cmd.Torque/c.p.TorqueConstant, c.p.Effort, effBits)

	var d [8]byte
	d[0] = byte(kp >> 7)
	d[1] = byte((kp&0x7f)<<1 | (kd&0x100)>>8)
	d[2] = byte(kd & 0xff)
	d[3] = byte(pos >> 8)
	d[4] = byte(pos & 0xff)
	d[5] = byte(vel >> 4)
	d[6] = byte((vel&0x0f)<<4 | cur>>8)
	d[7] = byte(cur & 0xff)
	return d
}

func (c *ecCodec) DecodeCommand(data []byte) (Command, error) {
	if err := checkLen(data); err != nil {
		return Command{}, err
	}
	kp := uint32(data[0]&0x1f)<<7 | uint32(data[1])>>1
	kd := uint32(data[1]&0x01)<<8 | uint32(data[2])
	pos := uint32(data[3])<<8 | uint32(data[4])
	vel := uint32(data[5])<<4 | uint32(data[6])>>4
	cur := uint32(data[6]&0x0f)<<8 | uint32(data[7])
	return Command{
		Kp:     fromUint(kp, c.p.Kp, ecKpBits),
		Kd:     fromUint(kd, c.p.Kd, ecKdBits),
		Pos:    fromUint(pos, c.p.Pos, posBits),
		Vel:    fromUint(vel, c.p.Vel, velBits),
		Torque: fromUint(cur, c.p.Effort, effBits) * c.p.TorqueConstant,
	}, nil
}

func (c *ecCodec) EncodeFeedback(fb Feedback, _ uint32) [8]byte {
	pos := toUint(fb.Pos, c.p.Pos, posBits)
	vel := toUint(fb.Vel, c.p.Vel, velBits)
	cur := toUint(fb.Torque/c.p.TorqueConstant, c.p.Effort, effBits)

	var d [8]byte
	d[0] = 0x20 | fb.Error&0x1f
	d[1] = byte(pos >> 8)
	d[2] = byte(pos & 0xff)
	d[3] = byte(vel >> 4)
	d[4] = byte((vel&0x0f)<<4 | cur>>8)
	d[5] = byte(cur & 0xff)
	d[6] = byte(toUint(fb.Temperature, Range{0, tempRange}, 8))
	return d
}

func (c *ecCodec) DecodeFeedback(data []byte) (Feedback, error) {
	if err := checkLen(data); err != nil {
		return Feedback{}, err
	}
	pos := uint32(data[1])<<8 | uint32(data[2])
	vel := uint32(data[3])<<4 | uint32(data[4])>>4
	cur := uint32(data[4]&0x0f)<<8 | uint32(data[5])
	return Feedback{
		Pos:         fromUint(pos, c.p.Pos, posBits),
		Vel:         fromUint(vel, c.p.Vel, velBits),
		Torque:      fromUint(cur, c.p.Effort, effBits) * c.p.TorqueConstant,
		Temperature: float64(data[6]),
		Error:       data[0] & 0x1f,
	}, nil
}

func (c *ecCodec) EnableFrame() ([8]byte, bool)  { return [8]byte{}, false }
func (c *ecCodec) DisableFrame() ([8]byte, bool) { return [8]byte{}, false }

// dmCodec packs the Damiao MIT-mode frame: pos16 vel12 kp12 kd12 t12.
type dmCodec struct {
	typ Type
	p   Params
}

// dmMasterOffset is the default master id offset of Damiao drivers.
const dmMasterOffset = 0x10

func (c *dmCodec) Type() Type                      { return c.typ }
func (c *dmCodec) Params() Params                  { return c.p }
func (c *dmCodec) FeedbackID(motorID uint32) uint32 { return motorID + dmMasterOffset }

func (c *dmCodec) EncodeCommand(cmd Command) [8]byte {
	pos := toUint(cmd.Pos, c.p.Pos, posBits)
	vel := toUint(cmd.Vel, c.p.Vel, velBits)
	kp := toUint(cmd.Kp, c.p.Kp, dmKpBits)
	kd := toUint(cmd.Kd, c.p.Kd, dmKdBits)
	tor := toUint(cmd.Torque, c.p.Effort, effBits)

	var d [8]byte
	d[0] = byte(pos >> 8)
	d[1] = byte(pos & 0xff)
	d[2] = byte(vel >> 4)
	d[3] = byte((vel&0x0f)<<4 | kp>>8)
	d[4] = byte(kp & 0xff)
	d[5] = byte(kd >> 4)
	d[6] = byte((kd&0x0f)<<4 | tor>>8)
	d[7] = byte(tor & 0xff)
	return d
}

func (c *dmCodec) DecodeCommand(data []byte) (Command, error) {
	if err := checkLen(data); err != nil {
		return Command{}, err
	}
	pos := uint32(data[0])<<8 | uint32(data[1])
	vel := uint32(data[2])<<4 | uint32(data[3])>>4
	kp := uint32(data[3]&0x0f)<<8 | uint32(data[4])
	kd := uint32(data[5])<<4 | uint32(data[6])>>4
	tor := uint32(data[6]&0x0f)<<8 | uint32(data[7])
	return Command{
		Pos:    fromUint(pos, c.p.Pos, posBits),
		Vel:    fromUint(vel, c.p.Vel, velBits),
		Kp:     fromUint(kp, c.p.Kp, dmKpBits),
		Kd:     fromUint(kd, c.p.Kd, dmKdBits),
		Torque: fromUint(tor, c.p.Effort, effBits),
	}, nil
}

func (c *dmCodec) EncodeFeedback(fb Feedback, motorID uint32) [8]byte {
	pos := toUint(fb.Pos, c.p.Pos, posBits)
	vel := toUint(fb.Vel, c.p.Vel, velBits)
	tor := toUint(fb.Torque, c.p.Effort, effBits)

	var d [8]byte
	d[0] = byte(motorID&0x0f) | fb.Error<<4
	d[1] = byte(pos >> 8)
	d[2] = byte(pos & 0xff)
	d[3] = byte(vel >> 4)
	d[4] = byte((vel&0x0f)<<4 | tor>>8)
	d[5] = byte(tor & 0xff)
	temp := byte(toUint(fb.Temperature, Range{0, tempRange}, 8))
	d[6] = temp
	d[7] = temp
	return d
}

func (c *dmCodec) DecodeFeedback(data []byte) (Feedback, error) {
	if err := checkLen(data); err != nil {
		return Feedback{}, err
	}
	pos := uint32(data[1])<<8 | uint32(data[2])
	vel := uint32(data[3])<<4 | uint32(data[4])>>4
	tor := uint32(data[4]&0x0f)<<8 | uint32(data[5])
	return Feedback{
		Pos:         fromUint(pos, c.p.Pos, posBits),
		Vel:         fromUint(vel, c.p.Vel, velBits),
		Torque:      fromUint(tor, c.p.Effort, effBits),
		Temperature: float64(data[6]),
		Error:       data[0] >> 4,
	}, nil
}

func (c *dmCodec) EnableFrame() ([8]byte, bool) {
	return [8]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfc}, true
}

func (c *dmCodec) DisableFrame() ([8]byte, bool) {
	return [8]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfd}, true
}
