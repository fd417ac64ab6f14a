package motor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTypes = []Type{TypeECA4310, TypeDMJ4310, TypeDMJ4340}

func sample(r *rand.Rand, rg Range) float64 {
	return rg.Min + r.Float64()*(rg.Max-rg.Min)
}

func kdBits(p Params) uint {
	if p.Family == FamilyEC {
		return ecKdBits
	}
	return dmKdBits
}

func torqueStep(p Params) float64 {
	s := Step(p.Effort, effBits)
	if p.Family == FamilyEC {
		return s * p.TorqueConstant
	}
	return s
}

func TestCommandRoundTrip(t *testing.T) {
	for _, typ := range allTypes {
		t.Run(string(typ), func(t *testing.T) {
			c, err := NewCodec(typ)
			require.NoError(t, err)
			p := c.Params()
			tr := p.TorqueRange()
			rng := rand.New(rand.NewSource(42))

			for i := 0; i < 1000; i++ {
				in := Command{
					Pos:    sample(rng, p.Pos),
					Vel:    sample(rng, p.Vel),
					Kp:     sample(rng, p.Kp),
					Kd:     sample(rng, p.Kd),
					Torque: sample(rng, tr),
				}
				frame := c.EncodeCommand(in)
				out, err := c.DecodeCommand(frame[:])
				require.NoError(t, err)

				assert.InDelta(t, in.Pos, out.Pos, Step(p.Pos, posBits))
				assert.InDelta(t, in.Vel, out.Vel, Step(p.Vel, velBits))
				assert.InDelta(t, in.Kp, out.Kp, Step(p.Kp, 12))
				assert.InDelta(t, in.Kd, out.Kd, Step(p.Kd, kdBits(p)))
				assert.InDelta(t, in.Torque, out.Torque, torqueStep(p)+1e-9)
			}
		})
	}
}

func TestFeedbackRoundTrip(t *testing.T) {
	for _, typ := range allTypes {
		t.Run(string(typ), func(t *testing.T) {
			c, err := NewCodec(typ)
			require.NoError(t, err)
			p := c.Params()
			tr := p.TorqueRange()
			rng := rand.New(rand.NewSource(7))

			for i := 0; i < 1000; i++ {
				in := Feedback{
					Pos:    sample(rng, p.Pos),
					Vel:    sample(rng, p.Vel),
					Torque: sample(rng, tr),
				}
				frame := c.EncodeFeedback(in, 5)
				out, err := c.DecodeFeedback(frame[:])
				require.NoError(t, err)

				assert.InDelta(t, in.Pos, out.Pos, Step(p.Pos, posBits))
				assert.InDelta(t, in.Vel, out.Vel, Step(p.Vel, velBits))
				assert.InDelta(t, in.Torque, out.Torque, torqueStep(p)+1e-9)
			}
		})
	}
}

func TestEncodeClampsOutOfRange(t *testing.T) {
	for _, typ := range allTypes {
		c, err := NewCodec(typ)
		require.NoError(t, err)
		p := c.Params()

		hi := c.EncodeCommand(Command{Pos: 1e6, Vel: 1e6, Kp: 1e6, Kd: 1e6, Torque: 1e6})
		out, err := c.DecodeCommand(hi[:])
		require.NoError(t, err)
		assert.InDelta(t, p.Pos.Max, out.Pos, 1e-9, typ)
		assert.InDelta(t, p.Vel.Max, out.Vel, 1e-9, typ)
		assert.InDelta(t, p.Kp.Max, out.Kp, 1e-9, typ)
		assert.InDelta(t, p.TorqueRange().Max, out.Torque, 1e-9, typ)

		lo := c.EncodeCommand(Command{Pos: -1e6, Vel: -1e6, Kp: -5, Kd: -5, Torque: -1e6})
		out, err = c.DecodeCommand(lo[:])
		require.NoError(t, err)
		assert.InDelta(t, p.Pos.Min, out.Pos, 1e-9, typ)
		assert.InDelta(t, p.Vel.Min, out.Vel, 1e-9, typ)
		assert.InDelta(t, 0, out.Kp, 1e-9, typ)
		assert.InDelta(t, 0, out.Kd, 1e-9, typ)
		assert.InDelta(t, p.TorqueRange().Min, out.Torque, 1e-9, typ)
	}
}

func TestECCommandLayout(t *testing.T) {
	c, err := NewCodec(TypeECA4310)
	require.NoError(t, err)

	// Full-scale kp and kd, mid-scale everything else.
	d := c.EncodeCommand(Command{Kp: 500, Kd: 5})
	assert.Equal(t, byte(0x1f), d[0])
	assert.Equal(t, byte(0xff), d[1])
	assert.Equal(t, byte(0xff), d[2])

	// Zero position lands on the 16 bit mid point.
	pos := uint32(d[3])<<8 | uint32(d[4])
	assert.Equal(t, uint32(math.Round(65535.0/2)), pos)
}

func TestDMCommandLayout(t *testing.T) {
	c, err := NewCodec(TypeDMJ4310)
	require.NoError(t, err)

	d := c.EncodeCommand(Command{Pos: 12.5, Vel: -30, Kp: 0, Kd: 5, Torque: 10})
	assert.Equal(t, [8]byte{0xff, 0xff, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff}, d)
}

func TestDMFeedbackHeader(t *testing.T) {
	c, err := NewCodec(TypeDMJ4340)
	require.NoError(t, err)

	d := c.EncodeFeedback(Feedback{Error: 0x1}, 0x05)
	assert.Equal(t, byte(0x15), d[0])
	assert.Equal(t, uint32(0x15), c.FeedbackID(5))

	fb, err := c.DecodeFeedback(d[:])
	require.NoError(t, err)
	assert.Equal(t, uint8(1), fb.Error)
}

func TestNewCodecErrors(t *testing.T) {
	_, err := NewCodec(TypeNone)
	assert.ErrorIs(t, err, ErrNoMotor)

	_, err = NewCodec(Type("XYZ"))
	assert.ErrorIs(t, err, ErrUnknownType)

	c, err := NewCodec(TypeECA4310)
	require.NoError(t, err)
	_, err = c.DecodeFeedback([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrFrameLength)
}

func TestEnableFrames(t *testing.T) {
	dm, _ := NewCodec(TypeDMJ4310)
	data, ok := dm.EnableFrame()
	assert.True(t, ok)
	assert.Equal(t, byte(0xfc), data[7])

	ec, _ := NewCodec(TypeECA4310)
	_, ok = ec.EnableFrame()
	assert.False(t, ok)
}
