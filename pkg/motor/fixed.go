package motor

import "math"

// toUint clamps v to r and maps it onto an unsigned field of bits width.
// Out of range values saturate and never wrap.
func toUint(v float64, r Range, bits uint) uint32 {
	if math.IsNaN(v) {
		v = 0
	}
	if v < r.Min {
		v = r.Min
	}
	if v > r.Max {
		v = r.Max
	}
	span := float64(uint32(1)<<bits - 1)
	return uint32(math.Round((v - r.Min) / (r.Max - r.Min) * span))
}

// fromUint is the inverse affine map of toUint.
func fromUint(u uint32, r Range, bits uint) float64 {
	span := float64(uint32(1)<<bits - 1)
	return float64(u)/span*(r.Max-r.Min) + r.Min
}

// Step returns the quantization step of r at bits width.
func Step(r Range, bits uint) float64 {
	return (r.Max - r.Min) / float64(uint32(1)<<bits-1)
}
