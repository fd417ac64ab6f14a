package motion

import "fmt"

// Easing shapes progress through a move.
type Easing string

const (
	EaseLinear    Easing = "linear"
	EaseInOutQuad Easing = "ease_in_out_quad"
)

// ParseEasing accepts the easing names used on the command line and in
// the API. An empty name selects EaseInOutQuad.
func ParseEasing(name string) (Easing, error) {
	switch Easing(name) {
	case "":
		return EaseInOutQuad, nil
	case EaseLinear, EaseInOutQuad:
		return Easing(name), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEasing, name)
}

// Apply maps progress t in [0, 1] to eased progress. t is clamped.
func (e Easing) Apply(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	switch e {
	case EaseInOutQuad:
		if t < 0.5 {
			return 2 * t * t
		}
		u := -2*t + 2
		return 1 - u*u/2
	default:
		return t
	}
}
