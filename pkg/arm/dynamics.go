package arm

// InverseDynamics computes the joint torques that hold the arm still
// against gravity at the given positions.
type InverseDynamics interface {
	GravityTorque(pos []float64) ([]float64, error)
}

// InverseDynamicsFunc adapts a plain function to InverseDynamics.
type InverseDynamicsFunc func(pos []float64) ([]float64, error)

// GravityTorque calls f.
func (f InverseDynamicsFunc) GravityTorque(pos []float64) ([]float64, error) {
	return f(pos)
}
