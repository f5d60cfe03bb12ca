package spread

import "math"

// Pos is a point in the plane.
type Pos struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Distance is the Euclidean distance between a and b.
func Distance(a, b Pos) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
