// Package world defines the fixed rectangular plane agents live on.
package world

import "math"

// World bounds. Agents live in [0, Width] × [0, Height]; these are engine
// constants, not caller-configurable.
const (
	Width  = 800.0
	Height = 600.0
)

// InBounds returns true if the coordinate lies inside the world rectangle.
func InBounds(x, y float64) bool {
	return x >= 0 && x <= Width && y >= 0 && y <= Height
}

// Clamp pulls a coordinate back into the world rectangle.
func Clamp(x, y float64) (float64, float64) {
	return math.Max(0, math.Min(Width, x)), math.Max(0, math.Min(Height, y))
}

// Distance returns the Euclidean distance between two coordinates.
func Distance(ax, ay, bx, by float64) float64 {
	dx := ax - bx
	dy := ay - by
	return math.Sqrt(dx*dx + dy*dy)
}
