package world

import (
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Backdrop is a layered simplex-noise field over the world rectangle, used to
// shade rendered frames. It has no effect on the simulation.
type Backdrop struct {
	noise     opensimplex.Noise
	octaves   int
	frequency float64
}

// NewBackdrop creates a backdrop. A zero seed picks a random one.
func NewBackdrop(seed int64) *Backdrop {
	if seed == 0 {
		seed = rand.Int63()
	}
	return &Backdrop{
		noise:     opensimplex.NewNormalized(seed),
		octaves:   4,
		frequency: 1.0 / 220.0,
	}
}

// Shade returns the field value in [0, 1] at a world coordinate.
func (b *Backdrop) Shade(x, y float64) float64 {
	return octaveNoise(b.noise, x, y, b.octaves, b.frequency, 0.5)
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
