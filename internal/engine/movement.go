package engine

import (
	"math"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/world"
)

// moveAgents advances every living agent once: an activity trial gates a
// random walk plus repulsion from neighbors closer than SocialDistance.
// Agents update in ID order and in place, so later agents see earlier
// agents at their new positions. Cost is O(n²).
func (s *Simulation) moveAgents() {
	p := s.Params
	walk := p.MovementSpeed * p.SocialActivity * 2

	for _, a := range s.Agents {
		if !a.Alive() {
			continue
		}
		if s.rng.Float64() >= p.SocialActivity {
			continue
		}

		heading := s.rng.Float64() * 2 * math.Pi
		dx := math.Cos(heading) * walk
		dy := math.Sin(heading) * walk

		rx, ry := s.repulsion(a)
		a.X, a.Y = world.Clamp(a.X+dx+rx, a.Y+dy+ry)
	}
}

// repulsion sums the push from every other living agent inside the social
// distance. Coincident agents contribute nothing.
func (s *Simulation) repulsion(a *agents.Agent) (fx, fy float64) {
	sd := s.Params.SocialDistance
	if sd <= 0 {
		return 0, 0
	}
	strength := s.Params.MovementSpeed * 2

	for _, other := range s.Agents {
		if other == a || !other.Alive() {
			continue
		}
		ox := a.X - other.X
		oy := a.Y - other.Y
		d := math.Sqrt(ox*ox + oy*oy)
		if d == 0 || d >= sd {
			continue
		}
		force := strength * (sd - d) / sd
		fx += ox / d * force
		fy += oy / d * force
	}
	return fx, fy
}
