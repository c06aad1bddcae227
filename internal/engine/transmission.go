package engine

import (
	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/world"
)

// spreadInfection scans every infected × susceptible pair within the
// infection radius and draws a Bernoulli trial per pair. Exposures are
// collected during the scan and applied afterwards, so nobody infected today
// transmits today and a doubly-exposed agent counts once. Cost is O(n²).
func (s *Simulation) spreadInfection() int {
	radius := s.Params.InfectionRadius
	if radius <= 0 {
		return 0
	}

	exposed := make([]bool, len(s.Agents))
	var marked []*agents.Agent

	for _, src := range s.Agents {
		if src.State != agents.Infected {
			continue
		}
		for i, target := range s.Agents {
			if target.State != agents.Susceptible {
				continue
			}
			d := world.Distance(src.X, src.Y, target.X, target.Y)
			if d >= radius {
				continue
			}
			p := s.transmissionProbability(target, d, radius)
			if s.rng.Float64() < p && !exposed[i] {
				exposed[i] = true
				marked = append(marked, target)
			}
		}
	}

	for _, a := range marked {
		a.Infect()
	}
	return len(marked)
}

// transmissionProbability draws the mask trial and folds in target immunity
// and linear distance falloff.
func (s *Simulation) transmissionProbability(target *agents.Agent, d, radius float64) float64 {
	p := s.infectionRate
	if s.rng.Float64() < s.Params.MaskUsage {
		p *= MaskFactor
	}
	p *= 1 - target.Immunity
	p *= 1 - d/radius
	return p
}
