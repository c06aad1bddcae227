package engine

import "github.com/talgya/contagion/internal/agents"

// progressDisease advances clinical timers and resolves finished infections.
// Every infected agent ages one day first; then each agent at or past
// RecoveryTime draws a mortality trial scaled by (1 - immunity). Agents
// resolved here are no longer Infected when transmission runs.
func (s *Simulation) progressDisease() (recovered, died int) {
	for _, a := range s.Agents {
		if a.State == agents.Infected {
			a.DaysInfected++
		}
	}

	for _, a := range s.Agents {
		if a.State != agents.Infected || a.DaysInfected < s.Params.RecoveryTime {
			continue
		}
		if s.rng.Float64() < s.mortalityRate*(1-a.Immunity) {
			a.Die()
			died++
			continue
		}
		a.Recover(s.Params.RecoveryImmunityBoost)
		recovered++
	}
	return recovered, died
}
