// Package engine runs the day-by-day epidemic simulation: movement, disease
// progression, transmission, and aggregation over one shared population.
package engine

import (
	"log/slog"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/entropy"
)

// Simulation holds the complete state of one run. It is not safe for
// concurrent use; Driver serializes access.
type Simulation struct {
	Params  Parameters
	Agents  []*agents.Agent // Fixed size, ordered by ID
	Day     int             // Completed days
	Stats   Stats
	History History

	rng           entropy.Source
	infectionRate float64
	mortalityRate float64
}

// DayReport summarizes the transitions of one completed day.
type DayReport struct {
	Day           int   `json:"day"`
	Stats         Stats `json:"stats"`
	NewInfections int   `json:"new_infections"`
	Recoveries    int   `json:"recoveries"`
	Deaths        int   `json:"deaths"`
}

// State is a read-only snapshot of a simulation.
type State struct {
	Agents  []agents.Agent `json:"agents"`
	Stats   Stats          `json:"stats"`
	Day     int            `json:"day"`
	History History        `json:"history"`
}

// NewSimulation spawns a fresh population at day 0 with an empty history.
func NewSimulation(p Parameters, rng entropy.Source) *Simulation {
	spawner := agents.NewSpawner(rng)
	population := spawner.SpawnPopulation(agents.SpawnConfig{
		Population:        p.Population,
		ImmunityVariation: p.ImmunityVariation,
		VaccinationRate:   p.VaccinationRate,
	})

	sim := &Simulation{
		Params:        p,
		Agents:        population,
		History:       NewHistory(),
		rng:           rng,
		infectionRate: p.EffectiveInfectionRate(),
		mortalityRate: p.EffectiveMortalityRate(),
	}
	sim.Stats = CountStates(sim.Agents)
	return sim
}

// Step advances the simulation by one day. Phase order is fixed:
// movement, then progression, then transmission, then aggregation.
func (s *Simulation) Step() DayReport {
	s.moveAgents()
	recovered, died := s.progressDisease()
	infected := s.spreadInfection()

	s.Stats = CountStates(s.Agents)
	s.History.Append(s.Stats)
	s.Day++

	report := DayReport{
		Day:           s.Day,
		Stats:         s.Stats,
		NewInfections: infected,
		Recoveries:    recovered,
		Deaths:        died,
	}

	slog.Debug("daily report",
		"day", report.Day,
		"susceptible", s.Stats.S,
		"infected", s.Stats.I,
		"recovered", s.Stats.R,
		"dead", s.Stats.D,
		"new_infections", infected,
		"recoveries", recovered,
		"deaths", died,
	)
	return report
}

// Snapshot returns a deep copy of the current state.
func (s *Simulation) Snapshot() State {
	ag := make([]agents.Agent, len(s.Agents))
	for i, a := range s.Agents {
		ag[i] = *a
	}
	return State{
		Agents:  ag,
		Stats:   s.Stats,
		Day:     s.Day,
		History: s.History.Clone(),
	}
}
