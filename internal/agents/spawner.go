// Agent spawning: creates the initial population with positions, immunity,
// vaccination status, and the seed infections.
package agents

import (
	"math"

	"github.com/talgya/contagion/internal/entropy"
	"github.com/talgya/contagion/internal/world"
)

// SpawnConfig controls initial population generation.
type SpawnConfig struct {
	Population        int
	ImmunityVariation float64 // Stddev of the natural immunity distribution
	VaccinationRate   float64 // Probability an agent starts immunity-boosted
}

// Spawner creates agents for the simulation.
type Spawner struct {
	rng entropy.Source
}

// NewSpawner creates an agent spawner drawing from the given source.
func NewSpawner(rng entropy.Source) *Spawner {
	return &Spawner{rng: rng}
}

// SpawnPopulation creates the full population. Agents are drawn in id order;
// per agent the draws are immunity, vaccination trial, x, y. The first
// InitialInfected(n) agents are then marked Infected.
func (s *Spawner) SpawnPopulation(cfg SpawnConfig) []*Agent {
	if cfg.Population <= 0 {
		return []*Agent{}
	}

	population := make([]*Agent, 0, cfg.Population)
	for i := 0; i < cfg.Population; i++ {
		population = append(population, s.spawnOne(AgentID(i), cfg))
	}

	for _, a := range population[:InitialInfected(cfg.Population)] {
		a.Infect()
	}

	return population
}

func (s *Spawner) spawnOne(id AgentID, cfg SpawnConfig) *Agent {
	immunity := s.naturalImmunity(cfg.ImmunityVariation)

	// Vaccination doubles immunity, capped below full protection.
	if s.rng.Float64() < cfg.VaccinationRate {
		immunity = math.Min(VaccinatedCap, immunity*2.0)
	}

	return &Agent{
		ID:        id,
		X:         entropy.Uniform(s.rng, 0, world.Width),
		Y:         entropy.Uniform(s.rng, 0, world.Height),
		State:     Susceptible,
		Immunity:  immunity,
		ViralLoad: 0.0,
	}
}

func (s *Spawner) naturalImmunity(variation float64) float64 {
	// Bell curve centered around 0.3, clamped to 0.1–0.7.
	v := entropy.Normal(s.rng, 0.3, variation)
	return math.Max(ImmunityFloor, math.Min(ImmunityCeiling, v))
}
