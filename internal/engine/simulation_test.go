package engine

import (
	"reflect"
	"testing"

	"github.com/talgya/contagion/internal/agents"
	"github.com/talgya/contagion/internal/entropy"
	"github.com/talgya/contagion/internal/world"
)

// newTestSim builds a simulation around hand-placed agents.
func newTestSim(p Parameters, rng entropy.Source, ag ...*agents.Agent) *Simulation {
	for i, a := range ag {
		a.ID = agents.AgentID(i)
	}
	return &Simulation{
		Params:        p,
		Agents:        ag,
		Stats:         CountStates(ag),
		History:       NewHistory(),
		rng:           rng,
		infectionRate: p.EffectiveInfectionRate(),
		mortalityRate: p.EffectiveMortalityRate(),
	}
}

func scenarioA() Parameters {
	p := DefaultParameters()
	p.Population = 100
	p.InfectionRate = 10
	p.RecoveryTime = 14
	p.MortalityRate = 2
	return p
}

func TestScenarioAInitialSnapshot(t *testing.T) {
	st := NewDriver(func() entropy.Source { return entropy.NewSeeded(11) }).Initialize(scenarioA())

	want := Stats{S: 98, I: 2, R: 0, D: 0}
	if st.Stats != want {
		t.Fatalf("stats = %+v, want %+v", st.Stats, want)
	}
	if st.Day != 0 {
		t.Fatalf("day = %d, want 0", st.Day)
	}
	if st.History.Len() != 0 {
		t.Fatalf("history has %d entries, want 0", st.History.Len())
	}
	if len(st.Agents) != 100 {
		t.Fatalf("agents = %d, want 100", len(st.Agents))
	}
}

func TestScenarioBNoTransmission(t *testing.T) {
	p := scenarioA()
	p.InfectionRadius = 0
	sim := NewSimulation(p, entropy.NewSeeded(5))

	for day := 1; day <= p.RecoveryTime; day++ {
		sim.Step()
		if sim.Stats.S != 98 {
			t.Fatalf("day %d: S = %d, want 98", day, sim.Stats.S)
		}
		if day < p.RecoveryTime && sim.Stats.I != 2 {
			t.Fatalf("day %d: I = %d, want 2 before resolution", day, sim.Stats.I)
		}
	}

	if sim.Stats.I != 0 || sim.Stats.R+sim.Stats.D != 2 {
		t.Fatalf("day %d stats = %+v, want both seeds resolved", sim.Day, sim.Stats)
	}
	if sim.Day != 14 || sim.History.Len() != 14 {
		t.Fatalf("day = %d, history = %d, want 14/14", sim.Day, sim.History.Len())
	}
}

func TestInvariantsHoldEveryDay(t *testing.T) {
	p := DefaultParameters()
	p.Population = 150
	p.InfectionRate = 40
	p.RecoveryTime = 7
	p.MortalityRate = 30
	p.MaskUsage = 0.3
	p.VaccinationRate = 0.4
	sim := NewSimulation(p, entropy.NewSeeded(2024))

	prev := sim.Snapshot()
	for day := 1; day <= 60; day++ {
		sim.Step()
		cur := sim.Snapshot()

		if cur.Stats.Total() != p.Population {
			t.Fatalf("day %d: conservation broken: %+v", day, cur.Stats)
		}
		if cur.Stats.R < prev.Stats.R || cur.Stats.D < prev.Stats.D {
			t.Fatalf("day %d: R or D decreased: %+v -> %+v", day, prev.Stats, cur.Stats)
		}
		if cur.Stats.S > prev.Stats.S {
			t.Fatalf("day %d: S increased: %+v -> %+v", day, prev.Stats, cur.Stats)
		}

		for i, a := range cur.Agents {
			before := prev.Agents[i]
			if !world.InBounds(a.X, a.Y) {
				t.Fatalf("day %d: agent %d out of bounds (%v, %v)", day, i, a.X, a.Y)
			}
			if a.Immunity <= 0 || a.Immunity > 1 {
				t.Fatalf("day %d: agent %d immunity %v", day, i, a.Immunity)
			}
			if before.State.Terminal() && a.State != before.State {
				t.Fatalf("day %d: agent %d left terminal state %v for %v", day, i, before.State, a.State)
			}
			if before.State == agents.Dead && (a.X != before.X || a.Y != before.Y) {
				t.Fatalf("day %d: dead agent %d moved", day, i)
			}
			if !allowedTransition(before.State, a.State) {
				t.Fatalf("day %d: agent %d went %v -> %v", day, i, before.State, a.State)
			}
		}
		prev = cur
	}

	if got := sim.History.Len(); got != 60 {
		t.Fatalf("history length = %d, want 60", got)
	}
}

func allowedTransition(from, to agents.HealthState) bool {
	if from == to {
		return true
	}
	switch from {
	case agents.Susceptible:
		return to == agents.Infected
	case agents.Infected:
		return to == agents.Recovered || to == agents.Dead
	}
	return false
}

func TestDeterministicUnderScriptedRandomness(t *testing.T) {
	uniforms := []float64{0.13, 0.72, 0.41, 0.05, 0.93, 0.38, 0.66, 0.21}
	normals := []float64{0.4, -0.7, 1.1}
	newDriver := func() *Driver {
		return NewDriver(func() entropy.Source { return entropy.NewSequence(uniforms, normals) })
	}

	p := DefaultParameters()
	p.Population = 40
	p.InfectionRate = 60
	p.RecoveryTime = 3

	a, b := newDriver(), newDriver()
	a.Initialize(p)
	b.Initialize(p)
	for day := 0; day < 10; day++ {
		sa, err := a.Advance()
		if err != nil {
			t.Fatalf("advance a: %v", err)
		}
		sb, err := b.Advance()
		if err != nil {
			t.Fatalf("advance b: %v", err)
		}
		if !reflect.DeepEqual(sa, sb) {
			t.Fatalf("day %d snapshots differ", sa.Day)
		}
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	sim := NewSimulation(scenarioA(), entropy.NewSeeded(3))
	sim.Step()

	st := sim.Snapshot()
	st.Agents[0].X = -42
	st.History.S[0] = -1

	again := sim.Snapshot()
	if again.Agents[0].X == -42 || again.History.S[0] == -1 {
		t.Fatal("mutating a snapshot changed the live simulation")
	}
}

func TestStepReportMatchesStats(t *testing.T) {
	p := scenarioA()
	p.InfectionRate = 100
	sim := NewSimulation(p, entropy.NewSeeded(8))
	before := sim.Stats

	r := sim.Step()
	if r.Day != 1 || r.Stats != sim.Stats {
		t.Fatalf("report %+v does not match simulation stats %+v", r, sim.Stats)
	}
	if before.S-sim.Stats.S != r.NewInfections {
		t.Fatalf("new infections %d, but S dropped by %d", r.NewInfections, before.S-sim.Stats.S)
	}
}

func TestEmptyPopulation(t *testing.T) {
	p := DefaultParameters()
	p.Population = 0
	sim := NewSimulation(p, entropy.NewSeeded(1))
	sim.Step()
	if sim.Stats.Total() != 0 || sim.Day != 1 {
		t.Fatalf("empty population: stats %+v day %d", sim.Stats, sim.Day)
	}
}

func TestEffectiveRatesDividePercent(t *testing.T) {
	cases := []struct {
		input, infection, mortality float64
	}{
		{10, 0.2, 0.1},
		{2, 0.04, 0.02},
		{57, 1.14, 0.57},
		{0.5, 0.01, 0.005},
		{0, 0, 0},
	}
	for _, c := range cases {
		p := Parameters{InfectionRate: c.input, MortalityRate: c.input}
		if got := p.EffectiveInfectionRate(); got != c.infection {
			t.Errorf("infection rate for %v = %v, want %v", c.input, got, c.infection)
		}
		if got := p.EffectiveMortalityRate(); got != c.mortality {
			t.Errorf("mortality rate for %v = %v, want %v", c.input, got, c.mortality)
		}
	}
}
