// Package agents provides the agent data model and population spawning.
package agents

import (
	"encoding/json"
	"fmt"
	"math"
)

// AgentID is a unique identifier for an agent (0..population-1).
type AgentID int

// HealthState is an agent's epidemiological state.
// Transitions: Susceptible → Infected → {Recovered, Dead}. Recovered and Dead
// are terminal.
type HealthState uint8

const (
	Susceptible HealthState = iota
	Infected
	Recovered
	Dead
)

// NumStates is the number of epidemiological states.
const NumStates = 4

var stateLabels = [NumStates]string{"S", "I", "R", "D"}

// String returns the single-letter wire label.
func (s HealthState) String() string {
	if int(s) < NumStates {
		return stateLabels[s]
	}
	return fmt.Sprintf("HealthState(%d)", uint8(s))
}

// Name returns the long human-readable name.
func (s HealthState) Name() string {
	switch s {
	case Susceptible:
		return "Susceptible"
	case Infected:
		return "Infected"
	case Recovered:
		return "Recovered"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s HealthState) Terminal() bool {
	return s == Recovered || s == Dead
}

// ParseHealthState parses a wire label.
func ParseHealthState(label string) (HealthState, error) {
	for i, l := range stateLabels {
		if l == label {
			return HealthState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown health state %q", label)
}

// MarshalText implements encoding.TextMarshaler.
func (s HealthState) MarshalText() ([]byte, error) {
	if int(s) >= NumStates {
		return nil, fmt.Errorf("invalid health state %d", uint8(s))
	}
	return []byte(stateLabels[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *HealthState) UnmarshalText(b []byte) error {
	v, err := ParseHealthState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Immunity bounds.
const (
	ImmunityFloor   = 0.1
	ImmunityCeiling = 0.7  // Natural immunity upper clamp
	VaccinatedCap   = 0.95 // Upper clamp after the vaccination boost
	MaxImmunity     = 1.0
)

// Agent is one simulated individual.
type Agent struct {
	ID    AgentID     `json:"id"`
	X     float64     `json:"x"`
	Y     float64     `json:"y"`
	State HealthState `json:"state"`

	// DaysInfected is meaningful only while State == Infected.
	DaysInfected int `json:"-"`

	Immunity  float64 `json:"immunity"`   // 0.1–1.0
	ViralLoad float64 `json:"viral_load"` // 0.0–1.0, informational only
}

type agentJSON struct {
	ID           AgentID     `json:"id"`
	X            float64     `json:"x"`
	Y            float64     `json:"y"`
	State        HealthState `json:"state"`
	DaysInfected *int        `json:"days_infected,omitempty"`
	Immunity     float64     `json:"immunity"`
	ViralLoad    float64     `json:"viral_load"`
}

// MarshalJSON emits days_infected only while the agent is Infected.
func (a Agent) MarshalJSON() ([]byte, error) {
	out := agentJSON{
		ID:        a.ID,
		X:         a.X,
		Y:         a.Y,
		State:     a.State,
		Immunity:  a.Immunity,
		ViralLoad: a.ViralLoad,
	}
	if a.State == Infected {
		d := a.DaysInfected
		out.DaysInfected = &d
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Agent) UnmarshalJSON(b []byte) error {
	var in agentJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*a = Agent{
		ID:        in.ID,
		X:         in.X,
		Y:         in.Y,
		State:     in.State,
		Immunity:  in.Immunity,
		ViralLoad: in.ViralLoad,
	}
	if in.DaysInfected != nil {
		a.DaysInfected = *in.DaysInfected
	}
	return nil
}

// Alive returns true unless the agent is Dead.
func (a *Agent) Alive() bool {
	return a.State != Dead
}

// Infect moves a Susceptible agent to Infected. Other states are left alone.
func (a *Agent) Infect() bool {
	if a.State != Susceptible {
		return false
	}
	a.State = Infected
	a.DaysInfected = 0
	a.ViralLoad = 1.0
	return true
}

// Recover resolves an Infected agent to Recovered and boosts immunity by the
// given factor, capped at 1.0.
func (a *Agent) Recover(boost float64) {
	if a.State != Infected {
		return
	}
	a.State = Recovered
	a.DaysInfected = 0
	a.Immunity = math.Min(MaxImmunity, a.Immunity*(1+boost))
	a.ViralLoad = 0.0
}

// Die resolves an Infected agent to Dead.
func (a *Agent) Die() {
	if a.State != Infected {
		return
	}
	a.State = Dead
	a.DaysInfected = 0
}

// InitialInfected returns how many agents start Infected:
// max(1, floor(population × 2%)), never more than the population.
func InitialInfected(population int) int {
	if population <= 0 {
		return 0
	}
	n := population * 2 / 100
	if n < 1 {
		n = 1
	}
	return n
}
