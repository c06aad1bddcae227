package engine

import (
	"github.com/talgya/contagion/internal/agents"
)

// Stats holds the per-state head counts for one day.
type Stats struct {
	S int `json:"S"`
	I int `json:"I"`
	R int `json:"R"`
	D int `json:"D"`
}

// Total returns S+I+R+D, which always equals the population.
func (s Stats) Total() int {
	return s.S + s.I + s.R + s.D
}

// Get returns the count for a state.
func (s Stats) Get(st agents.HealthState) int {
	switch st {
	case agents.Susceptible:
		return s.S
	case agents.Infected:
		return s.I
	case agents.Recovered:
		return s.R
	case agents.Dead:
		return s.D
	}
	return 0
}

// CountStates tallies the population by state.
func CountStates(population []*agents.Agent) Stats {
	var s Stats
	for _, a := range population {
		switch a.State {
		case agents.Susceptible:
			s.S++
		case agents.Infected:
			s.I++
		case agents.Recovered:
			s.R++
		case agents.Dead:
			s.D++
		}
	}
	return s
}

// History holds one append-only count sequence per state, one entry per
// completed day.
type History struct {
	S []int `json:"S"`
	I []int `json:"I"`
	R []int `json:"R"`
	D []int `json:"D"`
}

// NewHistory returns an empty history whose sequences encode as [] not null.
func NewHistory() History {
	return History{S: []int{}, I: []int{}, R: []int{}, D: []int{}}
}

// Append records one day of counts.
func (h *History) Append(s Stats) {
	h.S = append(h.S, s.S)
	h.I = append(h.I, s.I)
	h.R = append(h.R, s.R)
	h.D = append(h.D, s.D)
}

// Len returns the number of recorded days.
func (h History) Len() int {
	return len(h.S)
}

// At returns the counts recorded for the given day index.
func (h History) At(i int) Stats {
	return Stats{S: h.S[i], I: h.I[i], R: h.R[i], D: h.D[i]}
}

// Series returns the sequence for a state.
func (h History) Series(st agents.HealthState) []int {
	switch st {
	case agents.Susceptible:
		return h.S
	case agents.Infected:
		return h.I
	case agents.Recovered:
		return h.R
	case agents.Dead:
		return h.D
	}
	return nil
}

// Clone returns a deep copy.
func (h History) Clone() History {
	return History{
		S: append([]int{}, h.S...),
		I: append([]int{}, h.I...),
		R: append([]int{}, h.R...),
		D: append([]int{}, h.D...),
	}
}

// Peak returns the highest Infected count and the day index it occurred on.
// Returns (0, -1) for an empty history.
func (h History) Peak() (count, day int) {
	day = -1
	for i, v := range h.I {
		if v > count || day < 0 {
			count, day = v, i
		}
	}
	return count, day
}
