package engine

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/talgya/contagion/internal/entropy"
)

// NotInitializedMessage is the soft-error text returned to clients that
// advance before initializing.
const NotInitializedMessage = "Simulation not initialized"

// ErrNotInitialized is returned by Driver operations that need a simulation
// when none has been initialized.
var ErrNotInitialized = errors.New("simulation not initialized")

// SoftError is the payload returned in place of a snapshot when an operation
// cannot run. It is a normal value, never a fault.
type SoftError struct {
	Error string `json:"error"`
}

// NotInitialized returns the uninitialized soft-error payload.
func NotInitialized() SoftError {
	return SoftError{Error: NotInitializedMessage}
}

// Driver owns one simulation instance and serializes every operation on it.
// Callers hold one Driver per session; there is no process-wide instance.
type Driver struct {
	mu        sync.Mutex
	sim       *Simulation
	newSource func() entropy.Source
}

// NewDriver creates a driver. newSource is called on every Initialize; a nil
// constructor uses a clock-seeded source.
func NewDriver(newSource func() entropy.Source) *Driver {
	if newSource == nil {
		newSource = func() entropy.Source { return entropy.NewSeeded(0) }
	}
	return &Driver{newSource: newSource}
}

// Initialize replaces any current simulation with a fresh one and returns
// its day-0 snapshot.
func (d *Driver) Initialize(p Parameters) State {
	sim := NewSimulation(p, d.newSource())

	d.mu.Lock()
	d.sim = sim
	st := sim.Snapshot()
	d.mu.Unlock()

	slog.Info("simulation initialized",
		"population", p.Population,
		"infected", st.Stats.I,
		"infection_rate", p.InfectionRate,
		"recovery_time", p.RecoveryTime,
		"mortality_rate", p.MortalityRate,
	)
	return st
}

// Advance runs one day and returns the new snapshot, or ErrNotInitialized.
func (d *Driver) Advance() (State, error) {
	st, _, err := d.AdvanceReport()
	return st, err
}

// AdvanceReport is Advance that also returns the day's transition summary.
func (d *Driver) AdvanceReport() (State, DayReport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sim == nil {
		return State{}, DayReport{}, ErrNotInitialized
	}
	report := d.sim.Step()
	return d.sim.Snapshot(), report, nil
}

// Snapshot returns the current state without advancing.
func (d *Driver) Snapshot() (State, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sim == nil {
		return State{}, ErrNotInitialized
	}
	return d.sim.Snapshot(), nil
}

// Parameters returns the parameters of the current run.
func (d *Driver) Parameters() (Parameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sim == nil {
		return Parameters{}, ErrNotInitialized
	}
	return d.sim.Params, nil
}

// Initialized reports whether Initialize has been called.
func (d *Driver) Initialized() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sim != nil
}
