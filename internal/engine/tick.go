package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// MaxSpeed caps autoplay at this many days per second.
const MaxSpeed = 60.0

// Engine drives a simulation forward on a timer. Step is called once per
// simulated day; Speed is in days per second, 0 = paused.
type Engine struct {
	Step     func() error
	Interval time.Duration // Base interval between days at speed 1 (default 1 second)

	mu    sync.Mutex
	speed float64
	days  uint64
}

// NewEngine creates a paused engine around a step function.
func NewEngine(step func() error) *Engine {
	return &Engine{
		Step:     step,
		Interval: time.Second,
	}
}

// SetSpeed changes the autoplay rate, clamped to [0, MaxSpeed].
func (e *Engine) SetSpeed(v float64) {
	if v < 0 {
		v = 0
	}
	if v > MaxSpeed {
		v = MaxSpeed
	}
	e.mu.Lock()
	e.speed = v
	e.mu.Unlock()
}

// Speed returns the current autoplay rate.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// Days returns how many days this engine has stepped.
func (e *Engine) Days() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.days
}

// Run steps the simulation until ctx is cancelled. A step returning
// ErrNotInitialized pauses the engine instead of stopping it.
func (e *Engine) Run(ctx context.Context) {
	slog.Debug("autoplay engine started", "speed", e.Speed())
	defer slog.Debug("autoplay engine stopped", "days", e.Days())

	for {
		speed := e.Speed()
		if speed <= 0 {
			// Paused: sleep briefly and check again.
			if !sleep(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}

		start := time.Now()
		if err := e.Step(); err != nil {
			if errors.Is(err, ErrNotInitialized) {
				slog.Warn("autoplay paused: simulation not initialized")
			} else {
				slog.Error("autoplay step failed", "error", err)
			}
			e.SetSpeed(0)
			continue
		}
		e.mu.Lock()
		e.days++
		e.mu.Unlock()

		// Sleep for the remainder of the interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target {
			if !sleep(ctx, target-elapsed) {
				return
			}
		} else if ctx.Err() != nil {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
