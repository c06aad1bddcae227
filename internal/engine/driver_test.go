package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/talgya/contagion/internal/entropy"
)

func TestDriverNotInitialized(t *testing.T) {
	d := NewDriver(nil)

	if d.Initialized() {
		t.Fatal("fresh driver reports initialized")
	}
	if _, err := d.Advance(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Advance error = %v, want ErrNotInitialized", err)
	}
	if _, err := d.Snapshot(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Snapshot error = %v, want ErrNotInitialized", err)
	}
	if _, err := d.Parameters(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Parameters error = %v, want ErrNotInitialized", err)
	}

	b, err := json.Marshal(NotInitialized())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"error":"Simulation not initialized"}` {
		t.Fatalf("payload = %s", b)
	}
}

func TestDriverReinitializeResets(t *testing.T) {
	d := NewDriver(func() entropy.Source { return entropy.NewSeeded(4) })
	d.Initialize(scenarioA())
	for i := 0; i < 5; i++ {
		if _, err := d.Advance(); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}

	p := scenarioA()
	p.Population = 250
	st := d.Initialize(p)

	if st.Day != 0 || st.History.Len() != 0 {
		t.Fatalf("after reinitialize day=%d history=%d", st.Day, st.History.Len())
	}
	if len(st.Agents) != 250 || st.Stats.I != 5 {
		t.Fatalf("after reinitialize agents=%d infected=%d, want 250/5", len(st.Agents), st.Stats.I)
	}
	got, err := d.Parameters()
	if err != nil || got.Population != 250 {
		t.Fatalf("parameters = %+v, %v", got, err)
	}
}

func TestDriverAdvanceReport(t *testing.T) {
	d := NewDriver(func() entropy.Source { return entropy.NewSeeded(9) })
	d.Initialize(scenarioA())

	st, r, err := d.AdvanceReport()
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if st.Day != 1 || r.Day != 1 || st.Stats != r.Stats {
		t.Fatalf("snapshot day %d stats %+v, report %+v", st.Day, st.Stats, r)
	}
	if st.History.Len() != 1 || st.History.At(0) != st.Stats {
		t.Fatalf("history = %+v", st.History)
	}
}

func TestRunTrialsMasksReduceSpread(t *testing.T) {
	p := DefaultParameters()
	p.Population = 200
	p.InfectionRate = 30
	seeds := func(i int) entropy.Source { return entropy.NewSeeded(int64(1000 + i)) }

	p.MaskUsage = 0
	open := RunTrials(p, 30, 10, seeds)
	p.MaskUsage = 1
	masked := RunTrials(p, 30, 10, seeds)

	if masked.MeanNewInfections >= open.MeanNewInfections {
		t.Fatalf("masked mean %.1f not below unmasked mean %.1f",
			masked.MeanNewInfections, open.MeanNewInfections)
	}
	if len(open.Final) != 10 || len(open.NewInfections) != 10 {
		t.Fatalf("summary holds %d finals, %d counts", len(open.Final), len(open.NewInfections))
	}
	for i, s := range open.Final {
		if s.Total() != p.Population {
			t.Fatalf("trial %d final stats %+v", i, s)
		}
	}
}

func TestRunTrialsZero(t *testing.T) {
	s := RunTrials(DefaultParameters(), 5, 0, func(int) entropy.Source { return entropy.NewSeeded(1) })
	if s.Trials != 0 || s.MeanNewInfections != 0 || len(s.Final) != 0 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestMeanStd(t *testing.T) {
	mean, std := meanStd([]int{2, 4, 4, 4, 5, 5, 7, 9})
	if mean != 5 || std != 2 {
		t.Fatalf("mean=%v std=%v, want 5/2", mean, std)
	}
}

func TestHistoryPeakAndClone(t *testing.T) {
	h := NewHistory()
	if c, d := h.Peak(); c != 0 || d != -1 {
		t.Fatalf("empty peak = %d@%d", c, d)
	}
	h.Append(Stats{S: 9, I: 1})
	h.Append(Stats{S: 6, I: 4})
	h.Append(Stats{S: 6, I: 2, R: 2})
	if c, d := h.Peak(); c != 4 || d != 1 {
		t.Fatalf("peak = %d@%d, want 4@1", c, d)
	}

	c := h.Clone()
	c.I[1] = 99
	if h.I[1] != 4 {
		t.Fatal("clone shares backing arrays")
	}

	b, err := json.Marshal(NewHistory())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"S":[],"I":[],"R":[],"D":[]}` {
		t.Fatalf("empty history = %s", b)
	}
}

func TestEngineStepsUntilCancelled(t *testing.T) {
	var steps atomic.Int64
	e := NewEngine(func() error {
		steps.Add(1)
		return nil
	})
	e.Interval = time.Millisecond
	e.SetSpeed(1000)
	if e.Speed() != MaxSpeed {
		t.Fatalf("speed = %v, want clamp to %v", e.Speed(), MaxSpeed)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	e.Run(ctx)

	if steps.Load() == 0 {
		t.Fatal("engine never stepped")
	}
	if uint64(steps.Load()) != e.Days() {
		t.Fatalf("steps = %d, days = %d", steps.Load(), e.Days())
	}
}

func TestEnginePausesWhenNotInitialized(t *testing.T) {
	d := NewDriver(nil)
	e := NewEngine(func() error {
		_, err := d.Advance()
		return err
	})
	e.Interval = time.Millisecond
	e.SetSpeed(5)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	e.Run(ctx)

	if e.Speed() != 0 {
		t.Fatalf("speed = %v, want paused", e.Speed())
	}
	if e.Days() != 0 {
		t.Fatalf("days = %d, want 0", e.Days())
	}
}

func TestEngineSpeedClampsNegative(t *testing.T) {
	e := NewEngine(func() error { return nil })
	e.SetSpeed(-3)
	if e.Speed() != 0 {
		t.Fatalf("speed = %v, want 0", e.Speed())
	}
}
