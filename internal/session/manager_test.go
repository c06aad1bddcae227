package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/entropy"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(ctx, func() entropy.Source { return entropy.NewSeeded(7) })
	t.Cleanup(func() {
		m.Close()
		cancel()
	})
	return m
}

func smallParams() engine.Parameters {
	p := engine.DefaultParameters()
	p.Population = 60
	return p
}

func TestResolveDefaultsAndReuses(t *testing.T) {
	m := newTestManager(t)

	a, err := m.Resolve("")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a.ID != DefaultID {
		t.Fatalf("id = %q, want %q", a.ID, DefaultID)
	}
	b, _ := m.Resolve(DefaultID)
	if a != b {
		t.Fatal("resolve returned a different session for the same id")
	}
	if _, ok := m.Get("missing"); ok {
		t.Fatal("Get created a session")
	}
	if m.Len() != 1 {
		t.Fatalf("sessions = %d, want 1", m.Len())
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	m := newTestManager(t)
	a, _ := m.Resolve(NewID())
	b, _ := m.Resolve(NewID())

	a.Initialize(smallParams())
	if _, err := a.Advance(); err != nil {
		t.Fatalf("advance a: %v", err)
	}
	if _, err := b.Advance(); !errors.Is(err, engine.ErrNotInitialized) {
		t.Fatalf("advance b error = %v, want ErrNotInitialized", err)
	}
}

func TestMaxSessions(t *testing.T) {
	m := newTestManager(t)
	m.MaxSessions = 1
	if _, err := m.Resolve("one"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := m.Resolve("two"); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("error = %v, want ErrTooManySessions", err)
	}
	m.Remove("one")
	if _, err := m.Resolve("two"); err != nil {
		t.Fatalf("resolve after remove: %v", err)
	}
}

func TestHooksAndRunIDs(t *testing.T) {
	m := newTestManager(t)
	var inits, days int
	var lastRun string
	m.Hooks = Hooks{
		OnInitialize: func(s *Session, p engine.Parameters, st engine.State) {
			inits++
			lastRun = s.RunID()
		},
		OnDay: func(s *Session, st engine.State, r engine.DayReport, _ time.Duration) {
			days++
			if r.Day != st.Day {
				t.Errorf("report day %d, state day %d", r.Day, st.Day)
			}
		},
	}

	s, _ := m.Resolve("")
	s.Initialize(smallParams())
	first := lastRun
	for i := 0; i < 3; i++ {
		if _, err := s.Advance(); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	s.Initialize(smallParams())

	if inits != 2 || days != 3 {
		t.Fatalf("inits=%d days=%d, want 2/3", inits, days)
	}
	if first == "" || first == lastRun {
		t.Fatalf("run ids %q then %q, want two distinct ids", first, lastRun)
	}
}

func TestSubscribeReceivesDays(t *testing.T) {
	m := newTestManager(t)
	s, _ := m.Resolve("")
	id, ch := s.Subscribe()

	s.Initialize(smallParams())
	if _, err := s.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}

	for _, want := range []int{0, 1} {
		select {
		case st := <-ch:
			if st.Day != want {
				t.Fatalf("day = %d, want %d", st.Day, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("no state for day %d", want)
		}
	}

	s.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
}

func TestAutoplayAdvances(t *testing.T) {
	m := newTestManager(t)
	s, _ := m.Resolve("")
	s.Initialize(smallParams())

	if got := s.SetSpeed(engine.MaxSpeed); got != engine.MaxSpeed {
		t.Fatalf("speed = %v", got)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, err := s.Driver.Snapshot()
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if st.Day >= 2 {
			s.SetSpeed(0)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("autoplay did not advance")
}

func TestReinitializeUnderAutoplayKeepsDaysInTheirRun(t *testing.T) {
	m := newTestManager(t)

	var mu sync.Mutex
	lastDay := make(map[string]int)
	var misattributed int
	m.Hooks = Hooks{
		OnInitialize: func(s *Session, _ engine.Parameters, _ engine.State) {
			mu.Lock()
			lastDay[s.RunID()] = 0
			mu.Unlock()
		},
		OnDay: func(s *Session, st engine.State, _ engine.DayReport, _ time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			run := s.RunID()
			if st.Day != lastDay[run]+1 {
				misattributed++
			}
			lastDay[run] = st.Day
		},
	}

	s, _ := m.Resolve("")
	p := smallParams()
	p.Population = 20
	s.Initialize(p)
	s.SetSpeed(engine.MaxSpeed)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if _, err := s.Advance(); err != nil {
					t.Errorf("advance: %v", err)
					return
				}
			}
		}()
	}
	for i := 0; i < 500; i++ {
		s.Initialize(p)
	}
	close(done)
	wg.Wait()
	s.SetSpeed(0)

	mu.Lock()
	defer mu.Unlock()
	if misattributed != 0 {
		t.Fatalf("%d days recorded under the wrong run", misattributed)
	}
	if len(lastDay) != 501 {
		t.Fatalf("runs seen = %d, want 501", len(lastDay))
	}
}
