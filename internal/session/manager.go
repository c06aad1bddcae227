// Package session keeps one simulation driver per client session. The hosting
// layer resolves a session id per request and never touches a global driver.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/entropy"
)

// DefaultID is the session used when a client sends no session id.
const DefaultID = "default"

// ErrTooManySessions is returned when creating a session would exceed the cap.
var ErrTooManySessions = errors.New("too many sessions")

// Hooks observe session lifecycle. Either may be nil. They run on the
// goroutine that initialized or advanced the session.
type Hooks struct {
	OnInitialize func(s *Session, p engine.Parameters, st engine.State)
	OnDay        func(s *Session, st engine.State, r engine.DayReport, took time.Duration)
}

// Manager owns every live session.
type Manager struct {
	NewSource   func() entropy.Source // Per-initialize random source; nil = clock-seeded
	Hooks       Hooks
	MaxSessions int // 0 = unlimited

	ctx      context.Context
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a manager. Autoplay goroutines stop when ctx is done.
func NewManager(ctx context.Context, newSource func() entropy.Source) *Manager {
	return &Manager{
		NewSource: newSource,
		ctx:       ctx,
		sessions:  make(map[string]*Session),
	}
}

// NewID returns a fresh random session id.
func NewID() string {
	return uuid.NewString()
}

// Get returns an existing session. An empty id means DefaultID.
func (m *Manager) Get(id string) (*Session, bool) {
	if id == "" {
		id = DefaultID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Resolve returns the session for id, creating it if needed.
func (m *Manager) Resolve(id string) (*Session, error) {
	if id == "" {
		id = DefaultID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	if m.MaxSessions > 0 && len(m.sessions) >= m.MaxSessions {
		return nil, ErrTooManySessions
	}
	s := &Session{
		ID:          id,
		Driver:      engine.NewDriver(m.NewSource),
		mgr:         m,
		subscribers: make(map[int]chan engine.State),
	}
	m.sessions[id] = s
	slog.Info("session created", "session", id, "sessions", len(m.sessions))
	return s, nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Remove stops and forgets a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Close stops every session's autoplay and closes every subscriber.
func (m *Manager) Close() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

// Session is one client's simulation handle.
type Session struct {
	ID     string
	Driver *engine.Driver

	mgr *Manager

	// runMu orders Initialize against Advance so a day and its hooks always
	// see the run id of the simulation that produced it.
	runMu sync.Mutex

	mu          sync.Mutex
	runID       string
	autoplay    *engine.Engine
	stop        context.CancelFunc
	nextSub     int
	subscribers map[int]chan engine.State
}

// RunID identifies the current run; it changes on every Initialize.
func (s *Session) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Initialize starts a new run in this session and returns its day-0 state.
func (s *Session) Initialize(p engine.Parameters) engine.State {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	st := s.Driver.Initialize(p)

	s.mu.Lock()
	s.runID = uuid.NewString()
	s.mu.Unlock()

	if h := s.mgr.Hooks.OnInitialize; h != nil {
		h(s, p, st)
	}
	s.publish(st)
	return st
}

// Advance runs one day. It returns engine.ErrNotInitialized before the
// first Initialize.
func (s *Session) Advance() (engine.State, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	st, report, err := s.Driver.AdvanceReport()
	if err != nil {
		return engine.State{}, err
	}
	if h := s.mgr.Hooks.OnDay; h != nil {
		h(s, st, report, time.Since(start))
	}
	s.publish(st)
	return st, nil
}

// SetSpeed sets the autoplay rate in days per second, starting the autoplay
// loop on first use. Returns the applied (clamped) speed.
func (s *Session) SetSpeed(speed float64) float64 {
	s.mu.Lock()
	if s.autoplay == nil {
		s.autoplay = engine.NewEngine(func() error {
			_, err := s.Advance()
			return err
		})
		parent := s.mgr.ctx
		if parent == nil {
			parent = context.Background()
		}
		ctx, cancel := context.WithCancel(parent)
		s.stop = cancel
		go s.autoplay.Run(ctx)
	}
	e := s.autoplay
	s.mu.Unlock()

	e.SetSpeed(speed)
	slog.Info("autoplay speed changed", "session", s.ID, "speed", e.Speed())
	return e.Speed()
}

// Speed returns the autoplay rate; 0 when autoplay was never started.
func (s *Session) Speed() float64 {
	s.mu.Lock()
	e := s.autoplay
	s.mu.Unlock()
	if e == nil {
		return 0
	}
	return e.Speed()
}

// Subscribe registers for every state this session publishes. The channel
// is buffered; slow subscribers miss days rather than block the simulation.
func (s *Session) Subscribe() (int, <-chan engine.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan engine.State, 8)
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (s *Session) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
}

func (s *Session) publish(st engine.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- st:
		default:
			slog.Debug("subscriber lagging, day dropped", "session", s.ID, "sub_id", id, "day", st.Day)
		}
	}
}

// Close stops autoplay and closes all subscriptions.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}
