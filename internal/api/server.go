// Package api serves epidemic simulations over HTTP.
// GET endpoints observe a session; initialize creates or resets one.
// Autoplay control requires a bearer token when an admin key is set.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/llm"
	"github.com/talgya/contagion/internal/metrics"
	"github.com/talgya/contagion/internal/render"
	"github.com/talgya/contagion/internal/session"
)

// SessionHeader carries the session id on requests and initialize responses.
const SessionHeader = "X-Session-ID"

const (
	maxBodyBytes     = 64 << 10
	chartWidth       = 800
	chartHeight      = 450
	frameJPEGQuality = 85
)

// WelcomeMessage is returned by GET /.
const WelcomeMessage = "Welcome to the Contagion epidemic simulation API"

// Server serves simulation sessions over HTTP.
type Server struct {
	Sessions *session.Manager
	Metrics  *metrics.Metrics // nil = no /metrics route
	LLM      *llm.Client      // nil = fallback bulletins only
	Frames   *render.FrameRenderer

	Port          int
	AdminKey      string   // Bearer token for POST /epidemic/autoplay. Empty = autoplay disabled.
	CORSOrigins   []string // Extra allowed origins; "*" allows any
	InitPerMinute int      // Initialize requests per client IP; 0 = unlimited
	MaxStreams    int      // Concurrent websocket streams; 0 = unlimited
	MaxPopulation int      // Largest accepted population; 0 = unlimited

	// Active stream count (atomic).
	streams int32

	initLimiter     *RateLimiter
	bulletinLimiter *RateLimiter
	upgrader        websocket.Upgrader

	// Cached bulletin per session, regenerated at most once per run-day.
	bulletinMu sync.Mutex
	bulletins  map[string]cachedBulletin
}

type cachedBulletin struct {
	runID    string
	bulletin *llm.Bulletin
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	if s.Frames == nil {
		s.Frames = render.NewFrameRenderer(nil)
	}
	if s.InitPerMinute > 0 && s.initLimiter == nil {
		s.initLimiter = NewRateLimiter(s.InitPerMinute, time.Minute)
	}
	if s.bulletinLimiter == nil {
		s.bulletinLimiter = NewRateLimiter(60, time.Hour)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 << 10,
		CheckOrigin:     func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)

	mux.HandleFunc("POST /epidemic/initialize", RateLimitMiddleware(s.initLimiter, s.handleInitialize))
	mux.HandleFunc("GET /epidemic/update", s.handleUpdate)
	mux.HandleFunc("GET /epidemic/state", s.handleState)
	mux.HandleFunc("GET /epidemic/history.png", s.handleHistoryChart)
	mux.HandleFunc("GET /epidemic/frame.jpg", s.handleFrame)
	mux.HandleFunc("GET /epidemic/bulletin", RateLimitMiddleware(s.bulletinLimiter, s.handleBulletin))
	mux.HandleFunc("GET /epidemic/stream", s.handleStream)

	mux.HandleFunc("/epidemic/autoplay", s.adminOnly(s.handleAutoplay))

	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}

	return s.corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine. The returned server is
// used for shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "llm", s.LLM.Enabled())

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// Close stops the rate limiter sweepers.
func (s *Server) Close() {
	if s.initLimiter != nil {
		s.initLimiter.Close()
	}
	if s.bulletinLimiter != nil {
		s.bulletinLimiter.Close()
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Localhost dev servers are always allowed.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+SessionHeader)
			w.Header().Set("Access-Control-Expose-Headers", SessionHeader)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	switch origin {
	case "http://localhost:5173", "http://localhost:4173", "http://localhost:3000":
		return true
	}
	for _, o := range s.CORSOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no CONTAGION_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

// sessionID reads the requested session from the header, then the query.
func sessionID(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	if id := r.URL.Query().Get("session"); id != "" {
		return id
	}
	return session.DefaultID
}

// lookup returns the request's session, or writes the not-initialized soft
// error when it does not exist.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := s.Sessions.Get(sessionID(r))
	if !ok {
		writeJSON(w, engine.NotInitialized())
		return nil, false
	}
	return sess, true
}

// snapshot returns the session's current state, or writes the soft error.
func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (*session.Session, engine.State, bool) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return nil, engine.State{}, false
	}
	st, err := sess.Driver.Snapshot()
	if errors.Is(err, engine.ErrNotInitialized) {
		writeJSON(w, engine.NotInitialized())
		return nil, engine.State{}, false
	}
	return sess, st, true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"message": WelcomeMessage})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	p, err := decodeParameters(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.MaxPopulation > 0 && p.Population > s.MaxPopulation {
		http.Error(w, fmt.Sprintf("population %d exceeds limit %d", p.Population, s.MaxPopulation), http.StatusBadRequest)
		return
	}

	sess, err := s.Sessions.Resolve(sessionID(r))
	if errors.Is(err, session.ErrTooManySessions) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.Metrics != nil {
		s.Metrics.Sessions.Set(float64(s.Sessions.Len()))
	}

	st := sess.Initialize(p)
	w.Header().Set(SessionHeader, sess.ID)
	writeJSON(w, st)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	st, err := sess.Advance()
	if errors.Is(err, engine.ErrNotInitialized) {
		writeJSON(w, engine.NotInitialized())
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	_, st, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleHistoryChart(w http.ResponseWriter, r *http.Request) {
	_, st, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	png, err := render.HistoryChart(st.History, st.Stats.Total(), chartWidth, chartHeight)
	if errors.Is(err, render.ErrTooFewPoints) {
		http.Error(w, "history needs at least two days", http.StatusConflict)
		return
	}
	if err != nil {
		slog.Error("history chart failed", "session", sessionID(r), "error", err)
		http.Error(w, "chart rendering failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	_, st, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	jpg, err := render.EncodeJPEG(s.Frames.Render(st), frameJPEGQuality)
	if err != nil {
		slog.Error("frame encode failed", "session", sessionID(r), "error", err)
		http.Error(w, "frame rendering failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(jpg)
}

func (s *Server) handleBulletin(w http.ResponseWriter, r *http.Request) {
	sess, st, ok := s.snapshot(w, r)
	if !ok {
		return
	}
	runID := sess.RunID()

	s.bulletinMu.Lock()
	if s.bulletins == nil {
		s.bulletins = make(map[string]cachedBulletin)
	}
	cached, ok := s.bulletins[sess.ID]
	s.bulletinMu.Unlock()
	if ok && cached.runID == runID && cached.bulletin.Day == st.Day {
		writeJSON(w, cached.bulletin)
		return
	}

	p, err := sess.Driver.Parameters()
	if err != nil {
		writeJSON(w, engine.NotInitialized())
		return
	}
	b, err := llm.GenerateBulletin(r.Context(), s.LLM, llm.NewBulletinData(p, st))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.bulletinMu.Lock()
	s.bulletins[sess.ID] = cachedBulletin{runID: runID, bulletin: b}
	s.bulletinMu.Unlock()

	writeJSON(w, b)
}

// handleAutoplay reports (GET) or sets (POST) the session's autoplay speed.
func (s *Server) handleAutoplay(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, map[string]any{"session": sess.ID, "speed": sess.Speed()})
	case http.MethodPost:
		if !sess.Driver.Initialized() {
			writeJSON(w, engine.NotInitialized())
			return
		}
		var body struct {
			Speed *float64 `json:"speed"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil || body.Speed == nil {
			http.Error(w, `body must be {"speed": days_per_second}`, http.StatusBadRequest)
			return
		}
		applied := sess.SetSpeed(*body.Speed)
		writeJSON(w, map[string]any{"session": sess.ID, "speed": applied})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
