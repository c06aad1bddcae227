package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/contagion/internal/engine"
	"github.com/talgya/contagion/internal/session"
)

const (
	streamWriteWait = 5 * time.Second
	streamPingEvery = 15 * time.Second
	streamReadWait  = 60 * time.Second
)

// handleStream upgrades to a websocket and pushes one State per published
// day. The current snapshot, if any, is sent first. A stream may open before
// the session is initialized and starts delivering on initialize.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	current := atomic.AddInt32(&s.streams, 1)
	if s.MaxStreams > 0 && int(current) > s.MaxStreams {
		atomic.AddInt32(&s.streams, -1)
		http.Error(w, "too many streams", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.streams, -1)

	sess, err := s.Sessions.Resolve(sessionID(r))
	if errors.Is(err, session.ErrTooManySessions) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		slog.Debug("stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	subID, ch := sess.Subscribe()
	defer sess.Unsubscribe(subID)
	slog.Info("stream client connected", "session", sess.ID, "sub_id", subID)

	// Reader: only control frames are expected. It exits when the client
	// closes or stops answering pings.
	gone := make(chan struct{})
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if st, err := sess.Driver.Snapshot(); err == nil {
		if err := writeState(conn, st); err != nil {
			return
		}
	}

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	for {
		select {
		case st, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(time.Second))
				return
			}
			if err := writeState(conn, st); err != nil {
				slog.Debug("stream write failed", "session", sess.ID, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-gone:
			slog.Info("stream client disconnected", "session", sess.ID, "sub_id", subID)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeState(conn *websocket.Conn, st engine.State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
