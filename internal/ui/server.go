package ui

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/kkstefanov/tiktok-live-watcher/internal/settings"
	"github.com/kkstefanov/tiktok-live-watcher/internal/watcher"
)

// Server exposes the dashboard surface: a websocket push channel plus a
// small JSON API for operator actions.
type Server struct {
	core        *watcher.Watcher
	broadcaster *Broadcaster
	svc         *settings.Service
}

func NewServer(core *watcher.Watcher, broadcaster *Broadcaster, svc *settings.Service) *Server {
	return &Server{core: core, broadcaster: broadcaster, svc: svc}
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/history/clear", s.handleClearHistory)
	mux.HandleFunc("/api/join-events", s.handleJoinEvents)
	mux.HandleFunc("/api/join-events/clear", s.handleClearJoinEvents)
	mux.HandleFunc("/api/watch-users", s.handleWatchUsers)
	mux.HandleFunc("/api/check-now", s.handleCheckNow)
	mux.HandleFunc("/api/tracking/start", s.handleTrackingStart)
	mux.HandleFunc("/api/tracking/start-all-live", s.handleTrackingStartAllLive)
	mux.HandleFunc("/api/tracking/stop", s.handleTrackingStop)
	mux.HandleFunc("/api/notifications/read", s.handleNotificationsRead)
	mux.HandleFunc("/api/factory-reset", s.handleFactoryReset)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	c := s.broadcaster.AddClient(conn)
	s.sendSnapshot(c)

	go func() {
		defer s.broadcaster.RemoveClient(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// sendSnapshot primes a fresh client with the full current state.
func (s *Server) sendSnapshot(c *client) {
	frames := []Message{
		{Kind: "settings-updated", Payload: s.svc.Get()},
		{Kind: "state-updated", Payload: s.core.StateSnapshot()},
		{Kind: "join-tracker-updated", Payload: s.core.JoinTracker()},
		{Kind: "app-status-updated", Payload: s.core.AppStatus()},
	}
	for _, frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "error": err.Error()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.AppStatus())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.core.StateSnapshot())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.svc.Get())
	case http.MethodPost:
		var next settings.Settings
		if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		normalized, err := s.core.UpdateSettings(next)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, normalized)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.core.History(0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.core.ClearHistory()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleJoinEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.core.JoinEvents(0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleClearJoinEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.core.ClearJoinEvents()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleWatchUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.core.WatchUsers())
	case http.MethodPost:
		var next []string
		if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, s.core.SetWatchUsers(next))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCheckNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	go s.core.RunCheck()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleTrackingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Host string `json:"host"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.core.StartTracking(req.Host); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleTrackingStartAllLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.core.StartTrackingAllLive(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleTrackingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.core.StopTracking()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleNotificationsRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Ts int64 `json:"ts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	readAt := s.core.MarkNotificationsRead(req.Ts)
	writeJSON(w, http.StatusOK, map[string]int64{"lastReadAt": readAt})
}

func (s *Server) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.core.FactoryReset()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
