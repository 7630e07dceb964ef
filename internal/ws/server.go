package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wellness-at-work/blinkd/internal/pipeline"
	"github.com/wellness-at-work/blinkd/internal/session"
	"github.com/wellness-at-work/blinkd/internal/store"
)

// Server exposes the tracking daemon to the tray/notification layer: a
// websocket feed plus a small JSON API for session control and data export.
type Server struct {
	agg         *session.Aggregator
	pipe        *pipeline.Pipeline
	archive     *store.Store
	broadcaster *Broadcaster
}

func NewServer(agg *session.Aggregator, pipe *pipeline.Pipeline, archive *store.Store, broadcaster *Broadcaster) *Server {
	return &Server{
		agg:         agg,
		pipe:        pipe,
		archive:     archive,
		broadcaster: broadcaster,
	}
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/session", s.handleCurrentSession)
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/pause", s.handlePause)
	mux.HandleFunc("POST /api/session/resume", s.handleResume)
	mux.HandleFunc("POST /api/session/end", s.handleEnd)
	mux.HandleFunc("GET /api/sessions", s.handleArchive)
	mux.HandleFunc("DELETE /api/sessions", s.handleDeleteAll)
	mux.HandleFunc("GET /api/export", s.handleExport)
}

// Snapshot builds the payload sent to new websocket clients and on the
// periodic snapshot tick.
func (s *Server) Snapshot() SnapshotPayload {
	now := time.Now()
	sess, stats := s.agg.Current(now)
	return SnapshotPayload{
		Session:    sess,
		Statistics: stats,
		Pipeline:   s.pipe.Stats(),
		Timestamp:  now,
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		// The daemon binds to localhost; the tray client connects
		// without an Origin header worth checking.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("WebSocket client connected: %s", r.RemoteAddr)
	c := s.broadcaster.AddClient(conn)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("WebSocket client disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"state":   s.agg.State().String(),
		"clients": s.broadcaster.ClientCount(),
	})
}

func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sess, err := s.agg.Start(time.Now())
	if err != nil {
		writeStateError(w, err)
		return
	}
	// The detector starts the new session in Open regardless of where the
	// previous session left it.
	s.pipe.RequestDetectorReset()
	s.notifyLifecycle(sess)
	writeJSON(w, http.StatusOK, SessionPayload{Session: sess, Statistics: sess.StatisticsAt(time.Now())})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.agg.Pause(); err != nil {
		writeStateError(w, err)
		return
	}
	sess, stats := s.agg.Current(time.Now())
	s.notifyLifecycle(sess)
	writeJSON(w, http.StatusOK, SessionPayload{Session: sess, Statistics: stats})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.agg.Resume(); err != nil {
		writeStateError(w, err)
		return
	}
	sess, stats := s.agg.Current(time.Now())
	s.notifyLifecycle(sess)
	writeJSON(w, http.StatusOK, SessionPayload{Session: sess, Statistics: stats})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	final, stats, err := s.agg.End(time.Now())
	if err != nil {
		writeStateError(w, err)
		return
	}
	// Hand the finalized session to the sink exactly once. Persistence
	// failures are logged, not retried here; the session is still
	// returned to the caller.
	if err := s.archive.Persist(final); err != nil {
		log.Printf("Archiving session %s: %v", final.ID, err)
	}
	s.notifyLifecycle(final)
	writeJSON(w, http.StatusOK, SessionPayload{Session: final, Statistics: stats})
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.archive.Sessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":      sessions,
		"totalSessions": len(sessions),
	})
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := s.archive.DeleteAll(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Printf("All archived sessions deleted on request")
	w.WriteHeader(http.StatusNoContent)
}

// handleExport serves the archive in the export contract shape:
// {id, startTime, endTime, blinkCount, blinkEvents:[{start,end,durationMs}]}.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.archive.Sessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="blink-sessions.json"`)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exportedAt": time.Now().UTC(),
		"sessions":   sessions,
	})
}

func (s *Server) notifyLifecycle(sess *session.Session) {
	s.broadcaster.BroadcastMessage(WSMessage{
		Type:    MsgSession,
		Payload: SessionPayload{Session: sess, Statistics: sess.StatisticsAt(time.Now())},
	})
}

func writeStateError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, session.ErrAlreadyRunning) ||
		errors.Is(err, session.ErrAlreadyEnded) ||
		errors.Is(err, session.ErrInvalidState) {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("response encode error: %v", err)
	}
}

// ListenAndServe starts the HTTP server on host:port.
func ListenAndServe(host string, port int, handler http.Handler) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Listening on http://%s", addr)
	return http.ListenAndServe(addr, handler)
}
