package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"coliblanco-backend/internal/models"
	"coliblanco-backend/internal/voice"
)

const (
	defaultIdleTimeout = 60 * time.Second
	writeTimeout       = 10 * time.Second
	maxMessageSize     = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// VoicePipeline runs the turns requested over a voice socket.
type VoicePipeline interface {
	ProcessAudio(ctx context.Context, sessionID string, clip voice.Clip, emit voice.Emitter) (*voice.Result, error)
	ProcessText(ctx context.Context, sessionID, text string, emit voice.Emitter) (*voice.Result, error)
	ResetSession(ctx context.Context, sessionID string) error
}

// Hub tracks the live /ws/voice sessions.
type Hub struct {
	mu          sync.RWMutex
	sessions    map[string]*session
	pipeline    VoicePipeline
	maxSessions int
	idleTimeout time.Duration
	language    string
}

func NewHub(pipeline VoicePipeline, maxSessions int, language string) *Hub {
	return &Hub{
		sessions:    make(map[string]*session),
		pipeline:    pipeline,
		maxSessions: maxSessions,
		idleTimeout: defaultIdleTimeout,
		language:    language,
	}
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// HandleWebSocket upgrades GET /ws/voice. A session_id query parameter
// resumes an earlier conversation.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Fast path before the upgrade; register enforces the cap under the lock.
	if h.Count() >= h.maxSessions {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(models.ErrorResponse{Error: models.APIError{
			Code:    "TOO_MANY_SESSIONS",
			Message: errTooManySessions.Error(),
		}})
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" || len(sessionID) > 64 {
		sessionID = uuid.New().String()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:       sessionID,
		hub:      h,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		language: h.language,
		lastSeen: time.Now(),
		// Stored replies are served beside the socket's own mount point.
		urlPrefix: strings.TrimSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/ws/voice"),
	}

	if err := h.register(s); err != nil {
		s.send(models.ServerEvent{Event: models.EventError, Message: err.Error()})
		s.close()
		return
	}

	s.send(models.ServerEvent{Event: models.EventConnected, SessionID: sessionID})
	s.send(statusEvent(models.StatusIdle))

	go s.keepAlive()
	go func() {
		defer h.unregister(s)
		s.readLoop()
	}()
}

var (
	errSessionExists   = errors.New("Session already connected")
	errTooManySessions = errors.New("Maximum number of voice sessions reached")
)

func (h *Hub) register(s *session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[s.id]; exists {
		return errSessionExists
	}
	if len(h.sessions) >= h.maxSessions {
		return errTooManySessions
	}
	h.sessions[s.id] = s
	slog.Info("voice session connected", "session", s.id, "total", len(h.sessions))
	return nil
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	if h.sessions[s.id] == s {
		delete(h.sessions, s.id)
	}
	total := len(h.sessions)
	h.mu.Unlock()

	s.close()
	slog.Info("voice session disconnected", "session", s.id, "total", total)
}

// Shutdown closes every session with a going-away frame.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		s.close()
	}
}

func statusEvent(st models.Status) models.ServerEvent {
	return models.ServerEvent{Event: models.EventStatus, Status: string(st)}
}
