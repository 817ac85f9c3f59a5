// Package push implements the persistent bidirectional session layer:
// subscribe/unsubscribe by channel, broadcast, and keepalive. Adapted from a
// Hub/Client websocket pump pattern, generalized to a channel/session
// dual-index and the frame contract below (subscribe/unsubscribe/ping in,
// event/subscribed/unsubscribed/pong/error out).
package push

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ClientFrame is any of the three frames a session may send.
type ClientFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

// ServerFrame covers every outbound frame shape; unused fields are omitted.
type ServerFrame struct {
	Type      string      `json:"type"`
	Event     string      `json:"event,omitempty"`
	Channel   string      `json:"channel,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// Hub owns the channel↔session dual index. Both maps are kept consistent
// under a single mutex; cleanup on disconnect removes a session from every
// channel it was subscribed to.
type Hub struct {
	mu               sync.RWMutex
	sessions         map[*Session]bool
	channelSessions  map[string]map[*Session]bool
	sessionChannels  map[*Session]map[string]bool
	log              *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		sessions:        make(map[*Session]bool),
		channelSessions: make(map[string]map[*Session]bool),
		sessionChannels: make(map[*Session]map[string]bool),
		log:             log,
	}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = true
	h.sessionChannels[s] = make(map[string]bool)
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.sessionChannels[s] {
		delete(h.channelSessions[ch], s)
		if len(h.channelSessions[ch]) == 0 {
			delete(h.channelSessions, ch)
		}
	}
	delete(h.sessionChannels, s)
	delete(h.sessions, s)
}

func (h *Hub) subscribe(s *Session, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channelSessions[channel] == nil {
		h.channelSessions[channel] = make(map[*Session]bool)
	}
	h.channelSessions[channel][s] = true
	h.sessionChannels[s][channel] = true
}

func (h *Hub) unsubscribe(s *Session, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channelSessions[channel], s)
	if len(h.channelSessions[channel]) == 0 {
		delete(h.channelSessions, channel)
	}
	delete(h.sessionChannels[s], channel)
}

// BroadcastToChannel delivers an event frame to every session subscribed to
// channel.
func (h *Hub) BroadcastToChannel(channel, event string, data interface{}) {
	frame := ServerFrame{Type: "event", Event: event, Channel: channel, Data: data}
	payload, err := json.Marshal(frame)
	if err != nil {
		if h.log != nil {
			h.log.Warn("push_marshal_error", zap.Error(err))
		}
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.channelSessions[channel] {
		select {
		case s.send <- payload:
		default:
			// send buffer full; drop rather than block the broadcaster.
		}
	}
}

// SessionCount reports the number of live sessions, used by the health
// endpoint.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// ServeWebSocket upgrades the request and starts the session's read/write
// pumps.
func (h *Hub) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Warn("push_upgrade_error", zap.Error(err))
		}
		return
	}

	s := &Session{hub: h, conn: conn, send: make(chan []byte, 256)}
	h.register(s)

	welcome := ServerFrame{Type: "event", Event: "welcome", Channel: "system"}
	if payload, err := json.Marshal(welcome); err == nil {
		select {
		case s.send <- payload:
		default:
		}
	}

	go s.writePump()
	go s.readPump()
}
