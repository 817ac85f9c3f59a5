package push

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// Session wraps one live websocket connection with its own outbound buffer.
// All state mutation goes through the owning Hub so the dual index never
// drifts out of sync with what the connection actually sees.
type Session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (s *Session) readPump() {
	defer func() {
		s.hub.unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.sendError("malformed frame")
			continue
		}

		switch frame.Type {
		case "subscribe":
			if frame.Channel == "" {
				s.sendError("subscribe requires a channel")
				continue
			}
			s.hub.subscribe(s, frame.Channel)
			s.sendFrame(ServerFrame{Type: "subscribed", Channel: frame.Channel})
		case "unsubscribe":
			if frame.Channel == "" {
				s.sendError("unsubscribe requires a channel")
				continue
			}
			s.hub.unsubscribe(s, frame.Channel)
			s.sendFrame(ServerFrame{Type: "unsubscribed", Channel: frame.Channel})
		case "ping":
			s.sendFrame(ServerFrame{Type: "pong", Timestamp: time.Now().Unix()})
		default:
			s.sendError("unknown frame type: " + frame.Type)
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) sendFrame(f ServerFrame) {
	payload, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case s.send <- payload:
	default:
	}
}

func (s *Session) sendError(message string) {
	s.sendFrame(ServerFrame{Type: "error", Message: message})
}
