package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/raylab/sim/runner"
)

// wsHub fans snapshot frames out to websocket clients. All client
// bookkeeping happens on the run goroutine.
type wsHub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	register  chan *websocket.Conn
	remove    chan *websocket.Conn
	broadcast chan []byte
}

func newHub() *wsHub {
	return &wsHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		register:  make(chan *websocket.Conn),
		remove:    make(chan *websocket.Conn),
		broadcast: make(chan []byte, 16),
	}
}

func (h *wsHub) run(ctx context.Context) {
	defer func() {
		for conn := range h.clients {
			conn.Close()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-h.register:
			h.clients[conn] = true
		case conn := <-h.remove:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
		case msg := <-h.broadcast:
			for conn := range h.clients {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					logrus.Warnf("failed to send frame to websocket client: %v", err)
					delete(h.clients, conn)
					conn.Close()
				}
			}
		}
	}
}

// handle upgrades the connection, sends the latest frame and then treats
// every inbound message as a control command.
func (h *wsHub) handle(s *Server, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("websocket upgrade failed: %v", err)
		return
	}

	if data, ok := s.latestFrame(); ok {
		conn.WriteMessage(websocket.TextMessage, data)
	}
	select {
	case h.register <- conn:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.remove <- conn:
			case <-s.ctx.Done():
			}
		}()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logrus.Warnf("websocket error: %v", err)
				}
				return
			}
			var cmd runner.Command
			if err := json.Unmarshal(message, &cmd); err != nil {
				logrus.Debugf("ignoring malformed websocket command: %v", err)
				continue
			}
			if err := s.controller.Submit(s.ctx, cmd); err != nil {
				logrus.Debugf("websocket command %s: %v", cmd.Type, err)
			}
		}
	}()
}

// publish queues a frame without blocking the snapshot consumer.
func (h *wsHub) publish(frame []byte) {
	select {
	case h.broadcast <- frame:
	default:
		logrus.Debugf("websocket broadcast queue full, dropping frame")
	}
}
