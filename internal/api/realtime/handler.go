package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

// Handler upgrades HTTP requests to websocket connections on the hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a handler. origin restricts the accepted Origin
// header; "" or "*" accepts any.
func NewHandler(hub *Hub, origin string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if origin == "" || origin == "*" {
					return true
				}
				return r.Header.Get("Origin") == origin
			},
		},
		logger: logger,
	}
}

// ServeHTTP handles GET /events/ws?topics=a,b[&consultation_id=]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var topics []string
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := NewClient(r.URL.Query().Get("consultation_id"), topics...)
	h.hub.Register(c)
	h.logger.Debug("realtime client connected", zap.String("client_id", c.ID), zap.Strings("topics", topics))

	go h.writePump(c, ws)
	go h.readPump(c, ws)
}

func (h *Handler) readPump(c *Client, ws *websocket.Conn) {
	defer func() {
		h.hub.Unregister(c)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessage)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.Process(c, msg)
	}
}

func (h *Handler) writePump(c *Client, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
