package link

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/fleetward/hub/internal/protocol"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// MakeUpgrader builds a websocket.Upgrader that checks the request Origin
// against allowedOrigins. A single "*" entry allows any origin, matching the
// teacher's CORS convention.
func MakeUpgrader(allowedOrigins []string) websocket.Upgrader {
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
		}
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if wildcard {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowedOrigins {
				if strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
}

// Handler upgrades agent connections at /<base>/{agent_id}, builds a
// Connection for each, registers it in the Directory, and pumps frames in
// both directions until the link closes. Grounded on the teacher's
// HandleRuntimeWS and on the original service's websocket_service handler.
type Handler struct {
	dir      *Directory
	upgrader websocket.Upgrader
	events   EventSessionBuilder
	logger   *slog.Logger
}

// NewHandler builds an agent link handler.
func NewHandler(dir *Directory, upgrader websocket.Upgrader, events EventSessionBuilder, logger *slog.Logger) *Handler {
	return &Handler{dir: dir, upgrader: upgrader, events: events, logger: logger.With("component", "link.handler")}
}

// ServeHTTP upgrades the request and pumps the agent link until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agent_id")
	if agentID == "" {
		http.Error(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "agent_id", agentID, "error", err)
		return
	}

	c := NewConnection(agentID, h.events, h.logger)
	h.dir.Put(c)
	h.logger.Info("agent connected", "agent_id", agentID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-c.Outbound():
				if !ok {
					return
				}
				raw, err := json.Marshal(msg)
				if err != nil {
					h.logger.Error("failed to marshal outbound message", "agent_id", agentID, "error", err)
					continue
				}
				writeMu.Lock()
				err = conn.WriteMessage(websocket.TextMessage, raw)
				writeMu.Unlock()
				if err != nil {
					h.logger.Warn("write to agent failed", "agent_id", agentID, "error", err)
					return
				}
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	h.readLoop(ctx, conn, c)

	cancel()
	<-done
	c.Close()
	h.dir.Remove(agentID, c)
	conn.Close()
	h.logger.Info("agent disconnected", "agent_id", agentID)
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, c *Connection) {
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.logger.Warn("malformed frame from agent", "agent_id", c.AgentID, "error", err)
			continue
		}
		c.Recv(ctx, msg)
	}
}
