// Package agentsim is a minimal simulated agent used to drive end-to-end
// tests against a real fleetd HTTP server: it speaks the same websocket
// protocol a robot would, without any of a robot's actual behavior.
package agentsim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fleetward/hub/internal/protocol"
)

// Client is one simulated agent link.
type Client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Dial upgrades to the fleetd agent link at serverURL ("ws://host:port") for
// the given agent id.
func Dial(ctx context.Context, serverURL, agentID string) (*Client, error) {
	url := strings.TrimRight(serverURL, "/") + "/ws/agent/" + agentID
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial agent link: %w", err)
	}
	return &Client{conn: conn}, nil
}

// SendEvent opens a session from the agent's side by sending an Event
// message, e.g. a heartbeat.
func (c *Client) SendEvent(sessionID uuid.UUID, eventTag string, detail any) error {
	detailRaw, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	msg, err := protocol.NewEvent(sessionID, struct {
		Event  string          `json:"event"`
		Detail json.RawMessage `json:"detail"`
	}{Event: eventTag, Detail: detailRaw})
	if err != nil {
		return err
	}
	return c.send(msg)
}

// SendResponse replies into an existing session, from either side of the
// link; a simulated agent uses it to answer a server-initiated instruction
// or to keep a streaming session (like heartbeat) alive.
func (c *Client) SendResponse(sessionID uuid.UUID, content any) error {
	msg, err := protocol.NewResponse(sessionID, content)
	if err != nil {
		return err
	}
	return c.send(msg)
}

// SendClose terminates a session from the agent's side.
func (c *Client) SendClose(sessionID uuid.UUID) error {
	return c.send(protocol.NewClose(sessionID))
}

// WriteRaw writes a pre-built frame verbatim, bypassing Message encoding;
// used to simulate malformed or out-of-protocol agent frames in tests.
func (c *Client) WriteRaw(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) send(msg protocol.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

// ReadMessage blocks for the next frame the server sends this agent.
func (c *Client) ReadMessage() (protocol.Message, error) {
	var msg protocol.Message
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	err = json.Unmarshal(raw, &msg)
	return msg, err
}

// Close tears down the simulated link.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
