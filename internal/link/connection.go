package link

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fleetward/hub/internal/action"
	"github.com/fleetward/hub/internal/protocol"
)

// writerCapacity bounds how many outbound messages a Connection will queue
// for delivery to the agent before the link is considered unable to keep up.
const writerCapacity = 100

// ErrAgentClosed is returned by SendInstruction when the link tears down, or
// the session closes, before the agent produces a response.
var ErrAgentClosed = errors.New("link: agent connection closed before response")

// EventSessionBuilder constructs the Action backing a newly observed agent
// event, keyed by the event's tag. It returns an error if the tag is not
// recognized — the session is never registered in that case.
type EventSessionBuilder func(ctx context.Context, sessionID uuid.UUID, outbound chan<- protocol.Message, eventTag string, detail json.RawMessage) (*action.Action, error)

// InstructionBuilder constructs the Action and result channel for a
// server-initiated instruction. The result channel receives exactly the
// value the operator is waiting on; for fire-and-forget instructions it is
// expected to already hold a value before the Action is even registered.
type InstructionBuilder func(ctx context.Context, sessionID uuid.UUID, outbound chan<- protocol.Message) (*action.Action, <-chan json.RawMessage)

// Connection binds one agent's websocket link to a session registry and a
// bounded outbound writer channel. It has no knowledge of the transport
// itself — callers pump Recv with decoded frames and drain Outbound to the
// socket.
type Connection struct {
	AgentID string

	logger   *slog.Logger
	registry *sessionRegistry
	outbound chan protocol.Message
	events   EventSessionBuilder
}

// NewConnection creates a Connection for the given agent. events builds the
// Action behind an agent-originated event session (heartbeat, etc).
func NewConnection(agentID string, events EventSessionBuilder, logger *slog.Logger) *Connection {
	return &Connection{
		AgentID:  agentID,
		logger:   logger.With("component", "link.connection", "agent_id", agentID),
		registry: newSessionRegistry(),
		outbound: make(chan protocol.Message, writerCapacity),
		events:   events,
	}
}

// Outbound is the channel the link's writer pump should drain to the socket.
func (c *Connection) Outbound() <-chan protocol.Message {
	return c.outbound
}

// Recv dispatches one inbound Message from the agent. It never returns an
// error for a malformed or out-of-protocol message — those are logged and
// dropped so the link survives them.
func (c *Connection) Recv(ctx context.Context, msg protocol.Message) {
	switch p := msg.Payload.(type) {
	case protocol.InstructionPayload:
		c.logger.Error("agent sent an instruction payload; instructions are server-initiated only", "session_id", msg.SessionID)

	case protocol.EventPayload:
		c.handleEvent(ctx, msg.SessionID, p.Content)

	case protocol.ResponsePayload:
		c.handleResponse(msg.SessionID, p.Content)

	case protocol.ClosePayload:
		c.registry.removeAndAbort(msg.SessionID)

	case protocol.UnknownPayload:
		c.logger.Warn("ignoring message with unrecognized payload type", "session_id", msg.SessionID)

	default:
		c.logger.Warn("ignoring message with unhandled payload", "session_id", msg.SessionID)
	}
}

func (c *Connection) handleEvent(ctx context.Context, sessionID uuid.UUID, content json.RawMessage) {
	var tagged struct {
		Event  string          `json:"event"`
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(content, &tagged); err != nil {
		c.logger.Error("malformed event content", "session_id", sessionID, "error", err)
		return
	}

	a, err := c.events(ctx, sessionID, c.outbound, tagged.Event, tagged.Detail)
	if err != nil {
		c.logger.Warn("rejected event session", "session_id", sessionID, "event", tagged.Event, "error", err)
		return
	}
	c.registry.put(sessionID, a)

	go func() {
		<-a.Done()
		c.registry.removeIfCurrent(sessionID, a)
	}()
}

func (c *Connection) handleResponse(sessionID uuid.UUID, content json.RawMessage) {
	a, ok := c.registry.get(sessionID)
	if !ok {
		c.logger.Warn("response for unknown session", "session_id", sessionID)
		return
	}
	if err := a.Resume(content); err != nil {
		c.logger.Error("failed to resume session with response", "session_id", sessionID, "error", err)
		c.registry.removeAndAbort(sessionID)
	}
}

// SendInstruction registers a new server-initiated session built by build,
// waits for its result, and removes the session once it completes. Callers
// typically pass one of the constructors in package instructions.
func (c *Connection) SendInstruction(ctx context.Context, build InstructionBuilder) (json.RawMessage, error) {
	sessionID := uuid.New()
	a, result := build(ctx, sessionID, c.outbound)
	c.registry.put(sessionID, a)
	defer c.registry.removeIfCurrent(sessionID, a)

	select {
	case res := <-result:
		return res, nil
	case <-a.Done():
		select {
		case res := <-result:
			return res, nil
		default:
			return nil, ErrAgentClosed
		}
	case <-ctx.Done():
		a.Abort()
		return nil, ctx.Err()
	}
}

// Close tears every session on this connection down. Called when the
// underlying link goes away.
func (c *Connection) Close() {
	c.registry.abortAll()
}

// SessionIDs snapshots currently active session ids, for diagnostics.
func (c *Connection) SessionIDs() []uuid.UUID {
	return c.registry.sessionIDs()
}
