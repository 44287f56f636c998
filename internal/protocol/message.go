// Package protocol defines the wire format exchanged with agents over the
// fleet websocket link: one JSON Message per frame, tagged by payload type.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is the envelope carried on every frame of an agent link.
type Message struct {
	SessionID      uuid.UUID
	LocalTimestamp time.Time
	Payload        Payload
}

type wireMessage struct {
	SessionID      uuid.UUID       `json:"session_id"`
	LocalTimestamp epochMillis     `json:"local_timestamp"`
	Payload        json.RawMessage `json:"payload"`
}

// epochMillis marshals a time.Time as milliseconds since the Unix epoch, UTC.
type epochMillis time.Time

func (t epochMillis) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().UnixMilli())
}

func (t *epochMillis) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*t = epochMillis(time.UnixMilli(ms).UTC())
	return nil
}

// MarshalJSON renders the message as {session_id, local_timestamp, payload}.
func (m Message) MarshalJSON() ([]byte, error) {
	payload, err := marshalPayload(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(wireMessage{
		SessionID:      m.SessionID,
		LocalTimestamp: epochMillis(m.LocalTimestamp),
		Payload:        payload,
	})
}

// UnmarshalJSON parses a wire message, dispatching payload.type. A payload
// whose type is absent or unrecognized becomes an UnknownPayload carrying the
// raw JSON rather than failing the whole message.
func (m *Message) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	payload, err := unmarshalPayload(w.Payload)
	if err != nil {
		return err
	}
	m.SessionID = w.SessionID
	m.LocalTimestamp = time.Time(w.LocalTimestamp)
	m.Payload = payload
	return nil
}

// NewInstruction builds a Message carrying an instruction to an agent.
func NewInstruction(sessionID uuid.UUID, content InstructionContent) Message {
	return Message{SessionID: sessionID, LocalTimestamp: time.Now(), Payload: InstructionPayload{Content: content}}
}

// NewEvent builds a Message carrying an event, typically agent-originated.
func NewEvent(sessionID uuid.UUID, content any) (Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return Message{}, fmt.Errorf("marshal event content: %w", err)
	}
	return Message{SessionID: sessionID, LocalTimestamp: time.Now(), Payload: EventPayload{Content: raw}}, nil
}

// NewResponse builds a Message carrying a response to a prior instruction or
// event.
func NewResponse(sessionID uuid.UUID, content any) (Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return Message{}, fmt.Errorf("marshal response content: %w", err)
	}
	return Message{SessionID: sessionID, LocalTimestamp: time.Now(), Payload: ResponsePayload{Content: raw}}, nil
}

// NewClose builds a Message that tears a session down.
func NewClose(sessionID uuid.UUID) Message {
	return Message{SessionID: sessionID, LocalTimestamp: time.Now(), Payload: ClosePayload{}}
}

// Payload is the tagged union carried by a Message. Exactly one of
// InstructionPayload, EventPayload, ResponsePayload, ClosePayload, or
// UnknownPayload implements it.
type Payload interface {
	payloadType() string
}

const (
	typeInstruction = "instruction"
	typeEvent       = "event"
	typeResponse    = "response"
	typeClose       = "close"
)

// InstructionPayload carries a typed instruction from server to agent.
type InstructionPayload struct {
	Content InstructionContent
}

func (InstructionPayload) payloadType() string { return typeInstruction }

// EventPayload carries an opaque, application-defined event, in either
// direction.
type EventPayload struct {
	Content json.RawMessage
}

func (EventPayload) payloadType() string { return typeEvent }

// ResponsePayload carries a reply to a previously issued instruction or
// event.
type ResponsePayload struct {
	Content json.RawMessage
}

func (ResponsePayload) payloadType() string { return typeResponse }

// ClosePayload tears a session down; it carries no data.
type ClosePayload struct{}

func (ClosePayload) payloadType() string { return typeClose }

// UnknownPayload preserves a payload whose type tag was missing or not
// recognized, so the link layer can log and ignore it without failing to
// parse the rest of the frame.
type UnknownPayload struct {
	Raw json.RawMessage
}

func (UnknownPayload) payloadType() string { return "unknown" }

type wirePayloadEnvelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

func marshalPayload(p Payload) (json.RawMessage, error) {
	switch v := p.(type) {
	case InstructionPayload:
		content, err := marshalInstructionContent(v.Content)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wirePayloadEnvelope{Type: typeInstruction, Content: content})
	case EventPayload:
		return json.Marshal(wirePayloadEnvelope{Type: typeEvent, Content: v.Content})
	case ResponsePayload:
		return json.Marshal(wirePayloadEnvelope{Type: typeResponse, Content: v.Content})
	case ClosePayload:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{Type: typeClose})
	case UnknownPayload:
		return v.Raw, nil
	default:
		return nil, fmt.Errorf("unknown payload type %T", p)
	}
}

func unmarshalPayload(raw json.RawMessage) (Payload, error) {
	var tagged struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return UnknownPayload{Raw: raw}, nil
	}

	switch tagged.Type {
	case typeInstruction:
		var body struct {
			Content json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return UnknownPayload{Raw: raw}, nil
		}
		content, err := unmarshalInstructionContent(body.Content)
		if err != nil {
			return UnknownPayload{Raw: raw}, nil
		}
		return InstructionPayload{Content: content}, nil
	case typeEvent:
		var body struct {
			Content json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return UnknownPayload{Raw: raw}, nil
		}
		return EventPayload{Content: body.Content}, nil
	case typeResponse:
		var body struct {
			Content json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return UnknownPayload{Raw: raw}, nil
		}
		return ResponsePayload{Content: body.Content}, nil
	case typeClose:
		return ClosePayload{}, nil
	default:
		return UnknownPayload{Raw: raw}, nil
	}
}
