// Package events builds the Actions behind agent-originated event sessions.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/fleetward/hub/internal/action"
	"github.com/fleetward/hub/internal/protocol"
)

// TagHeartbeat is the only event tag currently recognized.
const TagHeartbeat = "heartbeat"

// HeartbeatDetail is the (empty) payload an agent sends with each beat.
type HeartbeatDetail struct{}

// HeartbeatResponse is echoed back for every inbound beat.
type HeartbeatResponse struct{}

// Build dispatches on the event tag observed in the agent's initial Event
// message, returning the Action that should back the session. An
// unrecognized tag is rejected: no Action is built and no session is
// registered — this is the "unknown event type" case from the original
// design, where events.create_event_session errors out rather than
// inventing a handler.
func Build(ctx context.Context, sessionID uuid.UUID, outbound chan<- protocol.Message, eventTag string, _ json.RawMessage) (*action.Action, error) {
	switch eventTag {
	case TagHeartbeat:
		return newHeartbeat(ctx, sessionID, outbound), nil
	default:
		return nil, fmt.Errorf("unknown event type %q", eventTag)
	}
}

// newHeartbeat builds a Streaming action that, for every inbound detail,
// sends back a Response — for as long as the agent keeps pinging, until the
// session is closed or aborted.
func newHeartbeat(ctx context.Context, sessionID uuid.UUID, outbound chan<- protocol.Message) *action.Action {
	return action.NewStreaming(ctx, sessionID, outbound,
		func(ctx context.Context, in <-chan HeartbeatDetail, out chan<- HeartbeatResponse) error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case _, ok := <-in:
					if !ok {
						return nil
					}
					select {
					case out <- HeartbeatResponse{}:
					case <-ctx.Done():
						return nil
					}
				}
			}
		},
		func(sessionID uuid.UUID, out HeartbeatResponse) (protocol.Message, error) {
			return protocol.NewResponse(sessionID, out)
		},
	)
}
