// Package instructions builds the Actions and result channels behind each
// server-initiated instruction a Connection can issue to an agent.
package instructions

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fleetward/hub/internal/action"
	"github.com/fleetward/hub/internal/protocol"
)

// immediateResult returns a result channel that already holds value — used
// by fire-and-forget instructions, whose operator-facing wait resolves
// before the agent ever acknowledges.
func immediateResult(value json.RawMessage) <-chan json.RawMessage {
	ch := make(chan json.RawMessage, 1)
	ch <- value
	return ch
}

// SyncRobotName asks an agent to adopt newName. It is fire-and-forget: the
// returned result is already resolved with an empty object, matching the
// original semantics where the operator's wait does not depend on the
// agent's acknowledgment.
func SyncRobotName(newName string) func(ctx context.Context, sessionID uuid.UUID, outbound chan<- protocol.Message) (*action.Action, <-chan json.RawMessage) {
	return func(ctx context.Context, sessionID uuid.UUID, outbound chan<- protocol.Message) (*action.Action, <-chan json.RawMessage) {
		result := immediateResult(json.RawMessage(`{}`))
		a := action.NewOnceShot(ctx, sessionID, outbound,
			func(ctx context.Context) (protocol.InstructionContent, error) {
				return protocol.SyncRobotNameInstruction{RobotName: newName}, nil
			},
			func(sessionID uuid.UUID, content protocol.InstructionContent) (protocol.Message, error) {
				return protocol.NewInstruction(sessionID, content), nil
			},
		)
		return a, result
	}
}

// FetchNetwork asks an agent to report its current network interfaces and
// waits for the agent's Response.
func FetchNetwork(ctx context.Context, sessionID uuid.UUID, outbound chan<- protocol.Message) (*action.Action, <-chan json.RawMessage) {
	result := make(chan json.RawMessage, 1)
	a := action.NewPingPong(ctx, sessionID, outbound,
		func(ctx context.Context, sessionID uuid.UUID) (protocol.Message, error) {
			return protocol.NewInstruction(sessionID, protocol.FetchNetworkInstruction{}), nil
		},
		func(out json.RawMessage) { result <- out },
	)
	return a, result
}

// UpdateMetadata asks an agent to refresh its reported metadata. Like
// SyncRobotName, it resolves immediately.
func UpdateMetadata(ctx context.Context, sessionID uuid.UUID, outbound chan<- protocol.Message) (*action.Action, <-chan json.RawMessage) {
	result := immediateResult(json.RawMessage(`{}`))
	a := action.NewOnceShot(ctx, sessionID, outbound,
		func(ctx context.Context) (protocol.InstructionContent, error) {
			return protocol.UpdateMetadataInstruction{}, nil
		},
		func(sessionID uuid.UUID, content protocol.InstructionContent) (protocol.Message, error) {
			return protocol.NewInstruction(sessionID, content), nil
		},
	)
	return a, result
}
