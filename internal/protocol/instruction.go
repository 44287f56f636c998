package protocol

import (
	"encoding/json"
	"fmt"
)

// InstructionContent is the tagged union of instructions a server can issue
// to an agent. Each variant is carried over the wire under a nested
// "instruction" discriminator distinct from the outer Message payload's
// "type" tag.
type InstructionContent interface {
	instructionTag() string
}

const (
	instructionSyncRobotName  = "sync_robot_name"
	instructionFetchNetwork   = "fetch_network"
	instructionUpdateMetadata = "update_metadata"
)

// SyncRobotNameInstruction asks the agent to adopt a new display name.
// It is delivered fire-and-forget: the operator's wait is resolved as soon
// as the instruction is issued, not when the agent acknowledges it.
type SyncRobotNameInstruction struct {
	RobotName string
}

func (SyncRobotNameInstruction) instructionTag() string { return instructionSyncRobotName }

// FetchNetworkInstruction asks the agent to report its current network
// interfaces. It is a request/response exchange: the caller waits for the
// agent's Response before resolving.
type FetchNetworkInstruction struct{}

func (FetchNetworkInstruction) instructionTag() string { return instructionFetchNetwork }

// UpdateMetadataInstruction asks the agent to refresh whatever metadata it
// reports about itself. Like SyncRobotName, it resolves immediately.
type UpdateMetadataInstruction struct{}

func (UpdateMetadataInstruction) instructionTag() string { return instructionUpdateMetadata }

// UnknownInstruction preserves an instruction whose discriminator was not
// recognized, so that forward-incompatible instructions don't crash parsing.
type UnknownInstruction struct {
	Raw json.RawMessage
}

func (UnknownInstruction) instructionTag() string { return "unknown" }

func marshalInstructionContent(c InstructionContent) ([]byte, error) {
	switch v := c.(type) {
	case SyncRobotNameInstruction:
		return json.Marshal(struct {
			Instruction string `json:"instruction"`
			Message     struct {
				RobotName string `json:"robot_name"`
			} `json:"message"`
		}{
			Instruction: instructionSyncRobotName,
			Message: struct {
				RobotName string `json:"robot_name"`
			}{RobotName: v.RobotName},
		})
	case FetchNetworkInstruction:
		return json.Marshal(struct {
			Instruction string `json:"instruction"`
		}{Instruction: instructionFetchNetwork})
	case UpdateMetadataInstruction:
		return json.Marshal(struct {
			Instruction string `json:"instruction"`
		}{Instruction: instructionUpdateMetadata})
	case UnknownInstruction:
		return v.Raw, nil
	default:
		return nil, fmt.Errorf("unknown instruction content type %T", c)
	}
}

func unmarshalInstructionContent(raw json.RawMessage) (InstructionContent, error) {
	var tagged struct {
		Instruction string `json:"instruction"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return nil, err
	}

	switch tagged.Instruction {
	case instructionSyncRobotName:
		var body struct {
			Message struct {
				RobotName string `json:"robot_name"`
			} `json:"message"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return UnknownInstruction{Raw: raw}, nil
		}
		return SyncRobotNameInstruction{RobotName: body.Message.RobotName}, nil
	case instructionFetchNetwork:
		return FetchNetworkInstruction{}, nil
	case instructionUpdateMetadata:
		return UpdateMetadataInstruction{}, nil
	default:
		return UnknownInstruction{Raw: raw}, nil
	}
}
