// Package action implements the session multiplexer's unit of concurrent
// work: a running task paired with a bounded inbound channel and the means
// to resume or abort it.
//
// The four builders below (OnceShot, Responsive, PingPong, Streaming) are the
// Go counterpart of a sealed-trait family in the system this was modeled on:
// each builder accepts a typed handler function and produces a common,
// non-generic *Action. Generics stand in for the sealed trait — the JSON
// boundary conversion happens once, inside the builder, and the caller never
// touches raw JSON.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fleetward/hub/internal/protocol"
)

// inboundCapacity bounds how many unconsumed resumes an Action will queue
// before Resume starts failing. There is no backpressure signal to the
// agent; a full channel means the session is no longer keeping up and is
// torn down.
const inboundCapacity = 32

// ErrBackpressure is returned by Resume when the action's inbound channel is
// full.
var ErrBackpressure = errors.New("action: inbound channel full")

// ErrAborted is returned by Resume once the action's task has returned,
// whether it finished or was aborted. Abort does not wait for that, so a
// Resume right after Abort can still succeed.
var ErrAborted = errors.New("action: aborted")

// Action is a single running unit of session work: a task goroutine, its
// cancellation handle, and the channel through which new inbound values are
// delivered to it.
type Action struct {
	SessionID uuid.UUID

	cancel  context.CancelFunc
	inbound chan json.RawMessage
	done    chan struct{}
}

func newAction(ctx context.Context, sessionID uuid.UUID, run func(ctx context.Context, inbound <-chan json.RawMessage)) *Action {
	ctx, cancel := context.WithCancel(ctx)
	a := &Action{
		SessionID: sessionID,
		cancel:    cancel,
		inbound:   make(chan json.RawMessage, inboundCapacity),
		done:      make(chan struct{}),
	}
	go func() {
		defer close(a.done)
		run(ctx, a.inbound)
	}()
	return a
}

// Resume delivers a raw inbound value (an agent Response body) to the
// action's task. It never blocks: a full channel is reported as
// ErrBackpressure rather than stalling the caller.
func (a *Action) Resume(raw json.RawMessage) error {
	select {
	case <-a.done:
		return ErrAborted
	default:
	}
	select {
	case a.inbound <- raw:
		return nil
	default:
		return ErrBackpressure
	}
}

// Abort cancels the action's task. It does not wait for the task to exit.
func (a *Action) Abort() {
	a.cancel()
}

// Done reports when the action's task has returned.
func (a *Action) Done() <-chan struct{} {
	return a.done
}

func decodeInbound[Input any](raw json.RawMessage) (Input, error) {
	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("decode action input: %w", err)
	}
	return in, nil
}

func sendOutbound(ctx context.Context, outbound chan<- protocol.Message, msg protocol.Message) error {
	select {
	case outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewOnceShot runs fn exactly once, encodes its result into an outbound
// Message, and sends it. It never reads from the inbound channel — a
// OnceShot action has nothing to resume.
func NewOnceShot[Output any](ctx context.Context, sessionID uuid.UUID, outbound chan<- protocol.Message, fn func(ctx context.Context) (Output, error), encode func(sessionID uuid.UUID, out Output) (protocol.Message, error)) *Action {
	return newAction(ctx, sessionID, func(ctx context.Context, _ <-chan json.RawMessage) {
		out, err := fn(ctx)
		if err != nil {
			slog.Default().Error("once-shot action failed", "session_id", sessionID, "error", err)
			return
		}
		msg, err := encode(sessionID, out)
		if err != nil {
			slog.Default().Error("once-shot action encode failed", "session_id", sessionID, "error", err)
			return
		}
		if err := sendOutbound(ctx, outbound, msg); err != nil {
			slog.Default().Warn("once-shot action outbound send failed", "session_id", sessionID, "error", err)
		}
	})
}

// NewResponsive decodes each inbound value as Input, invokes fn, and sends
// the encoded Output as an outbound Message — repeatedly, until the action
// is aborted or its inbound channel is drained and closed.
func NewResponsive[Input, Output any](ctx context.Context, sessionID uuid.UUID, outbound chan<- protocol.Message, fn func(ctx context.Context, in Input) (Output, error), encode func(sessionID uuid.UUID, out Output) (protocol.Message, error)) *Action {
	return newAction(ctx, sessionID, func(ctx context.Context, inbound <-chan json.RawMessage) {
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-inbound:
				if !ok {
					return
				}
				in, err := decodeInbound[Input](raw)
				if err != nil {
					slog.Default().Error("responsive action decode failed", "session_id", sessionID, "error", err)
					continue
				}
				out, err := fn(ctx, in)
				if err != nil {
					slog.Default().Error("responsive action handler failed", "session_id", sessionID, "error", err)
					continue
				}
				msg, err := encode(sessionID, out)
				if err != nil {
					slog.Default().Error("responsive action encode failed", "session_id", sessionID, "error", err)
					continue
				}
				if err := sendOutbound(ctx, outbound, msg); err != nil {
					slog.Default().Warn("responsive action outbound send failed", "session_id", sessionID, "error", err)
					return
				}
			}
		}
	})
}

// NewPingPong emits exactly one outbound Message, built by construct, then
// waits for exactly one of two things: a single inbound value, decoded as
// Output and handed to onResponse, or cancellation. Only one path ever
// fires.
func NewPingPong[Output any](ctx context.Context, sessionID uuid.UUID, outbound chan<- protocol.Message, construct func(ctx context.Context, sessionID uuid.UUID) (protocol.Message, error), onResponse func(Output)) *Action {
	return newAction(ctx, sessionID, func(ctx context.Context, inbound <-chan json.RawMessage) {
		msg, err := construct(ctx, sessionID)
		if err != nil {
			slog.Default().Error("ping-pong action construct failed", "session_id", sessionID, "error", err)
			return
		}
		if err := sendOutbound(ctx, outbound, msg); err != nil {
			slog.Default().Warn("ping-pong action outbound send failed", "session_id", sessionID, "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case raw, ok := <-inbound:
			if !ok {
				return
			}
			out, err := decodeInbound[Output](raw)
			if err != nil {
				slog.Default().Error("ping-pong action decode failed", "session_id", sessionID, "error", err)
				return
			}
			onResponse(out)
		}
	})
}

// NewStreaming bridges the inbound JSON channel and a typed Input channel in
// one direction, and a typed Output channel and the outbound Message channel
// in the other, then runs fn for the lifetime of the session. fn returning
// (for any reason, including context cancellation) ends the action.
func NewStreaming[Input, Output any](ctx context.Context, sessionID uuid.UUID, outbound chan<- protocol.Message, fn func(ctx context.Context, in <-chan Input, out chan<- Output) error, encode func(sessionID uuid.UUID, out Output) (protocol.Message, error)) *Action {
	return newAction(ctx, sessionID, func(ctx context.Context, inbound <-chan json.RawMessage) {
		typedIn := make(chan Input, inboundCapacity)
		typedOut := make(chan Output, inboundCapacity)

		go func() {
			defer close(typedIn)
			for {
				select {
				case <-ctx.Done():
					return
				case raw, ok := <-inbound:
					if !ok {
						return
					}
					in, err := decodeInbound[Input](raw)
					if err != nil {
						slog.Default().Error("streaming action decode failed", "session_id", sessionID, "error", err)
						continue
					}
					select {
					case typedIn <- in:
					case <-ctx.Done():
						return
					}
				}
			}
		}()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case out, ok := <-typedOut:
					if !ok {
						return
					}
					msg, err := encode(sessionID, out)
					if err != nil {
						slog.Default().Error("streaming action encode failed", "session_id", sessionID, "error", err)
						continue
					}
					if err := sendOutbound(ctx, outbound, msg); err != nil {
						slog.Default().Warn("streaming action outbound send failed", "session_id", sessionID, "error", err)
						return
					}
				}
			}
		}()

		if err := fn(ctx, typedIn, typedOut); err != nil && !errors.Is(err, context.Canceled) {
			slog.Default().Error("streaming action failed", "session_id", sessionID, "error", err)
		}
	})
}
