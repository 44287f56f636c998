package action

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fleetward/hub/internal/protocol"
)

func drain(t *testing.T, ch <-chan protocol.Message) protocol.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound message")
		return protocol.Message{}
	}
}

func TestOnceShotSendsExactlyOnce(t *testing.T) {
	sessionID := uuid.New()
	outbound := make(chan protocol.Message, 4)

	a := NewOnceShot(context.Background(), sessionID, outbound,
		func(ctx context.Context) (string, error) { return "hello", nil },
		func(sessionID uuid.UUID, out string) (protocol.Message, error) {
			return protocol.NewResponse(sessionID, map[string]string{"value": out})
		},
	)
	defer a.Abort()

	msg := drain(t, outbound)
	if msg.SessionID != sessionID {
		t.Errorf("session id = %v, want %v", msg.SessionID, sessionID)
	}
	if _, ok := msg.Payload.(protocol.ResponsePayload); !ok {
		t.Errorf("payload = %#v, want ResponsePayload", msg.Payload)
	}

	select {
	case <-outbound:
		t.Fatal("once-shot action sent more than one message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPingPongSinglePathFires(t *testing.T) {
	sessionID := uuid.New()
	outbound := make(chan protocol.Message, 4)
	responses := make(chan int, 1)

	a := NewPingPong(context.Background(), sessionID, outbound,
		func(ctx context.Context, sessionID uuid.UUID) (protocol.Message, error) {
			return protocol.NewInstruction(sessionID, protocol.FetchNetworkInstruction{}), nil
		},
		func(out int) { responses <- out },
	)
	defer a.Abort()

	drain(t, outbound) // the single outbound instruction

	if err := a.Resume(json.RawMessage(`42`)); err != nil {
		t.Fatalf("resume: %v", err)
	}

	select {
	case v := <-responses:
		if v != 42 {
			t.Errorf("response = %d, want 42", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ping-pong response")
	}
}

func TestPingPongAbortedNeverCallsOnResponse(t *testing.T) {
	sessionID := uuid.New()
	outbound := make(chan protocol.Message, 4)
	called := make(chan struct{}, 1)

	a := NewPingPong(context.Background(), sessionID, outbound,
		func(ctx context.Context, sessionID uuid.UUID) (protocol.Message, error) {
			return protocol.NewInstruction(sessionID, protocol.FetchNetworkInstruction{}), nil
		},
		func(out int) { called <- struct{}{} },
	)

	drain(t, outbound)
	a.Abort()

	select {
	case <-called:
		t.Fatal("onResponse fired after abort with no inbound value")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestResponsiveLoopsUntilAborted(t *testing.T) {
	sessionID := uuid.New()
	outbound := make(chan protocol.Message, 4)

	a := NewResponsive(context.Background(), sessionID, outbound,
		func(ctx context.Context, in string) (string, error) { return "echo:" + in, nil },
		func(sessionID uuid.UUID, out string) (protocol.Message, error) {
			return protocol.NewResponse(sessionID, out)
		},
	)
	defer a.Abort()

	for i := 0; i < 3; i++ {
		if err := a.Resume(json.RawMessage(`"ping"`)); err != nil {
			t.Fatalf("resume %d: %v", i, err)
		}
		drain(t, outbound)
	}
}

func TestResumeAfterAbortFails(t *testing.T) {
	sessionID := uuid.New()
	outbound := make(chan protocol.Message, 4)

	a := NewResponsive(context.Background(), sessionID, outbound,
		func(ctx context.Context, in string) (string, error) { return in, nil },
		func(sessionID uuid.UUID, out string) (protocol.Message, error) {
			return protocol.NewResponse(sessionID, out)
		},
	)
	a.Abort()
	<-a.Done()

	if err := a.Resume(json.RawMessage(`"x"`)); err == nil {
		t.Fatal("expected Resume after Abort to fail")
	}
}
