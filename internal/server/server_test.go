package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fleetward/hub/internal/agentsim"
	"github.com/fleetward/hub/internal/config"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{
		StorageDir:      t.TempDir(),
		LogDir:          t.TempDir(),
		DatabaseURL:     ":memory:",
		ListenAddr:      ":0",
		AllowedOrigins:  []string{"*"},
		JWTSecret:       "test-secret-at-least-32-bytes-long!!",
		RuntimeTokenTTL: time.Hour,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(srv.mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// TestHeartbeatEcho drives end-to-end scenario 1: an agent opens a heartbeat
// session and the server echoes a response on the same session id.
func TestHeartbeatEcho(t *testing.T) {
	_, ts := newTestServer(t)

	agent, err := agentsim.Dial(context.Background(), wsURL(ts.URL), "agent-1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer agent.Close()

	sessionID := uuid.New()
	if err := agent.SendEvent(sessionID, "heartbeat", struct{}{}); err != nil {
		t.Fatalf("send event: %v", err)
	}
	if err := agent.SendResponse(sessionID, struct{}{}); err != nil {
		t.Fatalf("send response: %v", err)
	}

	msg, err := agent.ReadMessage()
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if msg.SessionID != sessionID {
		t.Errorf("session id = %v, want %v", msg.SessionID, sessionID)
	}
}

// TestRefreshNetworkPersists drives end-to-end scenario 2: an operator call
// issues fetch_network, the agent's reply is persisted, and a subsequent
// stats call returns it.
func TestRefreshNetworkPersists(t *testing.T) {
	srv, ts := newTestServer(t)

	agent, err := agentsim.Dial(context.Background(), wsURL(ts.URL), "robot-1")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer agent.Close()

	// Let the server register the connection before issuing an instruction.
	time.Sleep(20 * time.Millisecond)

	token, err := srv.IssueToken("operator-1", "admin")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	respCh := make(chan error, 1)
	go func() {
		msg, err := agent.ReadMessage()
		if err != nil {
			respCh <- err
			return
		}
		respCh <- agent.SendResponse(msg.SessionID, []map[string]any{
			{
				"index": 1, "mtu": 1500, "name": "eth0", "hardware_addr": "00:11:22:33:44:55",
				"flags": []string{"up"},
				"addrs": []map[string]string{{"addr": "10.0.0.2/24"}},
			},
		})
	}()

	body, _ := json.Marshal(map[string]string{"robot_id": "robot-1"})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/action/refresh_network", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("refresh_network request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if err := <-respCh; err != nil {
		t.Fatalf("agent response: %v", err)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/stats/robot/robot-1/network", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("stats request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var info struct {
		Interfaces []struct {
			Name string `json:"name"`
		} `json:"interfaces"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(info.Interfaces) != 1 || info.Interfaces[0].Name != "eth0" {
		t.Fatalf("interfaces = %+v", info.Interfaces)
	}
}

// TestUnknownInstructionToleratedFromAgent drives end-to-end scenario 3: an
// agent erroneously sending an instruction payload must not kill the link.
func TestUnknownInstructionToleratedFromAgent(t *testing.T) {
	_, ts := newTestServer(t)

	agent, err := agentsim.Dial(context.Background(), wsURL(ts.URL), "agent-2")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer agent.Close()

	raw := []byte(`{"session_id":"11111111-1111-1111-1111-111111111111","local_timestamp":0,"payload":{"type":"instruction","content":{"instruction":"future_thing","x":1}}}`)
	if err := agent.WriteRaw(raw); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	// The link must still be usable afterward.
	sessionID := uuid.New()
	if err := agent.SendEvent(sessionID, "heartbeat", struct{}{}); err != nil {
		t.Fatalf("send event after bad frame: %v", err)
	}
}

// TestDisconnectCancelsPending drives end-to-end scenario 5: if the agent
// link closes before replying, the pending operator call fails rather than
// hanging.
func TestDisconnectCancelsPending(t *testing.T) {
	srv, ts := newTestServer(t)

	agent, err := agentsim.Dial(context.Background(), wsURL(ts.URL), "robot-2")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	token, err := srv.IssueToken("operator-1", "admin")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		agent.Close()
	}()

	body, _ := json.Marshal(map[string]string{"robot_id": "robot-2"})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/action/refresh_network", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)

	done := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := ts.Client().Do(req)
		if err != nil {
			errCh <- err
			return
		}
		done <- resp
	}()

	select {
	case resp := <-done:
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("refresh_network call hung past disconnect")
	}
}
