package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGetRobot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	robot := &Robot{UUID: "robot-1", Name: "scout", MAC: "aa:bb:cc:dd:ee:ff"}
	if err := s.UpsertRobot(ctx, robot); err != nil {
		t.Fatalf("UpsertRobot: %v", err)
	}

	got, err := s.GetRobot(ctx, "robot-1")
	if err != nil {
		t.Fatalf("GetRobot: %v", err)
	}
	if got.Name != "scout" || got.MAC != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("got %+v", got)
	}

	robot.Name = "scout-renamed"
	if err := s.UpsertRobot(ctx, robot); err != nil {
		t.Fatalf("UpsertRobot (update): %v", err)
	}
	got, err = s.GetRobot(ctx, "robot-1")
	if err != nil {
		t.Fatalf("GetRobot after update: %v", err)
	}
	if got.Name != "scout-renamed" {
		t.Errorf("name = %q, want scout-renamed", got.Name)
	}
}

func TestGetRobotNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRobot(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFindRobotExactMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertRobot(ctx, &Robot{UUID: "robot-1", Name: "scout", MAC: "aa:bb:cc"}); err != nil {
		t.Fatalf("UpsertRobot: %v", err)
	}

	if _, err := s.FindRobot(ctx, "sco", "aa:bb:cc"); err != ErrNotFound {
		t.Errorf("partial name match should not find a row, got err=%v", err)
	}

	got, err := s.FindRobot(ctx, "scout", "aa:bb:cc")
	if err != nil {
		t.Fatalf("FindRobot: %v", err)
	}
	if got.UUID != "robot-1" {
		t.Errorf("uuid = %q, want robot-1", got.UUID)
	}
}

func TestListRobots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"robot-a", "robot-b"} {
		if err := s.UpsertRobot(ctx, &Robot{UUID: id}); err != nil {
			t.Fatalf("UpsertRobot(%s): %v", id, err)
		}
	}

	ids, err := s.ListRobots(ctx)
	if err != nil {
		t.Fatalf("ListRobots: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}
}

func TestNetworkInfoRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertRobot(ctx, &Robot{UUID: "robot-1"}); err != nil {
		t.Fatalf("UpsertRobot: %v", err)
	}

	if _, err := s.GetNetworkInfo(ctx, "robot-1"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound before any telemetry", err)
	}

	info := &NetworkInfo{
		RobotUUID: "robot-1",
		Interfaces: []NetworkInterface{
			{Index: 1, Name: "eth0", MTU: 1500, HardwareAddr: "aa:bb:cc", Flags: []string{"up"}, Addrs: []NetworkAddr{{Addr: "10.0.0.2/24"}}},
		},
	}
	if err := s.UpsertNetworkInfo(ctx, info); err != nil {
		t.Fatalf("UpsertNetworkInfo: %v", err)
	}

	got, err := s.GetNetworkInfo(ctx, "robot-1")
	if err != nil {
		t.Fatalf("GetNetworkInfo: %v", err)
	}
	if len(got.Interfaces) != 1 || got.Interfaces[0].Name != "eth0" {
		t.Errorf("got %+v", got)
	}
	if time.Since(got.LastUpdated) > time.Minute {
		t.Errorf("LastUpdated looks stale: %v", got.LastUpdated)
	}
}

func TestAuditEventsOrderedNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, action := range []string{"first", "second", "third"} {
		if err := s.LogAuditEvent(ctx, &AuditEvent{Action: action, CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("LogAuditEvent: %v", err)
		}
	}

	events, err := s.ListAuditEvents(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	if len(events) != 3 || events[0].Action != "third" {
		t.Fatalf("events = %+v", events)
	}
}
