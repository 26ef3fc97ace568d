package events

import (
	"testing"
	"time"
)

func TestBroadcastExceptSkipsSender(t *testing.T) {
	rr := NewRoomRegistry()
	a := rr.Join("tenant-a", "conn-1")
	b := rr.Join("tenant-a", "conn-2")
	defer rr.Leave("tenant-a", "conn-1")
	defer rr.Leave("tenant-a", "conn-2")

	rr.BroadcastExcept("tenant-a", "conn-1", []byte("hello"))

	select {
	case <-a.Send:
		t.Fatalf("sender should not receive its own broadcast")
	case <-time.After(20 * time.Millisecond):
	}

	select {
	case msg := <-b.Send:
		if string(msg) != "hello" {
			t.Fatalf("got %q, want hello", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("expected other member to receive broadcast")
	}
}

func TestRoomsAreIsolatedPerTenant(t *testing.T) {
	rr := NewRoomRegistry()
	a := rr.Join("tenant-a", "conn-1")
	rr.Join("tenant-b", "conn-2")
	defer rr.Leave("tenant-a", "conn-1")
	defer rr.Leave("tenant-b", "conn-2")

	rr.BroadcastAll("tenant-b", []byte("other tenant"))

	select {
	case <-a.Send:
		t.Fatalf("tenant-a member should not see tenant-b broadcasts")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestLeaveClosesSendChannel(t *testing.T) {
	rr := NewRoomRegistry()
	m := rr.Join("tenant-a", "conn-1")
	rr.Leave("tenant-a", "conn-1")

	_, ok := <-m.Send
	if ok {
		t.Fatalf("expected Send channel to be closed after Leave")
	}
	if rr.RoomSize("tenant-a") != 0 {
		t.Fatalf("expected empty room after Leave")
	}
}

func TestBroadcastToMissingRoomIsNoop(t *testing.T) {
	rr := NewRoomRegistry()
	rr.BroadcastAll("never-joined", []byte("x"))
}
