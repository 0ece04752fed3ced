package main

import (
	"fmt"
	"sync"
	"testing"
)

func newTestConn(id string) *conn {
	return &conn{
		id:          id,
		events:      make(chan event, connEventBuffer),
		state:       stateJoined,
		backlogSent: true,
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	r := newRoomRegistry()
	c := newTestConn("c1")

	r.join("issue-42", c)
	r.join("issue-42", c)

	if got := len(r.membersOf("issue-42")); got != 1 {
		t.Errorf("membersOf = %d entries, want 1", got)
	}
}

func TestLeaveRemovesMemberAndEvictsEmptyRoom(t *testing.T) {
	r := newRoomRegistry()
	c1 := newTestConn("c1")
	c2 := newTestConn("c2")

	r.join("issue-42", c1)
	r.join("issue-42", c2)

	r.leave("issue-42", "c1")
	if got := len(r.membersOf("issue-42")); got != 1 {
		t.Fatalf("membersOf = %d entries after leave, want 1", got)
	}

	r.leave("issue-42", "c2")
	if got := len(r.membersOf("issue-42")); got != 0 {
		t.Fatalf("membersOf = %d entries after last leave, want 0", got)
	}
	if got := len(r.rooms); got != 0 {
		t.Errorf("empty room was not evicted, %d rooms remain", got)
	}
}

func TestLeaveIsNoOpWhenAbsent(t *testing.T) {
	r := newRoomRegistry()
	r.leave("issue-42", "ghost")

	r.join("issue-42", newTestConn("c1"))
	r.leave("issue-42", "ghost")
	if got := len(r.membersOf("issue-42")); got != 1 {
		t.Errorf("membersOf = %d entries, want 1", got)
	}
}

func TestBroadcastTargetsExcludesSender(t *testing.T) {
	r := newRoomRegistry()
	for _, id := range []string{"c1", "c2", "c3"} {
		r.join("issue-42", newTestConn(id))
	}

	targets := r.broadcastTargets("issue-42", "c2")
	if len(targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(targets))
	}
	for _, c := range targets {
		if c.id == "c2" {
			t.Error("sender was included in broadcast targets")
		}
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	r := newRoomRegistry()
	r.join("issue-1", newTestConn("c1"))
	r.join("issue-2", newTestConn("c2"))

	if got := len(r.membersOf("issue-1")); got != 1 {
		t.Errorf("issue-1 members = %d, want 1", got)
	}
	if got := len(r.membersOf("issue-2")); got != 1 {
		t.Errorf("issue-2 members = %d, want 1", got)
	}
	if got := len(r.membersOf("issue-3")); got != 0 {
		t.Errorf("issue-3 members = %d, want 0", got)
	}
}

func TestConcurrentJoinLeave(t *testing.T) {
	r := newRoomRegistry()
	rooms := []string{"issue-1", "issue-2", "issue-3", "issue-4"}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				roomID := rooms[(g+i)%len(rooms)]
				c := newTestConn(fmt.Sprintf("conn-%d-%d", g, i))
				r.join(roomID, c)
				_ = r.membersOf(roomID)
				_ = r.broadcastTargets(roomID, c.id)
				r.leave(roomID, c.id)
			}
		}(g)
	}
	wg.Wait()

	for _, roomID := range rooms {
		if got := len(r.membersOf(roomID)); got != 0 {
			t.Errorf("room %s still has %d members", roomID, got)
		}
	}
}
