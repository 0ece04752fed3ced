package main

import "sync"

// roomRegistry tracks which connections are currently joined to each issue
// room. Rooms are derived state: one exists while it has members and is
// evicted when the last member leaves. Mutations serialize on the registry
// lock; lookups take a per-room read lock so broadcasts in different rooms
// do not contend.
type roomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	mu      sync.RWMutex
	members map[string]*conn

	// postMu serializes comment commit and fanout for the room, so members
	// observe comments in store commit order. Kept separate from mu: posts
	// block on store I/O and must not hold up join/leave.
	postMu sync.Mutex
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{rooms: make(map[string]*room)}
}

// join adds c to the room's member set. Joining again with the same
// connection id is a no-op.
func (r *roomRegistry) join(roomID string, c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[roomID]
	if rm == nil {
		rm = &room{members: make(map[string]*conn)}
		r.rooms[roomID] = rm
	}

	rm.mu.Lock()
	rm.members[c.id] = c
	rm.mu.Unlock()
}

// leave removes the connection from the room. Removing a connection that is
// not present is a no-op.
func (r *roomRegistry) leave(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[roomID]
	if rm == nil {
		return
	}

	rm.mu.Lock()
	delete(rm.members, connID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty {
		delete(r.rooms, roomID)
	}
}

// membersOf returns a snapshot of the room's members, safe to iterate while
// the registry keeps mutating.
func (r *roomRegistry) membersOf(roomID string) []*conn {
	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	if rm == nil {
		return nil
	}

	rm.mu.RLock()
	members := make([]*conn, 0, len(rm.members))
	for _, c := range rm.members {
		members = append(members, c)
	}
	rm.mu.RUnlock()
	return members
}

// lockPosts takes the room's post lock and returns the release func. The
// caller must be a member of the room, which pins the room instance; an
// absent room yields a no-op release.
func (r *roomRegistry) lockPosts(roomID string) func() {
	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	if rm == nil {
		return func() {}
	}
	rm.postMu.Lock()
	return rm.postMu.Unlock
}

// broadcastTargets returns a snapshot of the room's members minus the
// sender. The poster learns about its own comment from the post result, not
// from an echo.
func (r *roomRegistry) broadcastTargets(roomID, excluding string) []*conn {
	r.mu.RLock()
	rm := r.rooms[roomID]
	r.mu.RUnlock()
	if rm == nil {
		return nil
	}

	rm.mu.RLock()
	targets := make([]*conn, 0, len(rm.members))
	for id, c := range rm.members {
		if id == excluding {
			continue
		}
		targets = append(targets, c)
	}
	rm.mu.RUnlock()
	return targets
}
