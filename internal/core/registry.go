package core

import (
	"sync"

	"github.com/samber/lo"
)

// Registry is the shared room state: the pending pool, room membership and display names.
// Every method takes the lock for a single map operation; callers never hold it across I/O.
type Registry struct {
	mu       sync.Mutex
	pending  map[uint64]*Connection
	rooms    map[string]map[uint64]*Connection
	memberOf map[uint64]string
	names    map[uint64]string
}

// Member is a snapshot of a connection and the room it was in at snapshot time.
type Member struct {
	Conn *Connection
	Room string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pending:  make(map[uint64]*Connection),
		rooms:    make(map[string]map[uint64]*Connection),
		memberOf: make(map[uint64]string),
		names:    make(map[uint64]string),
	}
}

// AddPending places a new connection in the pending pool.
func (r *Registry) AddPending(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[c.ID]; ok {
		return ErrDuplicateConnection
	}
	if _, ok := r.memberOf[c.ID]; ok {
		return ErrDuplicateConnection
	}
	c.room = UnassignedRoom
	r.pending[c.ID] = c
	return nil
}

// TakePending removes a connection from the pending pool and returns it.
func (r *Registry) TakePending(id uint64) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return c, ok
}

// Join inserts a connection into a room, creating the room entry on first use.
// The caller must have taken the connection out of the pending pool first.
func (r *Registry) Join(room string, c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[uint64]*Connection)
		r.rooms[room] = members
	}
	members[c.ID] = c
	r.memberOf[c.ID] = room
	c.room = room
}

// Leave removes a connection from a room. Empty rooms are kept.
func (r *Registry) Leave(room string, id uint64) (roomFound, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return false, false
	}
	if _, ok := members[id]; !ok {
		return true, false
	}
	delete(members, id)
	delete(r.memberOf, id)
	return true, true
}

// RoomOf returns the room a connection has joined.
func (r *Registry) RoomOf(id uint64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.memberOf[id]
	return room, ok
}

// Joined returns a connection that has joined a room.
func (r *Registry) Joined(id uint64) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.memberOf[id]
	if !ok {
		return nil, false
	}
	c, ok := r.rooms[room][id]
	return c, ok
}

// SetName records the display name supplied at login.
func (r *Registry) SetName(id uint64, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.names[id] = name
}

// Name returns the display name of a logged-in connection.
func (r *Registry) Name(id uint64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.names[id]
	return name, ok
}

// DropName forgets a connection's display name.
func (r *Registry) DropName(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.names[id]
	delete(r.names, id)
	return ok
}

// Recipients snapshots the members of a room except the given connection.
func (r *Registry) Recipients(room string, except uint64) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[room]
	out := make([]*Connection, 0, len(members))
	for id, c := range members {
		if id != except {
			out = append(out, c)
		}
	}
	return out
}

// Members returns the ids joined to a room.
func (r *Registry) Members(room string) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.Keys(r.rooms[room])
}

// IsPending reports whether a connection is still waiting to log in.
func (r *Registry) IsPending(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.pending[id]
	return ok
}

// Connections snapshots every known connection, pending and joined.
func (r *Registry) Connections() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Member, 0, len(r.pending)+len(r.memberOf))
	for _, c := range r.pending {
		out = append(out, Member{Conn: c, Room: c.room})
	}
	for _, members := range r.rooms {
		for _, c := range members {
			out = append(out, Member{Conn: c, Room: c.room})
		}
	}
	return out
}
