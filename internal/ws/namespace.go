package ws

import (
	"sync"

	"github.com/samber/lo"

	"github.com/gymhub/chat/internal/model"
)

// Namespace is one channel-space: the rooms of connections of a single role.
// A room is the set of connections subscribed to one conversation id.
type Namespace struct {
	role  model.ParticipantRole
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewNamespace(role model.ParticipantRole) *Namespace {
	return &Namespace{role: role, rooms: make(map[string]map[*Client]struct{})}
}

func (n *Namespace) Role() model.ParticipantRole { return n.role }

// Join subscribes c to the room. Returns false if c was already there or is
// closed. A client closed while joining is taken back out, so a join racing
// with disconnect never leaves a dead connection in the room.
func (n *Namespace) Join(roomID string, c *Client) bool {
	if c.closed() {
		return false
	}
	n.mu.Lock()
	room, ok := n.rooms[roomID]
	if !ok {
		room = make(map[*Client]struct{})
		n.rooms[roomID] = room
	}
	_, already := room[c]
	room[c] = struct{}{}
	n.mu.Unlock()
	c.markJoined(roomID)
	if c.closed() {
		n.Leave(roomID, c)
		return false
	}
	return !already
}

func (n *Namespace) Leave(roomID string, c *Client) bool {
	n.mu.Lock()
	room, ok := n.rooms[roomID]
	_, member := room[c]
	if ok && member {
		delete(room, c)
		if len(room) == 0 {
			delete(n.rooms, roomID)
		}
	}
	n.mu.Unlock()
	c.markLeft(roomID)
	return member
}

// LeaveAll removes c from every room it joined.
func (n *Namespace) LeaveAll(c *Client) {
	for _, id := range c.Rooms() {
		n.Leave(id, c)
	}
}

// Members returns a snapshot of the room. I/O on the returned clients must
// happen outside the namespace lock.
func (n *Namespace) Members(roomID string) []*Client {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return lo.Keys(n.rooms[roomID])
}

func (n *Namespace) RoomCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.rooms)
}
