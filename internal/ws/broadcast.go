package ws

import (
	"time"

	"github.com/samber/lo"

	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/model"
)

// Broadcaster delivers conversation events into every configured
// channel-space. Rooms with the same id in different namespaces are distinct
// sets, so a single-namespace emit would miss the other role.
type Broadcaster struct {
	order      []model.ParticipantRole
	namespaces map[model.ParticipantRole]*Namespace
}

func NewBroadcaster(roles ...model.ParticipantRole) *Broadcaster {
	roles = lo.Uniq(roles)
	b := &Broadcaster{
		order:      roles,
		namespaces: make(map[model.ParticipantRole]*Namespace, len(roles)),
	}
	for _, r := range roles {
		b.namespaces[r] = NewNamespace(r)
	}
	return b
}

func (b *Broadcaster) Namespace(role model.ParticipantRole) (*Namespace, bool) {
	ns, ok := b.namespaces[role]
	return ns, ok
}

func (b *Broadcaster) Roles() []model.ParticipantRole {
	return b.order
}

// Deliver sends msg to every connection in the conversation's room of every
// namespace. exclude, if set, is skipped; it can only match in its own
// namespace. Returns the number of connections the frame was queued for.
func (b *Broadcaster) Deliver(conversationID string, msg OutgoingMessage, exclude *Client) int {
	return b.DeliverFunc(conversationID, msg, func(c *Client) bool { return c == exclude })
}

// DeliverFunc is Deliver with an arbitrary exclusion predicate.
func (b *Broadcaster) DeliverFunc(conversationID string, msg OutgoingMessage, skip func(*Client) bool) int {
	defer logger.DeferLogDuration("ws.Deliver", time.Now())()
	n := 0
	for _, role := range b.order {
		for _, c := range b.namespaces[role].Members(conversationID) {
			if skip != nil && skip(c) {
				continue
			}
			if c.enqueue(msg) {
				n++
			}
		}
	}
	return n
}

// Members returns the room's connections across all namespaces.
func (b *Broadcaster) Members(conversationID string) []*Client {
	var out []*Client
	for _, role := range b.order {
		out = append(out, b.namespaces[role].Members(conversationID)...)
	}
	return out
}

// Join subscribes c to the room of its own namespace.
func (b *Broadcaster) Join(conversationID string, c *Client) bool {
	ns, ok := b.namespaces[c.participant.Role]
	if !ok {
		return false
	}
	return ns.Join(conversationID, c)
}

func (b *Broadcaster) Leave(conversationID string, c *Client) bool {
	ns, ok := b.namespaces[c.participant.Role]
	if !ok {
		return false
	}
	return ns.Leave(conversationID, c)
}

func (b *Broadcaster) LeaveAll(c *Client) {
	if ns, ok := b.namespaces[c.participant.Role]; ok {
		ns.LeaveAll(c)
	}
}
