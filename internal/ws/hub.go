package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gymhub/chat/internal/chat"
	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/metrics"
	"github.com/gymhub/chat/internal/model"
	"github.com/gymhub/chat/internal/storage"
)

const handlerTimeout = 5 * time.Second

// Deps are the chat services the hub dispatches to.
type Deps struct {
	Directory   *chat.Directory
	Pipeline    *chat.Pipeline
	Receipts    *chat.Receipts
	Broadcaster *Broadcaster
	// Presence mirrors online/offline transitions. Nil disables mirroring.
	Presence storage.PresenceStore
}

// Hub is the session registry: participant key -> live connections. It is the
// source of presence transitions and dispatches inbound events.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	members  map[string]model.Participant
	total    int
	maxConns int
	opts     Options

	dir        *chat.Directory
	pipeline   *chat.Pipeline
	receipts   *chat.Receipts
	bc         *Broadcaster
	presence   storage.PresenceStore
	debugRooms bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(deps Deps, maxConns int, opts Options, debugRooms bool) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	bc := deps.Broadcaster
	if bc == nil {
		bc = NewBroadcaster(model.Roles...)
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		members:    make(map[string]model.Participant),
		maxConns:   maxConns,
		opts:       opts.withDefaults(),
		dir:        deps.Directory,
		pipeline:   deps.Pipeline,
		receipts:   deps.Receipts,
		bc:         bc,
		presence:   deps.Presence,
		debugRooms: debugRooms,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Broadcaster() *Broadcaster { return h.bc }

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.members = make(map[string]model.Participant)
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
		h.bc.LeaveAll(c)
	}
	for _, c := range allClients {
		c.Wait()
	}
	metrics.OnlineParticipants.Set(0)
	for _, role := range h.bc.Roles() {
		metrics.WSConnections.WithLabelValues(string(role)).Set(0)
	}
}

// Full reports whether the connection limit is reached.
func (h *Hub) Full() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total >= h.maxConns
}

func (h *Hub) addClient(c *Client) {
	key := c.participant.Key()
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting %s", h.maxConns, key)
		c.Close()
		return
	}
	if c.closed() {
		h.mu.Unlock()
		return
	}
	first := false
	if _, ok := h.clients[key]; !ok {
		h.clients[key] = make(map[*Client]struct{})
		h.members[key] = c.participant
		first = true
	}
	h.clients[key][c] = struct{}{}
	h.total++
	online := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.WithLabelValues(string(c.participant.Role)).Inc()
	metrics.OnlineParticipants.Set(float64(online))
	c.enqueue(OutgoingMessage{Type: EventConnected, Payload: ConnectedPayload{
		ParticipantID:   c.participant.ID,
		ParticipantType: c.participant.Role,
	}})

	if first {
		h.presenceTransition(c.participant, model.StatusOnline)
	}
}

func (h *Hub) removeClient(c *Client) {
	// Closed first: a concurrent Join sees it and backs out. Rooms are left
	// even if the client never made it into the registry.
	c.Close()
	h.bc.LeaveAll(c)

	key := c.participant.Key()
	h.mu.Lock()
	clients, ok := h.clients[key]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, key)
		delete(h.members, key)
	}
	online := len(h.clients)
	h.mu.Unlock()

	metrics.WSConnections.WithLabelValues(string(c.participant.Role)).Dec()
	metrics.OnlineParticipants.Set(float64(online))

	if lastClient {
		h.presenceTransition(c.participant, model.StatusOffline)
	}
}

// presenceTransition mirrors the status and delivers one userStatus event per
// conversation of p.
func (h *Hub) presenceTransition(p model.Participant, status model.PresenceStatus) {
	defer logger.DeferLogDuration("ws.presenceTransition", time.Now())()
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if h.presence != nil {
		var err error
		if status == model.StatusOnline {
			err = h.presence.SetOnline(ctx, p)
		} else {
			err = h.presence.SetOffline(ctx, p)
		}
		if err != nil {
			logger.Errorf("ws presence mirror %s %s: %v", p.Key(), status, err)
		}
	}
	if h.dir == nil {
		return
	}
	ids, err := h.dir.ListConversationIDs(ctx, p)
	if err != nil {
		logger.Errorf("ws list conversations for status broadcast %s: %v", p.Key(), err)
		return
	}
	out := OutgoingMessage{Type: EventUserStatus, Payload: UserStatusPayload{
		UserID:          p.ID,
		ParticipantType: p.Role,
		Status:          status,
	}}
	for _, id := range ids {
		h.bc.Deliver(id, out, nil)
	}
}

// IsOnline reports whether p has at least one live connection.
func (h *Hub) IsOnline(p model.Participant) bool {
	return h.Connections(p) > 0
}

func (h *Hub) Connections(p model.Participant) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[p.Key()])
}

// Online returns every participant with a live connection.
func (h *Hub) Online() []model.Participant {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.Participant, 0, len(h.members))
	for _, p := range h.members {
		out = append(out, p)
	}
	return out
}

// HeartbeatPresence refreshes the mirrored TTL of every online participant.
func (h *Hub) HeartbeatPresence(ctx context.Context) error {
	if h.presence == nil {
		return nil
	}
	return h.presence.Touch(ctx, h.Online())
}

func (h *Hub) clientsOf(p model.Participant) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.clients[p.Key()]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// JoinAll subscribes every live connection of the given participants to the
// conversation's room.
func (h *Hub) JoinAll(conversationID string, participants []model.Participant) {
	for _, p := range participants {
		for _, c := range h.clientsOf(p) {
			h.bc.Join(conversationID, c)
		}
	}
}

// NotifyConversationCreated joins both sides' live connections to the new
// room and announces it there.
func (h *Hub) NotifyConversationCreated(conv *model.Conversation, members []model.Participant, origin *Client) {
	h.subscribeDirect(conv, members, origin, true)
}

// subscribeDirect joins the live connections of both members to a room resolved
// by receiverId. Joining is idempotent, so it runs on every such send: a sender
// that lost a concurrent first contact must not fan out before the counterpart
// is subscribed. conversationCreated goes out only for a new conversation.
// origin, if set, is joined even when it is not yet registered.
func (h *Hub) subscribeDirect(conv *model.Conversation, members []model.Participant, origin *Client, created bool) {
	h.JoinAll(conv.ID, members)
	if origin != nil {
		h.bc.Join(conv.ID, origin)
	}
	if !created {
		return
	}
	metrics.ConversationsCreated.Inc()
	h.bc.Deliver(conv.ID, OutgoingMessage{
		Type:    EventConversationCreated,
		Payload: ConversationPayload{ConversationID: conv.ID},
	}, nil)
}

// NotifyRead fans out a messageRead event to the conversation.
func (h *Hub) NotifyRead(conversationID, messageID string, p model.Participant, all bool) {
	h.bc.Deliver(conversationID, OutgoingMessage{Type: EventMessageRead, Payload: MessageReadPayload{
		MessageID:       messageID,
		UserID:          p.ID,
		ParticipantType: p.Role,
		ConversationID:  conversationID,
		All:             all,
	}}, nil)
}

// RoomMembers lists the participants subscribed to a room across namespaces.
func (h *Hub) RoomMembers(conversationID string) []RoomMember {
	counts := make(map[string]*RoomMember)
	order := make([]string, 0, 4)
	for _, c := range h.bc.Members(conversationID) {
		key := c.participant.Key()
		m, ok := counts[key]
		if !ok {
			m = &RoomMember{ParticipantID: c.participant.ID, ParticipantType: c.participant.Role}
			counts[key] = m
			order = append(order, key)
		}
		m.Connections++
	}
	out := make([]RoomMember, 0, len(order))
	for _, k := range order {
		out = append(out, *counts[k])
	}
	return out
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) sendError(c *Client, ev EventType, conversationID string, err error) {
	if errors.Is(err, chat.ErrPersistence) || chat.Code(err) == "internal" {
		logger.Errorf("ws %s %s conversation=%s: %v", ev, c.participant.Key(), conversationID, err)
	}
	c.enqueue(OutgoingMessage{Type: EventError, Payload: ErrorPayload{
		Event:          ev,
		ConversationID: conversationID,
		Message:        chat.PublicMessage(err),
		Code:           chat.Code(err),
	}})
}
