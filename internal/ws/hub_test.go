package ws

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymhub/chat/internal/chat"
	"github.com/gymhub/chat/internal/model"
	"github.com/gymhub/chat/internal/storage/memory"
)

var (
	alice = model.Participant{ID: "u-alice", Role: model.RoleUser}
	bob   = model.Participant{ID: "t-bob", Role: model.RoleTrainer}
	carol = model.Participant{ID: "u-carol", Role: model.RoleUser}
)

type testEnv struct {
	hub      *Hub
	store    *memory.ChatStore
	presence *memory.Presence
	dir      *chat.Directory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewChatStore()
	presence := memory.NewPresence()
	dir := chat.NewDirectory(store)
	hub := NewHub(Deps{
		Directory: dir,
		Pipeline:  chat.NewPipeline(dir, store, 0),
		Receipts:  chat.NewReceipts(dir, store, store),
		Presence:  presence,
	}, 0, Options{SendBufSize: 64}, true)
	return &testEnv{hub: hub, store: store, presence: presence, dir: dir}
}

// connect registers a connection-less client for p and discards its
// connected event.
func (e *testEnv) connect(t *testing.T, p model.Participant) *Client {
	t.Helper()
	c := NewClient(e.hub, nil, p)
	e.hub.addClient(c)
	got := drain(c)
	require.NotEmpty(t, got)
	require.Equal(t, EventConnected, got[0].Type)
	return c
}

func (e *testEnv) conversation(t *testing.T, a, b model.Participant) string {
	t.Helper()
	conv, _, err := e.dir.ResolveOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)
	return conv.ID
}

func drain(c *Client) []OutgoingMessage {
	var out []OutgoingMessage
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func types(ms []OutgoingMessage) []EventType {
	out := make([]EventType, len(ms))
	for i, m := range ms {
		out[i] = m.Type
	}
	return out
}

func TestConnectedEventOnRegister(t *testing.T) {
	e := newTestEnv(t)
	c := NewClient(e.hub, nil, alice)
	e.hub.addClient(c)

	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, EventConnected, got[0].Type)
	assert.Equal(t, ConnectedPayload{ParticipantID: alice.ID, ParticipantType: model.RoleUser}, got[0].Payload)
	assert.True(t, e.hub.IsOnline(alice))
}

func TestFirstContactSend(t *testing.T) {
	e := newTestEnv(t)
	a := e.connect(t, alice)
	b := e.connect(t, bob)

	e.hub.HandleMessage(context.Background(), a, IncomingMessage{
		Type:       EventSendMessage,
		ReceiverID: bob.ID,
		Content:    "hello",
		TempID:     "tmp-1",
	})

	fromA := drain(a)
	require.Equal(t, []EventType{EventConversationCreated, EventMessageSent}, types(fromA))
	ack := fromA[1].Payload.(MessageSentPayload)
	assert.True(t, ack.Success)
	assert.Equal(t, "tmp-1", ack.TempID)
	require.NotNil(t, ack.Message)
	assert.Equal(t, "hello", ack.Message.Content)

	fromB := drain(b)
	require.Equal(t, []EventType{EventConversationCreated, EventNewMessage}, types(fromB))
	convID := fromB[0].Payload.(ConversationPayload).ConversationID
	assert.Equal(t, ack.Message.ConversationID, convID)
	assert.Equal(t, ack.Message.ID, fromB[1].Payload.(*model.Message).ID)

	assert.True(t, a.InRoom(convID))
	assert.True(t, b.InRoom(convID))
}

func TestSendFailureIsScopedToSender(t *testing.T) {
	e := newTestEnv(t)
	convID := e.conversation(t, alice, bob)
	a := e.connect(t, alice)
	b := e.connect(t, bob)
	e.hub.bc.Join(convID, a)
	e.hub.bc.Join(convID, b)

	e.hub.HandleMessage(context.Background(), a, IncomingMessage{
		Type:           EventSendMessage,
		ConversationID: convID,
		Content:        "   ",
		TempID:         "tmp-9",
	})

	got := drain(a)
	require.Len(t, got, 1)
	ack := got[0].Payload.(MessageSentPayload)
	assert.False(t, ack.Success)
	assert.Equal(t, "tmp-9", ack.TempID)
	assert.Equal(t, "validation", ack.Code)
	assert.Equal(t, "content is required", ack.Error)
	assert.Empty(t, drain(b))
	assert.Zero(t, e.store.MessageCount())
}

func TestJoinRequiresMembership(t *testing.T) {
	e := newTestEnv(t)
	convID := e.conversation(t, alice, bob)
	a := e.connect(t, alice)
	c := e.connect(t, carol)

	e.hub.HandleMessage(context.Background(), a, IncomingMessage{Type: EventJoinConversation, ConversationID: convID})
	got := drain(a)
	require.Len(t, got, 1)
	assert.Equal(t, EventJoinedConversation, got[0].Type)
	assert.True(t, a.InRoom(convID))

	e.hub.HandleMessage(context.Background(), c, IncomingMessage{Type: EventJoinConversation, ConversationID: convID})
	got = drain(c)
	require.Len(t, got, 1)
	require.Equal(t, EventError, got[0].Type)
	errPayload := got[0].Payload.(ErrorPayload)
	assert.Equal(t, "authorization", errPayload.Code)
	assert.Equal(t, convID, errPayload.ConversationID)
	assert.False(t, c.InRoom(convID))

	e.hub.HandleMessage(context.Background(), a, IncomingMessage{Type: EventLeaveConversation, ConversationID: convID})
	assert.Equal(t, []EventType{EventLeftConversation}, types(drain(a)))
	assert.False(t, a.InRoom(convID))
}

func TestTypingIsNotEchoedToTypist(t *testing.T) {
	e := newTestEnv(t)
	convID := e.conversation(t, alice, bob)
	a1 := e.connect(t, alice)
	a2 := e.connect(t, alice)
	b := e.connect(t, bob)
	for _, c := range []*Client{a1, a2, b} {
		e.hub.bc.Join(convID, c)
	}

	typing := true
	e.hub.HandleMessage(context.Background(), a1, IncomingMessage{Type: EventTyping, ConversationID: convID, IsTyping: &typing})

	assert.Empty(t, drain(a1))
	assert.Empty(t, drain(a2))
	got := drain(b)
	require.Len(t, got, 1)
	assert.Equal(t, EventConversationTyping, got[0].Type)
	assert.Equal(t, TypingPayload{UserID: alice.ID, SenderType: model.RoleUser, IsTyping: true, ConversationID: convID}, got[0].Payload)
}

func TestTypingValidation(t *testing.T) {
	e := newTestEnv(t)
	convID := e.conversation(t, alice, bob)
	a := e.connect(t, alice)
	c := e.connect(t, carol)

	e.hub.HandleMessage(context.Background(), a, IncomingMessage{Type: EventTyping, ConversationID: convID})
	got := drain(a)
	require.Len(t, got, 1)
	assert.Equal(t, "validation", got[0].Payload.(ErrorPayload).Code)
	assert.Equal(t, "isTyping is required", got[0].Payload.(ErrorPayload).Message)

	typing := false
	e.hub.HandleMessage(context.Background(), c, IncomingMessage{Type: EventTyping, ConversationID: convID, IsTyping: &typing})
	got = drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, "authorization", got[0].Payload.(ErrorPayload).Code)
}

func TestPresenceTransitionsOncePerParticipant(t *testing.T) {
	e := newTestEnv(t)
	convID := e.conversation(t, alice, bob)
	b := e.connect(t, bob)
	e.hub.bc.Join(convID, b)

	a1 := e.connect(t, alice)
	a2 := e.connect(t, alice)
	got := drain(b)
	require.Len(t, got, 1)
	assert.Equal(t, UserStatusPayload{UserID: alice.ID, ParticipantType: model.RoleUser, Status: model.StatusOnline}, got[0].Payload)
	assert.Equal(t, 2, e.hub.Connections(alice))

	e.hub.removeClient(a1)
	assert.Empty(t, drain(b))
	assert.True(t, e.hub.IsOnline(alice))

	e.hub.removeClient(a2)
	got = drain(b)
	require.Len(t, got, 1)
	assert.Equal(t, model.StatusOffline, got[0].Payload.(UserStatusPayload).Status)
	assert.False(t, e.hub.IsOnline(alice))

	pr, err := e.presence.Get(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOffline, pr.Status)
	assert.NotNil(t, pr.LastSeenAt)

	// Removing twice is a no-op.
	e.hub.removeClient(a2)
	assert.Empty(t, drain(b))
}

func TestDisconnectLeavesAllRooms(t *testing.T) {
	e := newTestEnv(t)
	conv1 := e.conversation(t, alice, bob)
	conv2 := e.conversation(t, alice, model.Participant{ID: "t-dan", Role: model.RoleTrainer})
	a := e.connect(t, alice)
	e.hub.bc.Join(conv1, a)
	e.hub.bc.Join(conv2, a)

	e.hub.removeClient(a)
	assert.Empty(t, a.Rooms())
	assert.Empty(t, e.hub.bc.Members(conv1))
	assert.Empty(t, e.hub.bc.Members(conv2))
	assert.True(t, a.closed())
}

func TestMarkReadFanOut(t *testing.T) {
	e := newTestEnv(t)
	a := e.connect(t, alice)
	b := e.connect(t, bob)

	e.hub.HandleMessage(context.Background(), a, IncomingMessage{Type: EventSendMessage, ReceiverID: bob.ID, Content: "one", TempID: "1"})
	msg := drain(a)[1].Payload.(MessageSentPayload).Message
	drain(b)

	e.hub.HandleMessage(context.Background(), b, IncomingMessage{Type: EventMarkMessageRead, ConversationID: msg.ConversationID, MessageID: msg.ID})
	fromB := drain(b)
	require.Equal(t, []EventType{EventMarkReadAck, EventMessageRead}, types(fromB))
	assert.True(t, fromB[0].Payload.(MarkReadAckPayload).Success)

	fromA := drain(a)
	require.Len(t, fromA, 1)
	assert.Equal(t, MessageReadPayload{
		MessageID:       msg.ID,
		UserID:          bob.ID,
		ParticipantType: model.RoleTrainer,
		ConversationID:  msg.ConversationID,
	}, fromA[0].Payload)

	// Unknown message: failed ack, nothing fanned out.
	e.hub.HandleMessage(context.Background(), b, IncomingMessage{Type: EventMarkMessageRead, ConversationID: msg.ConversationID, MessageID: "missing"})
	fromB = drain(b)
	require.Len(t, fromB, 1)
	ack := fromB[0].Payload.(MarkReadAckPayload)
	assert.False(t, ack.Success)
	assert.Equal(t, "not_found", ack.Code)
	assert.Empty(t, drain(a))
}

func TestMarkAllRead(t *testing.T) {
	e := newTestEnv(t)
	a := e.connect(t, alice)
	b := e.connect(t, bob)

	e.hub.HandleMessage(context.Background(), a, IncomingMessage{Type: EventSendMessage, ReceiverID: bob.ID, Content: "one", TempID: "1"})
	convID := drain(a)[1].Payload.(MessageSentPayload).Message.ConversationID
	e.hub.HandleMessage(context.Background(), a, IncomingMessage{Type: EventSendMessage, ConversationID: convID, Content: "two", TempID: "2"})
	last := drain(a)[0].Payload.(MessageSentPayload).Message
	drain(b)

	e.hub.HandleMessage(context.Background(), b, IncomingMessage{Type: EventMarkAllRead, ConversationID: convID})
	fromB := drain(b)
	require.Equal(t, []EventType{EventMarkReadAck, EventMessageRead}, types(fromB))
	ack := fromB[0].Payload.(MarkReadAckPayload)
	assert.True(t, ack.Success)
	require.NotNil(t, ack.Count)
	assert.Equal(t, 2, *ack.Count)
	assert.Equal(t, last.ID, ack.MessageID)

	fromA := drain(a)
	require.Len(t, fromA, 1)
	read := fromA[0].Payload.(MessageReadPayload)
	assert.True(t, read.All)
	assert.Equal(t, last.ID, read.MessageID)

	n, err := chat.NewReceipts(e.dir, e.store, e.store).UnreadCount(context.Background(), bob)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnknownEvent(t *testing.T) {
	e := newTestEnv(t)
	a := e.connect(t, alice)
	e.hub.HandleMessage(context.Background(), a, IncomingMessage{Type: "dance"})
	got := drain(a)
	require.Len(t, got, 1)
	assert.Equal(t, ErrorPayload{Event: "dance", Message: "unknown event type", Code: "validation"}, got[0].Payload)
}

func TestRoomMembersOnlyWhenDebugEnabled(t *testing.T) {
	e := newTestEnv(t)
	convID := e.conversation(t, alice, bob)
	a1 := e.connect(t, alice)
	a2 := e.connect(t, alice)
	b := e.connect(t, bob)
	drain(b)
	for _, c := range []*Client{a1, a2, b} {
		e.hub.bc.Join(convID, c)
	}

	e.hub.HandleMessage(context.Background(), a1, IncomingMessage{Type: EventGetRoomMembers, ConversationID: convID})
	got := drain(a1)
	require.Len(t, got, 1)
	payload := got[0].Payload.(RoomMembersPayload)
	assert.ElementsMatch(t, []RoomMember{
		{ParticipantID: alice.ID, ParticipantType: model.RoleUser, Connections: 2},
		{ParticipantID: bob.ID, ParticipantType: model.RoleTrainer, Connections: 1},
	}, payload.Members)

	e.hub.debugRooms = false
	e.hub.HandleMessage(context.Background(), a1, IncomingMessage{Type: EventGetRoomMembers, ConversationID: convID})
	got = drain(a1)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Type)
}

func TestHandlerPanicIsContained(t *testing.T) {
	e := newTestEnv(t)
	convID := e.conversation(t, alice, bob)
	a := e.connect(t, alice)
	b := e.connect(t, bob)
	e.hub.bc.Join(convID, b)
	e.hub.pipeline = nil

	require.NotPanics(t, func() {
		e.hub.HandleMessage(context.Background(), a, IncomingMessage{Type: EventSendMessage, ConversationID: convID, Content: "x", TempID: "1"})
	})
	got := drain(a)
	require.Len(t, got, 1)
	assert.Equal(t, ErrorPayload{Event: EventSendMessage, Message: "internal error", Code: "internal"}, got[0].Payload)
	assert.Empty(t, drain(b))
	assert.False(t, a.closed())

	typing := true
	e.hub.bc.Join(convID, a)
	e.hub.HandleMessage(context.Background(), b, IncomingMessage{Type: EventTyping, ConversationID: convID, IsTyping: &typing})
	assert.Len(t, drain(a), 1)
}

func TestSlowClientIsClosed(t *testing.T) {
	store := memory.NewChatStore()
	dir := chat.NewDirectory(store)
	hub := NewHub(Deps{Directory: dir}, 0, Options{SendBufSize: 1}, false)
	c := NewClient(hub, nil, alice)

	assert.True(t, c.enqueue(OutgoingMessage{Type: EventConnected}))
	assert.False(t, c.enqueue(OutgoingMessage{Type: EventConnected}))
	assert.True(t, c.closed())
	assert.False(t, c.enqueue(OutgoingMessage{Type: EventConnected}))
}

func TestConnectionLimit(t *testing.T) {
	store := memory.NewChatStore()
	hub := NewHub(Deps{Directory: chat.NewDirectory(store)}, 1, Options{}, false)
	c1 := NewClient(hub, nil, alice)
	hub.addClient(c1)
	assert.True(t, hub.Full())

	c2 := NewClient(hub, nil, bob)
	hub.addClient(c2)
	assert.True(t, c2.closed())
	assert.ErrorIs(t, c2.ctx.Err(), context.Canceled)
	assert.False(t, hub.IsOnline(bob))
}

func TestCloseBeforeStartStopsPumps(t *testing.T) {
	hub := NewHub(Deps{}, 0, Options{}, false)
	c := NewClient(hub, nil, alice)
	require.NoError(t, c.ctx.Err())

	c.Close()
	c.Close()
	assert.ErrorIs(t, c.ctx.Err(), context.Canceled)
	assert.True(t, c.closed())
}

func TestNewMessageReachesSendersOtherConnections(t *testing.T) {
	e := newTestEnv(t)
	convID := e.conversation(t, alice, bob)
	a1 := e.connect(t, alice)
	a2 := e.connect(t, alice)
	b := e.connect(t, bob)
	for _, c := range []*Client{a1, a2, b} {
		e.hub.bc.Join(convID, c)
	}

	e.hub.HandleMessage(context.Background(), a1, IncomingMessage{
		Type:           EventSendMessage,
		ConversationID: convID,
		Content:        "from the phone",
		TempID:         "t-1",
	})

	fromA1 := drain(a1)
	require.Equal(t, []EventType{EventMessageSent}, types(fromA1))
	sent := fromA1[0].Payload.(MessageSentPayload).Message
	require.NotNil(t, sent)

	for name, c := range map[string]*Client{"second tab": a2, "counterpart": b} {
		got := drain(c)
		require.Equal(t, []EventType{EventNewMessage}, types(got), name)
		assert.Equal(t, sent.ID, got[0].Payload.(*model.Message).ID, name)
	}
}

func TestFirstContactAfterConcurrentCreateStillDelivers(t *testing.T) {
	e := newTestEnv(t)
	a := e.connect(t, alice)
	b := e.connect(t, bob)
	// The other side already committed the conversation but has not yet
	// subscribed anyone to its room.
	convID := e.conversation(t, bob, alice)
	require.Empty(t, e.hub.bc.Members(convID))

	e.hub.HandleMessage(context.Background(), a, IncomingMessage{
		Type:       EventSendMessage,
		ReceiverID: bob.ID,
		Content:    "hi",
		TempID:     "t-race",
	})

	fromA := drain(a)
	require.Equal(t, []EventType{EventMessageSent}, types(fromA))
	ack := fromA[0].Payload.(MessageSentPayload)
	require.True(t, ack.Success)
	assert.Equal(t, convID, ack.Message.ConversationID)

	fromB := drain(b)
	require.Equal(t, []EventType{EventNewMessage}, types(fromB))
	assert.Equal(t, ack.Message.ID, fromB[0].Payload.(*model.Message).ID)
	assert.True(t, a.InRoom(convID))
	assert.True(t, b.InRoom(convID))
}

func TestJoinAfterDisconnectDoesNotLeak(t *testing.T) {
	e := newTestEnv(t)
	convID := e.conversation(t, alice, bob)
	b := e.connect(t, bob)

	snapshot := e.hub.clientsOf(bob)
	require.Len(t, snapshot, 1)
	e.hub.removeClient(b)

	for _, c := range snapshot {
		assert.False(t, e.hub.bc.Join(convID, c))
	}
	e.hub.JoinAll(convID, []model.Participant{bob})
	assert.Empty(t, e.hub.bc.Members(convID))
	assert.Empty(t, b.Rooms())
}

func TestOfflineOncePerConversation(t *testing.T) {
	e := newTestEnv(t)
	dan := model.Participant{ID: "t-dan", Role: model.RoleTrainer}
	conv1 := e.conversation(t, alice, bob)
	conv2 := e.conversation(t, alice, dan)
	b := e.connect(t, bob)
	d := e.connect(t, dan)
	e.hub.bc.Join(conv1, b)
	e.hub.bc.Join(conv2, d)

	a1 := e.connect(t, alice)
	a2 := e.connect(t, alice)
	e.hub.bc.Join(conv1, a1)
	e.hub.bc.Join(conv2, a2)
	drain(b)
	drain(d)

	e.hub.removeClient(a1)
	e.hub.removeClient(a2)

	for name, c := range map[string]*Client{"conv1": b, "conv2": d} {
		got := drain(c)
		require.Len(t, got, 1, name)
		assert.Equal(t, UserStatusPayload{UserID: alice.ID, ParticipantType: model.RoleUser, Status: model.StatusOffline}, got[0].Payload, name)
	}
}
