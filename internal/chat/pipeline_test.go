package chat_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymhub/chat/internal/chat"
	"github.com/gymhub/chat/internal/model"
)

func TestSendFirstContactCreatesConversation(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()

	var (
		calls   int
		members []model.Participant
		created []bool
	)
	res, err := s.pipeline.Send(ctx, chat.SendRequest{
		Sender:     alice,
		ReceiverID: bob.ID,
		Content:    "  hi coach  ",
		TempID:     "t1",
	}, func(conv *model.Conversation, m []model.Participant, isNew bool) {
		calls++
		members = m
		created = append(created, isNew)
		// Conversation exists before the message is stored.
		assert.Equal(t, 0, s.store.MessageCount())
	})
	require.NoError(t, err)

	assert.True(t, res.Created)
	assert.Equal(t, 1, calls)
	assert.ElementsMatch(t, []model.Participant{alice, bob}, members)
	assert.Equal(t, "hi coach", res.Message.Content)
	assert.Equal(t, alice.ID, res.Message.SenderID)
	assert.Equal(t, model.RoleUser, res.Message.SenderType)
	require.NotNil(t, res.Conversation.LastMessageID)
	assert.Equal(t, res.Message.ID, *res.Conversation.LastMessageID)

	// Second first-contact send reuses the conversation but still reports both
	// members so the caller can subscribe them.
	again, err := s.pipeline.Send(ctx, chat.SendRequest{Sender: bob, ReceiverID: alice.ID, Content: "again", TempID: "t2"}, func(_ *model.Conversation, m []model.Participant, isNew bool) {
		calls++
		created = append(created, isNew)
		assert.ElementsMatch(t, []model.Participant{alice, bob}, m)
		assert.Equal(t, 1, s.store.MessageCount())
	})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.ElementsMatch(t, []model.Participant{alice, bob}, again.Members)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []bool{true, false}, created)
	assert.Equal(t, res.Conversation.ID, again.Conversation.ID)
}

func TestSendValidation(t *testing.T) {
	s := newServices(t)
	conv := s.send(t, alice, "", bob.ID, "hello").Conversation

	tests := []struct {
		name string
		req  chat.SendRequest
		msg  string
	}{
		{"empty content", chat.SendRequest{Sender: alice, ConversationID: conv.ID, Content: "   ", TempID: "x"}, "content is required"},
		{"missing temp id", chat.SendRequest{Sender: alice, ConversationID: conv.ID, Content: "x"}, "tempId is required"},
		{"no target", chat.SendRequest{Sender: alice, Content: "x", TempID: "x"}, "conversationId or receiverId is required"},
		{"too long", chat.SendRequest{Sender: alice, ConversationID: conv.ID, Content: strings.Repeat("я", chat.DefaultMaxMessageLength+1), TempID: "x"}, "content is too long"},
		{"group without id", chat.SendRequest{Sender: alice, ReceiverID: bob.ID, Content: "x", TempID: "x", IsGroup: true}, "conversationId is required for group messages"},
		{"no sender", chat.SendRequest{ConversationID: conv.ID, Content: "x", TempID: "x"}, "sender is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.pipeline.Send(context.Background(), tt.req, nil)
			require.ErrorIs(t, err, chat.ErrValidation)
			assert.Equal(t, tt.msg, chat.PublicMessage(err))
			assert.Equal(t, "validation", chat.Code(err))
		})
	}
	assert.Equal(t, 1, s.store.MessageCount())
}

func TestSendMaxLengthCountsRunes(t *testing.T) {
	s := newServices(t)
	p := chat.NewPipeline(s.dir, s.store, 3)
	_, err := p.Send(context.Background(), chat.SendRequest{Sender: alice, ReceiverID: bob.ID, Content: "äöü", TempID: "x"}, nil)
	require.NoError(t, err)
	_, err = p.Send(context.Background(), chat.SendRequest{Sender: alice, ReceiverID: bob.ID, Content: "äöüß", TempID: "y"}, nil)
	require.ErrorIs(t, err, chat.ErrValidation)
}

func TestSendNonMemberIsRejected(t *testing.T) {
	s := newServices(t)
	conv := s.send(t, alice, "", bob.ID, "hello").Conversation

	_, err := s.pipeline.Send(context.Background(), chat.SendRequest{
		Sender: carol, ConversationID: conv.ID, Content: "intrude", TempID: "x",
	}, nil)
	require.ErrorIs(t, err, chat.ErrAuthorization)
	assert.Equal(t, 1, s.store.MessageCount())
}

func TestSendUnknownConversation(t *testing.T) {
	s := newServices(t)
	_, err := s.pipeline.Send(context.Background(), chat.SendRequest{
		Sender: alice, ConversationID: "missing", Content: "x", TempID: "x",
	}, nil)
	require.ErrorIs(t, err, chat.ErrNotFound)
	assert.Equal(t, "not_found", chat.Code(err))
}

func TestSendSameRawIDAcrossRoles(t *testing.T) {
	s := newServices(t)
	// Same id, counterpart role: a user and a trainer may share a raw id.
	res, err := s.pipeline.Send(context.Background(), chat.SendRequest{
		Sender: alice, ReceiverID: alice.ID, Content: "x", TempID: "x",
	}, nil)
	require.NoError(t, err)
	assert.True(t, res.Created)

	_, err = s.dir.CreateDirect(context.Background(), alice, alice)
	require.ErrorIs(t, err, chat.ErrValidation)
	assert.Equal(t, "cannot start a conversation with yourself", chat.PublicMessage(err))
}
