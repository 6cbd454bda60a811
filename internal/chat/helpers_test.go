package chat_test

import (
	"context"
	"testing"

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

type services struct {
	store    *memory.ChatStore
	dir      *chat.Directory
	pipeline *chat.Pipeline
	receipts *chat.Receipts
	history  *chat.History
}

func newServices(t *testing.T) *services {
	t.Helper()
	store := memory.NewChatStore()
	dir := chat.NewDirectory(store)
	return &services{
		store:    store,
		dir:      dir,
		pipeline: chat.NewPipeline(dir, store, 0),
		receipts: chat.NewReceipts(dir, store, store),
		history:  chat.NewHistory(dir, store),
	}
}

// send posts content into conversationID (or starts one with receiver when
// conversationID is empty) and fails the test on error.
func (s *services) send(t *testing.T, from model.Participant, conversationID, receiverID, content string) *chat.SendResult {
	t.Helper()
	res, err := s.pipeline.Send(context.Background(), chat.SendRequest{
		Sender:         from,
		ConversationID: conversationID,
		ReceiverID:     receiverID,
		Content:        content,
		TempID:         "tmp-" + content,
	}, nil)
	require.NoError(t, err)
	return res
}
