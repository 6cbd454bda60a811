package chat

import (
	"context"
	"time"

	"github.com/gymhub/chat/internal/model"
	"github.com/gymhub/chat/internal/repository"
)

// Storage contracts consumed by the chat core. Implementations report a
// missing row with repository.ErrNotFound.
//
// Implementations: repository (Postgres) and storage/memory.

type ConversationStore interface {
	FindDirect(ctx context.Context, directKey string) (*model.Conversation, error)
	// CreateDirect is a single check-and-create: concurrent calls for the same
	// pair return the same conversation, and created is true for exactly one.
	CreateDirect(ctx context.Context, a, b model.Participant) (conv *model.Conversation, created bool, err error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	IsParticipant(ctx context.Context, conversationID string, p model.Participant) (bool, error)
	ListParticipants(ctx context.Context, conversationID string) ([]model.ConversationParticipant, error)
	ListConversationIDs(ctx context.Context, p model.Participant) ([]string, error)
	ListConversations(ctx context.Context, p model.Participant) ([]model.ConversationSummary, error)
}

type MessageStore interface {
	// AppendMessage stores m, assigns m.Seq and moves the conversation's
	// last-message pointer, atomically.
	AppendMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	// ListMessages returns rows in scan order: descending seq unless
	// q.AfterSeq is set, ascending otherwise.
	ListMessages(ctx context.Context, q repository.MessageQuery) ([]model.Message, error)
}

type ReceiptStore interface {
	// UpsertReceipt inserts or refreshes read_at, and advances the
	// participant's last_read_at.
	UpsertReceipt(ctx context.Context, r model.MessageReadReceipt) error
	// MarkConversationRead upserts a receipt for every message of the
	// conversation not sent by p. Returns the number of receipts written and
	// the newest message id covered.
	MarkConversationRead(ctx context.Context, conversationID string, p model.Participant, at time.Time) (int, string, error)
	UnreadCount(ctx context.Context, p model.Participant) (int, error)
}
