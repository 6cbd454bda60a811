package chat

import (
	"context"
	"errors"
	"time"

	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/model"
	"github.com/gymhub/chat/internal/repository"
)

// Receipts tracks per-(message, participant) read state.
type Receipts struct {
	dir      *Directory
	messages MessageStore
	receipts ReceiptStore
	now      func() time.Time
}

func NewReceipts(dir *Directory, messages MessageStore, receipts ReceiptStore) *Receipts {
	return &Receipts{
		dir:      dir,
		messages: messages,
		receipts: receipts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// MarkRead records that p has read messageID. Repeating the call only
// refreshes the receipt's read time.
func (r *Receipts) MarkRead(ctx context.Context, conversationID, messageID string, p model.Participant) (*model.MessageReadReceipt, error) {
	defer logger.DeferLogDuration("receipts.MarkRead", time.Now())()
	const op = "receipts.MarkRead"
	if messageID == "" {
		return nil, validationError(op, "messageId is required")
	}
	if err := r.dir.RequireParticipation(ctx, p, conversationID, op); err != nil {
		return nil, err
	}

	msg, err := r.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && msg.ConversationID != conversationID) {
		return nil, notFoundError(op, "message not found")
	}
	if err != nil {
		return nil, persistenceError(op, "failed to load message", err)
	}

	receipt := model.MessageReadReceipt{
		MessageID:       messageID,
		ParticipantID:   p.ID,
		ParticipantType: p.Role,
		ReadAt:          r.now(),
	}
	if err := r.receipts.UpsertReceipt(ctx, receipt); err != nil {
		return nil, persistenceError(op, "failed to mark message read", err)
	}
	return &receipt, nil
}

// MarkAllRead marks every message of the conversation not sent by p as read.
// It returns the number of receipts written and the newest message covered.
func (r *Receipts) MarkAllRead(ctx context.Context, conversationID string, p model.Participant) (int, string, error) {
	defer logger.DeferLogDuration("receipts.MarkAllRead", time.Now())()
	const op = "receipts.MarkAllRead"
	if err := r.dir.RequireParticipation(ctx, p, conversationID, op); err != nil {
		return 0, "", err
	}
	n, last, err := r.receipts.MarkConversationRead(ctx, conversationID, p, r.now())
	if err != nil {
		return 0, "", persistenceError(op, "failed to mark conversation read", err)
	}
	return n, last, nil
}

// UnreadCount counts messages in all of p's conversations that p did not
// send and has no receipt for.
func (r *Receipts) UnreadCount(ctx context.Context, p model.Participant) (int, error) {
	if !p.Valid() {
		return 0, validationError("receipts.UnreadCount", "participant is required")
	}
	n, err := r.receipts.UnreadCount(ctx, p)
	if err != nil {
		return 0, persistenceError("receipts.UnreadCount", "failed to count unread messages", err)
	}
	return max(n, 0), nil
}
