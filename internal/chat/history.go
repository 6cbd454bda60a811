package chat

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/model"
	"github.com/gymhub/chat/internal/repository"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Cursor selects a window of a conversation's history. Before pages towards
// older messages, After towards newer ones; with neither set the newest page
// is returned. Both are message ids.
type Cursor struct {
	Before string
	After  string
	Limit  int
}

// Page holds messages in ascending order. HasMore reports whether further
// messages exist in the paging direction.
type Page struct {
	Messages []model.Message `json:"messages"`
	HasMore  bool            `json:"hasMore"`
}

type History struct {
	dir      *Directory
	messages MessageStore
}

func NewHistory(dir *Directory, messages MessageStore) *History {
	return &History{dir: dir, messages: messages}
}

// Page returns one window of history. A cursor id that does not name a
// message of this conversation is a NotFoundError.
func (h *History) Page(ctx context.Context, p model.Participant, conversationID string, cur Cursor) (*Page, error) {
	defer logger.DeferLogDuration("history.Page", time.Now())()
	const op = "history.Page"
	if cur.Before != "" && cur.After != "" {
		return nil, validationError(op, "before and after are mutually exclusive")
	}
	if err := h.dir.RequireParticipation(ctx, p, conversationID, op); err != nil {
		return nil, err
	}

	limit := cur.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	q := repository.MessageQuery{ConversationID: conversationID, Limit: limit + 1}
	switch {
	case cur.Before != "":
		seq, err := h.boundary(ctx, conversationID, cur.Before)
		if err != nil {
			return nil, err
		}
		q.BeforeSeq = seq
	case cur.After != "":
		seq, err := h.boundary(ctx, conversationID, cur.After)
		if err != nil {
			return nil, err
		}
		q.AfterSeq = seq
	}

	rows, err := h.messages.ListMessages(ctx, q)
	if err != nil {
		return nil, persistenceError(op, "failed to load messages", err)
	}

	page := &Page{HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}
	if q.AfterSeq == 0 {
		slices.Reverse(rows)
	}
	page.Messages = rows
	return page, nil
}

func (h *History) boundary(ctx context.Context, conversationID, messageID string) (int64, error) {
	m, err := h.messages.GetMessage(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && m.ConversationID != conversationID) {
		return 0, notFoundError("history.Page", "cursor message not found")
	}
	if err != nil {
		return 0, persistenceError("history.Page", "failed to resolve cursor", err)
	}
	return m.Seq, nil
}
