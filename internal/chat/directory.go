package chat

import (
	"context"
	"errors"
	"time"

	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/model"
	"github.com/gymhub/chat/internal/repository"
)

// Directory resolves direct conversations and answers membership questions.
type Directory struct {
	store ConversationStore
}

func NewDirectory(store ConversationStore) *Directory {
	return &Directory{store: store}
}

// FindDirect looks up the direct conversation of the unordered pair (a, b).
func (d *Directory) FindDirect(ctx context.Context, a, b model.Participant) (*model.Conversation, error) {
	const op = "directory.FindDirect"
	if err := checkPair(op, a, b); err != nil {
		return nil, err
	}
	conv, err := d.store.FindDirect(ctx, model.DirectKey(a, b))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError(op, "conversation not found")
	}
	if err != nil {
		return nil, persistenceError(op, "failed to look up conversation", err)
	}
	return conv, nil
}

// CreateDirect creates the conversation and both participant rows. If the
// pair already has a conversation it is returned instead.
func (d *Directory) CreateDirect(ctx context.Context, a, b model.Participant) (*model.Conversation, error) {
	conv, _, err := d.createDirect(ctx, a, b)
	return conv, err
}

func (d *Directory) createDirect(ctx context.Context, a, b model.Participant) (*model.Conversation, bool, error) {
	const op = "directory.CreateDirect"
	if err := checkPair(op, a, b); err != nil {
		return nil, false, err
	}
	conv, created, err := d.store.CreateDirect(ctx, a, b)
	if err != nil {
		return nil, false, persistenceError(op, "failed to create conversation", err)
	}
	if created {
		logger.Infof("conversation created id=%s pair=%s", conv.ID, model.DirectKey(a, b))
	}
	return conv, created, nil
}

// ResolveOrCreateDirect returns the pair's conversation, creating it on first
// contact. created reports whether this call created it.
func (d *Directory) ResolveOrCreateDirect(ctx context.Context, a, b model.Participant) (*model.Conversation, bool, error) {
	defer logger.DeferLogDuration("directory.ResolveOrCreateDirect", time.Now())()
	conv, err := d.FindDirect(ctx, a, b)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	return d.createDirect(ctx, a, b)
}

// VerifyParticipation reports membership. Not being a member is not an error.
func (d *Directory) VerifyParticipation(ctx context.Context, p model.Participant, conversationID string) (bool, error) {
	if conversationID == "" || !p.Valid() {
		return false, nil
	}
	ok, err := d.store.IsParticipant(ctx, conversationID, p)
	if err != nil {
		return false, persistenceError("directory.VerifyParticipation", "failed to check membership", err)
	}
	return ok, nil
}

// RequireParticipation turns a failed membership check into an AuthorizationError.
func (d *Directory) RequireParticipation(ctx context.Context, p model.Participant, conversationID, op string) error {
	if conversationID == "" {
		return validationError(op, "conversationId is required")
	}
	ok, err := d.VerifyParticipation(ctx, p, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		return authorizationError(op)
	}
	return nil
}

func (d *Directory) ListConversationIDs(ctx context.Context, p model.Participant) ([]string, error) {
	ids, err := d.store.ListConversationIDs(ctx, p)
	if err != nil {
		return nil, persistenceError("directory.ListConversationIDs", "failed to list conversations", err)
	}
	return ids, nil
}

func (d *Directory) ListConversations(ctx context.Context, p model.Participant) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("directory.ListConversations", time.Now())()
	list, err := d.store.ListConversations(ctx, p)
	if err != nil {
		return nil, persistenceError("directory.ListConversations", "failed to list conversations", err)
	}
	return list, nil
}

// Participants returns the members of a conversation.
func (d *Directory) Participants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	rows, err := d.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, persistenceError("directory.Participants", "failed to list participants", err)
	}
	out := make([]model.Participant, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Participant())
	}
	return out, nil
}

func checkPair(op string, a, b model.Participant) error {
	if !a.Valid() || !b.Valid() {
		return validationError(op, "both participants are required")
	}
	if a.Key() == b.Key() {
		return validationError(op, "cannot start a conversation with yourself")
	}
	return nil
}
