package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/model"
	"github.com/gymhub/chat/internal/repository"
)

const DefaultMaxMessageLength = 4000

var validate = validator.New(validator.WithRequiredStructEnabled())

// SendRequest targets a conversation either by id or, for first contact, by
// the receiver's id. The receiver's role is the sender's counterpart.
type SendRequest struct {
	Sender         model.Participant
	ConversationID string `validate:"required_without=ReceiverID"`
	ReceiverID     string `validate:"required_without=ConversationID"`
	Content        string `validate:"required"`
	TempID         string `validate:"required"`
	IsGroup        bool
}

type SendResult struct {
	Message      *model.Message
	Conversation *model.Conversation
	// Created is set when this send created the conversation. Members lists
	// both participants whenever the conversation was resolved by receiverId.
	Created bool
	Members []model.Participant
}

// ResolvedFunc is invoked when a send addressed by receiverId has resolved its
// conversation, before the message is stored. created is false when the
// conversation already existed, including when a concurrent first contact won.
type ResolvedFunc func(conv *model.Conversation, members []model.Participant, created bool)

type Pipeline struct {
	dir       *Directory
	messages  MessageStore
	maxLength int
	now       func() time.Time
}

func NewPipeline(dir *Directory, messages MessageStore, maxLength int) *Pipeline {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	return &Pipeline{
		dir:       dir,
		messages:  messages,
		maxLength: maxLength,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Send validates, resolves the target conversation, and stores the message.
// Nothing is stored when an error is returned.
func (p *Pipeline) Send(ctx context.Context, req SendRequest, onResolved ResolvedFunc) (*SendResult, error) {
	defer logger.DeferLogDuration("pipeline.Send", time.Now())()
	const op = "pipeline.Send"

	req.Content = strings.TrimSpace(req.Content)
	req.TempID = strings.TrimSpace(req.TempID)
	if err := p.validate(req); err != nil {
		return nil, err
	}

	res := &SendResult{}
	switch {
	case req.ConversationID != "":
		conv, err := p.conversationFor(ctx, req.Sender, req.ConversationID)
		if err != nil {
			return nil, err
		}
		res.Conversation = conv
	case req.IsGroup:
		return nil, validationError(op, "conversationId is required for group messages")
	default:
		receiver := model.Participant{ID: req.ReceiverID, Role: req.Sender.Role.Counterpart()}
		conv, created, err := p.dir.ResolveOrCreateDirect(ctx, req.Sender, receiver)
		if err != nil {
			return nil, err
		}
		res.Conversation = conv
		res.Created = created
		res.Members = []model.Participant{req.Sender, receiver}
		if onResolved != nil {
			onResolved(conv, res.Members, created)
		}
	}

	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: res.Conversation.ID,
		SenderID:       req.Sender.ID,
		SenderType:     req.Sender.Role,
		Content:        req.Content,
		CreatedAt:      p.now(),
	}
	if err := p.messages.AppendMessage(ctx, m); err != nil {
		return nil, persistenceError(op, "failed to save message", err)
	}
	res.Conversation.LastMessageID = &m.ID
	res.Message = m
	return res, nil
}

func (p *Pipeline) validate(req SendRequest) error {
	const op = "pipeline.Send"
	if !req.Sender.Valid() {
		return validationError(op, "sender is required")
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return validationError(op, describeField(verrs[0]))
		}
		return validationError(op, "invalid message")
	}
	if utf8.RuneCountInString(req.Content) > p.maxLength {
		return validationError(op, "content is too long")
	}
	return nil
}

func (p *Pipeline) conversationFor(ctx context.Context, sender model.Participant, conversationID string) (*model.Conversation, error) {
	const op = "pipeline.Send"
	conv, err := p.dir.store.GetConversation(ctx, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError(op, "conversation not found")
	}
	if err != nil {
		return nil, persistenceError(op, "failed to load conversation", err)
	}
	if err := p.dir.RequireParticipation(ctx, sender, conversationID, op); err != nil {
		return nil, err
	}
	return conv, nil
}

func describeField(fe validator.FieldError) string {
	switch fe.Field() {
	case "Content":
		return "content is required"
	case "TempID":
		return "tempId is required"
	case "ConversationID", "ReceiverID":
		return "conversationId or receiverId is required"
	default:
		return strings.ToLower(fe.Field()) + " is invalid"
	}
}
