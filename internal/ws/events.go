package ws

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/gymhub/chat/internal/chat"
	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/metrics"
	"github.com/gymhub/chat/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type conversationRef struct {
	ConversationID string `validate:"required"`
}

type typingRequest struct {
	ConversationID string `validate:"required"`
	IsTyping       *bool  `validate:"required"`
}

type markReadRequest struct {
	ConversationID string `validate:"required"`
	MessageID      string `validate:"required"`
}

var errUnknownEvent = errors.New("unknown event type")

// answered marks a failure the handler has already reported to the client in
// its own ack event; it only feeds the outcome metric.
type answered struct{ error }

func (a answered) Unwrap() error { return a.error }

// HandleMessage dispatches incoming WebSocket messages. A panic in a handler
// is logged and reported to this connection only.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			logger.Errorf("ws handler panic event=%s %s: %v\n%s", msg.Type, c.participant.Key(), r, debug.Stack())
			c.enqueue(OutgoingMessage{Type: EventError, Payload: ErrorPayload{
				Event:   msg.Type,
				Message: "internal error",
				Code:    "internal",
			}})
		}
		metrics.WSEvents.WithLabelValues(string(msg.Type), outcome).Inc()
	}()

	var err error
	switch msg.Type {
	case EventJoinConversation:
		err = h.handleJoin(ctx, c, msg)
	case EventLeaveConversation:
		err = h.handleLeave(c, msg)
	case EventSendMessage:
		err = h.handleSendMessage(ctx, c, msg)
	case EventTyping:
		err = h.handleTyping(ctx, c, msg)
	case EventMarkMessageRead:
		err = h.handleMarkRead(ctx, c, msg)
	case EventMarkAllRead:
		err = h.handleMarkAllRead(ctx, c, msg)
	case EventGetRoomMembers:
		if !h.debugRooms {
			err = errUnknownEvent
			break
		}
		err = h.handleRoomMembers(ctx, c, msg)
	default:
		err = errUnknownEvent
	}
	if err == nil {
		return
	}
	outcome = chat.Code(err)
	if _, ok := err.(answered); ok {
		return
	}
	if errors.Is(err, errUnknownEvent) {
		outcome = "unknown"
		c.enqueue(OutgoingMessage{Type: EventError, Payload: ErrorPayload{
			Event:   msg.Type,
			Message: errUnknownEvent.Error(),
			Code:    "validation",
		}})
		return
	}
	h.sendError(c, msg.Type, msg.ConversationID, err)
}

// invalid maps a validator failure to a chat ValidationError.
func invalid(ev EventType, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		field := verrs[0].Field()
		return &chat.Error{Kind: chat.ErrValidation, Op: "ws." + string(ev), Msg: lowerFirst(field) + " is required"}
	}
	return &chat.Error{Kind: chat.ErrValidation, Op: "ws." + string(ev), Msg: "invalid payload"}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}

// handleJoin transitions Joined(S) -> Joined(S ∪ {id}) after a membership check.
func (h *Hub) handleJoin(ctx context.Context, c *Client, msg IncomingMessage) error {
	defer logger.DeferLogDuration("ws.handleJoin", time.Now())()
	if err := validate.Struct(conversationRef{ConversationID: msg.ConversationID}); err != nil {
		return invalid(msg.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	if err := h.dir.RequireParticipation(ctx, c.participant, msg.ConversationID, "ws.joinConversation"); err != nil {
		return err
	}
	h.bc.Join(msg.ConversationID, c)
	c.enqueue(OutgoingMessage{Type: EventJoinedConversation, Payload: ConversationPayload{ConversationID: msg.ConversationID}})
	return nil
}

func (h *Hub) handleLeave(c *Client, msg IncomingMessage) error {
	if err := validate.Struct(conversationRef{ConversationID: msg.ConversationID}); err != nil {
		return invalid(msg.Type, err)
	}
	h.bc.Leave(msg.ConversationID, c)
	c.enqueue(OutgoingMessage{Type: EventLeftConversation, Payload: ConversationPayload{ConversationID: msg.ConversationID}})
	return nil
}

// handleSendMessage runs the message pipeline. Failures are reported through
// messageSent{success:false} with the tempId preserved, never as a broadcast.
func (h *Hub) handleSendMessage(ctx context.Context, c *Client, msg IncomingMessage) error {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	res, err := h.pipeline.Send(ctx, chat.SendRequest{
		Sender:         c.participant,
		ConversationID: msg.ConversationID,
		ReceiverID:     msg.ReceiverID,
		Content:        msg.Content,
		TempID:         msg.TempID,
		IsGroup:        msg.IsGroup,
	}, func(conv *model.Conversation, members []model.Participant, created bool) {
		h.subscribeDirect(conv, members, c, created)
	})
	if err != nil {
		if errors.Is(err, chat.ErrPersistence) {
			logger.Errorf("ws sendMessage %s tempId=%s: %v", c.participant.Key(), msg.TempID, err)
		}
		c.enqueue(OutgoingMessage{Type: EventMessageSent, Payload: MessageSentPayload{
			Success: false,
			TempID:  msg.TempID,
			Error:   chat.PublicMessage(err),
			Code:    chat.Code(err),
		}})
		return answered{err}
	}

	metrics.MessagesSent.WithLabelValues(string(c.participant.Role)).Inc()
	c.enqueue(OutgoingMessage{Type: EventMessageSent, Payload: MessageSentPayload{
		Success: true,
		TempID:  msg.TempID,
		Message: res.Message,
	}})
	h.bc.Deliver(res.Conversation.ID, OutgoingMessage{Type: EventNewMessage, Payload: res.Message}, c)
	return nil
}

// handleTyping relays an ephemeral typing signal to the room. None of the
// typist's own connections receive it.
func (h *Hub) handleTyping(ctx context.Context, c *Client, msg IncomingMessage) error {
	req := typingRequest{ConversationID: msg.ConversationID, IsTyping: msg.IsTyping}
	if err := validate.Struct(req); err != nil {
		return invalid(msg.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	if err := h.dir.RequireParticipation(ctx, c.participant, msg.ConversationID, "ws.typing"); err != nil {
		return err
	}
	self := c.participant.Key()
	h.bc.DeliverFunc(msg.ConversationID, OutgoingMessage{Type: EventConversationTyping, Payload: TypingPayload{
		UserID:         c.participant.ID,
		SenderType:     c.participant.Role,
		IsTyping:       *msg.IsTyping,
		ConversationID: msg.ConversationID,
	}}, func(other *Client) bool { return other.participant.Key() == self })
	return nil
}

func (h *Hub) handleMarkRead(ctx context.Context, c *Client, msg IncomingMessage) error {
	defer logger.DeferLogDuration("ws.handleMarkRead", time.Now())()
	ack := MarkReadAckPayload{ConversationID: msg.ConversationID, MessageID: msg.MessageID}
	if err := validate.Struct(markReadRequest{ConversationID: msg.ConversationID, MessageID: msg.MessageID}); err != nil {
		return h.ackReadFailure(c, ack, invalid(msg.Type, err))
	}
	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	if _, err := h.receipts.MarkRead(ctx, msg.ConversationID, msg.MessageID, c.participant); err != nil {
		return h.ackReadFailure(c, ack, err)
	}
	ack.Success = true
	c.enqueue(OutgoingMessage{Type: EventMarkReadAck, Payload: ack})
	h.NotifyRead(msg.ConversationID, msg.MessageID, c.participant, false)
	return nil
}

func (h *Hub) handleMarkAllRead(ctx context.Context, c *Client, msg IncomingMessage) error {
	defer logger.DeferLogDuration("ws.handleMarkAllRead", time.Now())()
	ack := MarkReadAckPayload{ConversationID: msg.ConversationID}
	if err := validate.Struct(conversationRef{ConversationID: msg.ConversationID}); err != nil {
		return h.ackReadFailure(c, ack, invalid(msg.Type, err))
	}
	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()

	n, last, err := h.receipts.MarkAllRead(ctx, msg.ConversationID, c.participant)
	if err != nil {
		return h.ackReadFailure(c, ack, err)
	}
	ack.Success = true
	ack.Count = &n
	ack.MessageID = last
	c.enqueue(OutgoingMessage{Type: EventMarkReadAck, Payload: ack})
	if n > 0 {
		h.NotifyRead(msg.ConversationID, last, c.participant, true)
	}
	return nil
}

func (h *Hub) ackReadFailure(c *Client, ack MarkReadAckPayload, err error) error {
	if errors.Is(err, chat.ErrPersistence) {
		logger.Errorf("ws markRead %s conversation=%s: %v", c.participant.Key(), ack.ConversationID, err)
	}
	ack.Success = false
	ack.Error = chat.PublicMessage(err)
	ack.Code = chat.Code(err)
	c.enqueue(OutgoingMessage{Type: EventMarkReadAck, Payload: ack})
	return answered{err}
}

// handleRoomMembers is a debug aid; it is only dispatched with DEBUG_ROOMS on.
func (h *Hub) handleRoomMembers(ctx context.Context, c *Client, msg IncomingMessage) error {
	if err := validate.Struct(conversationRef{ConversationID: msg.ConversationID}); err != nil {
		return invalid(msg.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	if err := h.dir.RequireParticipation(ctx, c.participant, msg.ConversationID, "ws.getRoomMembers"); err != nil {
		return err
	}
	members := h.RoomMembers(msg.ConversationID)
	logger.Debugf("ws room %s members=%s", msg.ConversationID, fmt.Sprint(members))
	c.enqueue(OutgoingMessage{Type: EventRoomMembers, Payload: RoomMembersPayload{
		ConversationID: msg.ConversationID,
		Members:        members,
	}})
	return nil
}
