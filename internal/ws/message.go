package ws

import (
	"github.com/gymhub/chat/internal/model"
)

type EventType string

// Inbound events.
const (
	EventJoinConversation  EventType = "joinConversation"
	EventLeaveConversation EventType = "leaveConversation"
	EventSendMessage       EventType = "sendMessage"
	EventTyping            EventType = "typing"
	EventMarkMessageRead   EventType = "markMessageRead"
	EventMarkAllRead       EventType = "markAllRead"
	EventGetRoomMembers    EventType = "getRoomMembers"
)

// Outbound events.
const (
	EventConnected           EventType = "connected"
	EventJoinedConversation  EventType = "joinedConversation"
	EventLeftConversation    EventType = "leftConversation"
	EventMessageSent         EventType = "messageSent"
	EventNewMessage          EventType = "newMessage"
	EventConversationCreated EventType = "conversationCreated"
	EventConversationTyping  EventType = "conversation:typing"
	EventMarkReadAck         EventType = "markReadAck"
	EventMessageRead         EventType = "messageRead"
	EventRoomMembers         EventType = "roomMembers"
	EventUserStatus          EventType = "userStatus"
	EventError               EventType = "error"
)

// IncomingMessage is what the client sends to the server. Fields are shared
// across event types; each handler validates the subset it needs.
type IncomingMessage struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversationId,omitempty"`
	Content        string    `json:"content,omitempty"`
	TempID         string    `json:"tempId,omitempty"`
	ReceiverID     string    `json:"receiverId,omitempty"`
	IsGroup        bool      `json:"isGroup,omitempty"`
	IsTyping       *bool     `json:"isTyping,omitempty"`
	MessageID      string    `json:"messageId,omitempty"`

	// Sent by clients but ignored: the authenticated identity is used instead.
	SenderType string `json:"senderType,omitempty"`
	UserID     string `json:"userId,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// --- Typed payloads ---

type ConnectedPayload struct {
	ParticipantID   string                `json:"participantId"`
	ParticipantType model.ParticipantRole `json:"participantType"`
}

// ConversationPayload carries only a conversation id (joined, left, created).
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// MessageSentPayload acknowledges a sendMessage to its originating connection.
type MessageSentPayload struct {
	Success bool           `json:"success"`
	TempID  string         `json:"tempId"`
	Message *model.Message `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    string         `json:"code,omitempty"`
}

type TypingPayload struct {
	UserID         string                `json:"userId"`
	SenderType     model.ParticipantRole `json:"senderType"`
	IsTyping       bool                  `json:"isTyping"`
	ConversationID string                `json:"conversationId"`
}

type MarkReadAckPayload struct {
	Success        bool   `json:"success"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId,omitempty"`
	Count          *int   `json:"count,omitempty"`
	Error          string `json:"error,omitempty"`
	Code           string `json:"code,omitempty"`
}

// MessageReadPayload is fanned out after a successful mark. All is set when
// every message up to MessageID was marked at once.
type MessageReadPayload struct {
	MessageID       string                `json:"messageId"`
	UserID          string                `json:"userId"`
	ParticipantType model.ParticipantRole `json:"participantType"`
	ConversationID  string                `json:"conversationId"`
	All             bool                  `json:"all,omitempty"`
}

type UserStatusPayload struct {
	UserID          string                `json:"userId"`
	ParticipantType model.ParticipantRole `json:"participantType"`
	Status          model.PresenceStatus  `json:"status"`
}

type RoomMember struct {
	ParticipantID   string                `json:"participantId"`
	ParticipantType model.ParticipantRole `json:"participantType"`
	Connections     int                   `json:"connections"`
}

type RoomMembersPayload struct {
	ConversationID string       `json:"conversationId"`
	Members        []RoomMember `json:"members"`
}

// ErrorPayload is a scoped error: only the triggering connection receives it.
type ErrorPayload struct {
	Event          EventType `json:"event,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Message        string    `json:"message"`
	Code           string    `json:"code"`
}
