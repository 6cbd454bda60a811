package model

import "time"

type Conversation struct {
	ID            string    `json:"id"`
	Title         *string   `json:"title,omitempty"`
	IsGroup       bool      `json:"isGroup"`
	DirectKey     *string   `json:"-"`
	LastMessageID *string   `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type ConversationParticipant struct {
	ID              string          `json:"id"`
	ConversationID  string          `json:"conversationId"`
	ParticipantID   string          `json:"participantId"`
	ParticipantType ParticipantRole `json:"participantType"`
	LastReadAt      *time.Time      `json:"lastReadAt,omitempty"`
}

func (cp ConversationParticipant) Participant() Participant {
	return Participant{ID: cp.ParticipantID, Role: cp.ParticipantType}
}

// ConversationSummary is a conversation as listed for one participant.
type ConversationSummary struct {
	Conversation Conversation              `json:"conversation"`
	Participants []ConversationParticipant `json:"participants"`
	LastMessage  *Message                  `json:"lastMessage,omitempty"`
	UnreadCount  int                       `json:"unreadCount"`
}
