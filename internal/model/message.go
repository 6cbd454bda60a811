package model

import "time"

// Message is immutable once stored. Seq orders messages of the whole table and
// is the pagination key.
type Message struct {
	ID             string          `json:"id"`
	Seq            int64           `json:"seq"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	SenderType     ParticipantRole `json:"senderType"`
	Content        string          `json:"content"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (m *Message) Sender() Participant {
	return Participant{ID: m.SenderID, Role: m.SenderType}
}

// MessageReadReceipt is unique per (MessageID, ParticipantID, ParticipantType).
type MessageReadReceipt struct {
	MessageID       string          `json:"messageId"`
	ParticipantID   string          `json:"participantId"`
	ParticipantType ParticipantRole `json:"participantType"`
	ReadAt          time.Time       `json:"readAt"`
}

// PresenceStatus is the wire value of userStatus events.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// Presence is the mirrored presence of one participant. LastSeenAt is set
// once the participant has gone offline at least once.
type Presence struct {
	ParticipantID string          `json:"participantId"`
	Role          ParticipantRole `json:"participantType"`
	Status        PresenceStatus  `json:"status"`
	LastSeenAt    *time.Time      `json:"lastSeenAt,omitempty"`
}
