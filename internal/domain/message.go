package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeliveryState tracks a message's lifecycle above the cipher layer.
type DeliveryState string

const (
	DeliverySending   DeliveryState = "sending"
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
	DeliveryFailed    DeliveryState = "failed"
)

// MessageType is the logical content type of a chat message.
type MessageType string

const (
	MessageText       MessageType = "text"
	MessageAttachment MessageType = "attachment"
)

// Message is the logical chat message whose ciphertext payload is the wire
// envelope. Created at send time in state sending; advances as
// acknowledgements arrive, or terminates at failed.
type Message struct {
	ID        string            `json:"id"`
	ChatID    string            `json:"chat_id"`
	SenderID  string            `json:"sender_id"`
	Timestamp int64             `json:"timestamp"` // unix millis
	Type      MessageType       `json:"type"`
	State     DeliveryState     `json:"state"`
	Reactions map[string]string `json:"reactions,omitempty"` // userID -> emoji
}

// NewOutgoingMessage creates a message in the sending state.
func NewOutgoingMessage(chatID, senderID string, typ MessageType) Message {
	return Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  senderID,
		Timestamp: time.Now().UnixMilli(),
		Type:      typ,
		State:     DeliverySending,
	}
}

// Advance moves the message to next, enforcing the
// sending -> sent -> delivered -> read ordering. Failed is terminal and only
// reachable from sending.
func (m *Message) Advance(next DeliveryState) error {
	allowed := map[DeliveryState][]DeliveryState{
		DeliverySending:   {DeliverySent, DeliveryFailed},
		DeliverySent:      {DeliveryDelivered},
		DeliveryDelivered: {DeliveryRead},
	}
	for _, s := range allowed[m.State] {
		if s == next {
			m.State = next
			return nil
		}
	}
	return fmt.Errorf("illegal delivery transition %s -> %s", m.State, next)
}

// React records (or replaces) one user's reaction.
func (m *Message) React(userID, emoji string) {
	if m.Reactions == nil {
		m.Reactions = make(map[string]string)
	}
	m.Reactions[userID] = emoji
}
