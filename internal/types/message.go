package types

import (
	"time"

	"github.com/google/uuid"
)

// PostFn hands an inbound message over to its consumer.
type PostFn = func(msg Message)

// Message is the envelope exchanged with vehicles. Message holds one of the
// payload types in messages.go, or Raw for kinds the station does not model.
type Message struct {
	Timestamp   time.Time   `json:"timestamp"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	ID          string      `json:"id"`
	MessageType string      `json:"message_type"`
	Message     interface{} `json:"message"`
}

// CreateMessage builds an outbound envelope with a fresh id.
func CreateMessage(messageType, from, to string, message interface{}) Message {
	return Message{
		time.Now().UTC(),
		from,
		to,
		uuid.New().String(),
		messageType,
		message,
	}
}
