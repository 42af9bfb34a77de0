package broker

import (
	"time"

	"github.com/google/uuid"

	ecerrors "github.com/randalmurphal/eventcore/pkg/eventcore/errors"
)

// DefaultTTLSeconds is the default message time-to-live.
const DefaultTTLSeconds = 300

// Message is a point-to-point payload exchanged through the Broker.
type Message struct {
	// ID uniquely identifies the message. Generated if not supplied.
	ID string `json:"id"`

	// SenderID names the sending node. Filled with the broker's node id
	// on send when absent.
	SenderID string `json:"sender_id"`

	// ReceiverID names the destination node. Required.
	ReceiverID string `json:"receiver_id"`

	// Type classifies the message.
	Type string `json:"type"`

	// Payload carries the message data.
	Payload map[string]any `json:"payload"`

	// Timestamp is the creation time.
	Timestamp time.Time `json:"timestamp"`

	// TTLSeconds is the declared time-to-live. Carried but not
	// enforced: history entries age out by capacity eviction only.
	// Reserved for a future expiry sweep.
	TTLSeconds int `json:"time_to_live"`

	// Encrypted flags the payload as encrypted by an external
	// collaborator. No cryptographic operation happens here.
	Encrypted bool `json:"encrypted"`
}

// MessageOption configures message creation.
type MessageOption func(*Message)

// WithMessageID sets a specific message ID.
func WithMessageID(id string) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

// WithSender sets the sending node id.
func WithSender(senderID string) MessageOption {
	return func(m *Message) {
		m.SenderID = senderID
	}
}

// WithMessagePayload sets the payload.
func WithMessagePayload(payload map[string]any) MessageOption {
	return func(m *Message) {
		m.Payload = payload
	}
}

// WithMessageTimestamp sets a specific timestamp.
func WithMessageTimestamp(t time.Time) MessageOption {
	return func(m *Message) {
		m.Timestamp = t
	}
}

// WithTTL sets the declared time-to-live in seconds.
func WithTTL(seconds int) MessageOption {
	return func(m *Message) {
		m.TTLSeconds = seconds
	}
}

// AsEncrypted flags the payload as externally encrypted.
func AsEncrypted() MessageOption {
	return func(m *Message) {
		m.Encrypted = true
	}
}

// NewMessage creates a message addressed to receiverID.
func NewMessage(receiverID, msgType string, opts ...MessageOption) (*Message, error) {
	if receiverID == "" {
		return nil, &ecerrors.ValidationError{Field: "receiver_id", Message: "message receiver cannot be empty"}
	}

	m := &Message{
		ID:         uuid.NewString(),
		ReceiverID: receiverID,
		Type:       msgType,
		Payload:    map[string]any{},
		Timestamp:  time.Now(),
		TTLSeconds: DefaultTTLSeconds,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}
