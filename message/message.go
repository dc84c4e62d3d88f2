// Package message defines the inbound message descriptor processed by the
// pipeline and the fingerprint used for duplicate detection.
package message

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message represents a single inbound message from an ingestion collaborator.
// It carries all metadata needed to route, deduplicate, and process the
// message.
type Message struct {
	// ID is the unique message identifier assigned by the source platform.
	ID string `json:"id"`
	// Channel is the logical channel the message arrived on (e.g. "telegram").
	Channel string `json:"channel"`
	// Sender identifies the message author (user ID, phone number, etc.).
	Sender string `json:"sender"`
	// Content is the message text.
	Content string `json:"content"`
	// Timestamp is when the message was sent, Unix seconds.
	Timestamp int64 `json:"timestamp"`
}

// New creates a message with a generated ID and current timestamp.
func New(channel, sender, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Channel:   channel,
		Sender:    sender,
		Content:   content,
		Timestamp: time.Now().Unix(),
	}
}

// Validate checks that required routing fields are present.
func (m Message) Validate() error {
	if m.Channel == "" {
		return ErrMissingChannel
	}
	if m.Sender == "" {
		return ErrMissingSender
	}
	return nil
}

// Fingerprint computes the deduplication key for the message: a SHA-256
// digest over the ordered components (channel, sender, content hash).
// Two messages with the same channel, sender, and content always produce
// the same fingerprint regardless of their platform IDs or timestamps.
func (m Message) Fingerprint() string {
	contentSum := sha256.Sum256([]byte(m.Content))

	var b strings.Builder
	b.WriteString(m.Channel)
	b.WriteByte(0)
	b.WriteString(m.Sender)
	b.WriteByte(0)
	b.WriteString(hex.EncodeToString(contentSum[:]))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Marshal serializes the message to JSON for transport.
func (m Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal parses a message from its JSON form.
func Unmarshal(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}
