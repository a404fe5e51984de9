// Package bus provides publish/subscribe event delivery between
// services, either in-process or over Redis.
package bus

import (
	"time"

	"github.com/google/uuid"
)

const (
	// BroadcastChannel carries messages addressed to every service
	BroadcastChannel = "events:broadcast"

	// channelPrefix namespaces per-service channels on the broker
	channelPrefix = "events:"
)

// ChannelFor returns the broker channel for a service's targeted messages
func ChannelFor(service string) string {
	return channelPrefix + service
}

// Message is one event on the bus. Type follows the advisory
// "<domain>.<action>" convention, e.g. "task.completed".
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`           // publishing service
	Target    string         `json:"target,omitempty"` // empty = broadcast
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewMessage creates a message with a fresh ID and timestamp
func NewMessage(eventType, source, target string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Target:    target,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// IsBroadcast returns true when the message is not addressed to a
// specific service
func (m *Message) IsBroadcast() bool {
	return m.Target == ""
}
