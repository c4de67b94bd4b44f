// Package chat stamps and relays workspace chat messages. The relay never
// inspects content; admin authorship is marked by a content prefix applied
// by the sending client, and renderers detect it by string prefix.
package chat

import (
	"strings"
	"time"
)

// AdminPrefix marks admin-authored messages at send time.
const AdminPrefix = "[ADMIN] "

const timestampLayout = "15:04"

// Message is one chat entry broadcast on the public topic.
type Message struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Relay assigns server timestamps to outbound messages.
type Relay struct {
	clock func() time.Time
}

// NewRelay constructs a relay with the provided clock.
func NewRelay(clock func() time.Time) *Relay {
	if clock == nil {
		clock = time.Now
	}
	return &Relay{clock: clock}
}

// Stamp assigns the server HH:mm timestamp, replacing any client value.
func (r *Relay) Stamp(message Message) Message {
	message.Timestamp = r.clock().Format(timestampLayout)
	return message
}

// IsAdminAuthored reports whether the message content carries the admin marker.
func IsAdminAuthored(content string) bool {
	return strings.HasPrefix(content, AdminPrefix)
}
