package chat

import (
	"testing"
	"time"
)

func TestStampAssignsServerTimestamp(t *testing.T) {
	relay := NewRelay(func() time.Time {
		return time.Date(2026, 9, 1, 14, 7, 33, 0, time.UTC)
	})

	stamped := relay.Stamp(Message{Sender: "alice", Content: "hello", Timestamp: "spoofed"})
	if stamped.Timestamp != "14:07" {
		t.Fatalf("expected server HH:mm stamp, got %q", stamped.Timestamp)
	}
	if stamped.Sender != "alice" || stamped.Content != "hello" {
		t.Fatal("stamping must not alter sender or content")
	}
}

func TestIsAdminAuthored(t *testing.T) {
	if !IsAdminAuthored(AdminPrefix + "maintenance at noon") {
		t.Fatal("expected prefixed content to be detected")
	}
	if IsAdminAuthored("regular message mentioning [ADMIN] later") {
		t.Fatal("marker must be a prefix, not a substring")
	}
}
