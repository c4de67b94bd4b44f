package presence

import (
	"testing"
	"time"
)

func TestPingUpsertsSingleEntryPerUser(t *testing.T) {
	tracker := NewTracker(nil)

	tracker.Ping("alice", "alice/main.py")
	tracker.Ping("alice", "alice/util.py")
	tracker.Ping("alice", "alice/util.py")

	snapshot := tracker.Snapshot()
	if len(snapshot) != 1 {
		t.Fatalf("expected one entry per user, got %d", len(snapshot))
	}
	if snapshot["alice"] != "alice/util.py" {
		t.Fatalf("expected latest ping to win, got %s", snapshot["alice"])
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Ping("alice", "alice/main.py")

	snapshot := tracker.Snapshot()
	snapshot["alice"] = "tampered"

	if tracker.Snapshot()["alice"] != "alice/main.py" {
		t.Fatal("mutating a snapshot must not affect the tracker")
	}
}

func TestEntriesAreStickyWithoutExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	tracker := NewTracker(func() time.Time { return now })

	tracker.Ping("bob", "bob/old.txt")
	now = now.Add(24 * time.Hour)

	snapshot := tracker.Snapshot()
	if snapshot["bob"] != "bob/old.txt" {
		t.Fatal("entries must persist until overwritten")
	}
	seen, ok := tracker.LastSeen("bob")
	if !ok || seen != time.Unix(1700000000, 0).UTC() {
		t.Fatalf("expected recorded last seen time, got %v ok=%v", seen, ok)
	}
}

func TestPingIgnoresEmptyUser(t *testing.T) {
	tracker := NewTracker(nil)
	tracker.Ping("", "somewhere")
	if len(tracker.Snapshot()) != 0 {
		t.Fatal("expected empty user pings to be ignored")
	}
}
