// Package presence tracks which file each connected participant currently
// has open. Entries are sticky: a user who disconnects stays in the map
// until a future ping overwrites the entry. There is deliberately no TTL.
package presence

import (
	"sync"
	"time"
)

// Tracker is the server-held user→file mapping.
type Tracker struct {
	mu       sync.Mutex
	files    map[string]string
	lastSeen map[string]time.Time
	clock    func() time.Time
}

// NewTracker constructs an empty tracker.
func NewTracker(clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		files:    make(map[string]string),
		lastSeen: make(map[string]time.Time),
		clock:    clock,
	}
}

// Ping upserts the entry for user. Repeated pings collapse to one entry.
func (t *Tracker) Ping(user, file string) {
	if user == "" {
		return
	}
	t.mu.Lock()
	t.files[user] = file
	t.lastSeen[user] = t.clock().UTC()
	t.mu.Unlock()
}

// Snapshot returns a copy of the full presence map, the payload broadcast
// on the presence topic after every ping.
func (t *Tracker) Snapshot() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := make(map[string]string, len(t.files))
	for user, file := range t.files {
		snapshot[user] = file
	}
	return snapshot
}

// LastSeen reports when the user last pinged. Kept so an eviction policy
// can be added without a wire change; nothing reads it yet.
func (t *Tracker) LastSeen(user string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen, ok := t.lastSeen[user]
	return seen, ok
}
