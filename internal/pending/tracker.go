// Package pending tracks locally-composed messages through their send
// lifecycle until the reconciliation engine retires them in favor of a
// server-confirmed counterpart.
package pending

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is a pending message lifecycle state.
type State string

const (
	StateSending State = "sending"
	StateSent    State = "sent"
	StateFailed  State = "failed"
)

// Message is a locally-originated message not yet confirmed by the server.
type Message struct {
	// LocalID is client-generated and never collides with the server's
	// 24-hex ID format (see NewLocalID).
	LocalID       string
	ThreadID      string
	Body          string
	Kind          string
	AttachmentURL string
	CreatedAt     int64 // client clock, unix ms
	State         State
	// ServerID is the match key recorded on confirmation.
	ServerID string
	// Progress is the upload fraction in [0,1] for attachment sends.
	Progress float64
}

// NewLocalID returns a fresh client-local message ID. The "local-" prefix plus
// dashed UUID form is disjoint from the server's 24-hex-character IDs.
func NewLocalID() string {
	return "local-" + uuid.New().String()
}

// Tracker is the in-memory registry of pending messages. All methods are safe
// for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*Message // by local ID, retired entries removed
	now     func() int64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]*Message),
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// SetClock overrides the creation timestamp source. Tests pin it for
// deterministic ordering.
func (t *Tracker) SetClock(now func() int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Create registers a new pending message in the Sending state and returns a
// copy of it. Concurrent creates never collide in local ID space.
func (t *Tracker) Create(threadID, body, kind string) Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := &Message{
		LocalID:   NewLocalID(),
		ThreadID:  threadID,
		Body:      body,
		Kind:      kind,
		CreatedAt: t.now(),
		State:     StateSending,
	}
	t.entries[m.LocalID] = m
	return *m
}

// Get returns a copy of the entry with the given local ID.
func (t *Tracker) Get(localID string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.entries[localID]
	if !ok {
		return Message{}, false
	}
	return *m, true
}

// MarkSent transitions Sending → Sent and records the server ID as the match
// key. Idempotent: calling it on an already-terminal or retired entry is a
// no-op.
func (t *Tracker) MarkSent(localID, serverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.entries[localID]
	if !ok || m.State != StateSending {
		return
	}
	m.State = StateSent
	m.ServerID = serverID
}

// MarkFailed transitions Sending → Failed. Failed entries stay visible until
// retried or dismissed so the user can see the failure.
func (t *Tracker) MarkFailed(localID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.entries[localID]
	if !ok || m.State != StateSending {
		return
	}
	m.State = StateFailed
	m.Progress = 0
}

// Retry resets a Failed entry to Sending for a fresh send attempt with the
// same local ID and content. Only legal from Failed.
func (t *Tracker) Retry(localID string) (Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.entries[localID]
	if !ok {
		return Message{}, fmt.Errorf("retry %s: no such pending message", localID)
	}
	if m.State != StateFailed {
		return Message{}, fmt.Errorf("retry %s: state is %s, want %s", localID, m.State, StateFailed)
	}
	m.State = StateSending
	return *m, nil
}

// SetProgress records the upload fraction for an in-flight attachment send.
func (t *Tracker) SetProgress(localID string, fraction float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.entries[localID]
	if !ok || m.State != StateSending {
		return
	}
	m.Progress = fraction
}

// EntriesFor returns copies of all non-retired entries for a thread, ordered
// by creation time then local ID.
func (t *Tracker) EntriesFor(threadID string) []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Message
	for _, m := range t.entries {
		if m.ThreadID == threadID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].LocalID < out[j].LocalID
	})
	return out
}

// Unsent returns copies of every entry awaiting a send attempt, across all
// threads, oldest first. The outbox drains this.
func (t *Tracker) Unsent() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Message
	for _, m := range t.entries {
		if m.State == StateSending {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].LocalID < out[j].LocalID
	})
	return out
}

// Retire drops an entry once a matching persisted server message exists,
// preventing duplicate display. Idempotent.
func (t *Tracker) Retire(localID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, localID)
}
