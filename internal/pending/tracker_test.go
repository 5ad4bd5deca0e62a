package pending

import (
	"regexp"
	"sync"
	"testing"
)

var serverIDPattern = regexp.MustCompile(`^[0-9a-f]{24}$`)

func TestCreateAssignsDisjointLocalID(t *testing.T) {
	tr := NewTracker()

	m := tr.Create("t1", "hello", "text")
	if m.State != StateSending {
		t.Errorf("state = %s, want %s", m.State, StateSending)
	}
	if serverIDPattern.MatchString(m.LocalID) {
		t.Errorf("local ID %q collides with server ID format", m.LocalID)
	}
	if m.LocalID == "" {
		t.Error("empty local ID")
	}
}

func TestConcurrentCreatesNeverCollide(t *testing.T) {
	tr := NewTracker()
	const n = 100

	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- tr.Create("t1", "body", "text").LocalID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate local ID %q", id)
		}
		seen[id] = true
	}
	if got := len(tr.EntriesFor("t1")); got != n {
		t.Errorf("got %d entries, want %d", got, n)
	}
}

func TestMarkSentIdempotent(t *testing.T) {
	tr := NewTracker()
	m := tr.Create("t1", "hi", "text")

	tr.MarkSent(m.LocalID, "64a1b2c3d4e5f60718293a4b")
	// A second transition attempt must be a no-op.
	tr.MarkSent(m.LocalID, "ffffffffffffffffffffffff")

	got, ok := tr.Get(m.LocalID)
	if !ok {
		t.Fatal("entry missing")
	}
	if got.State != StateSent {
		t.Errorf("state = %s, want %s", got.State, StateSent)
	}
	if got.ServerID != "64a1b2c3d4e5f60718293a4b" {
		t.Errorf("server ID = %q, want first recorded ID", got.ServerID)
	}

	// MarkFailed on a terminal entry is also a no-op.
	tr.MarkFailed(m.LocalID)
	got, _ = tr.Get(m.LocalID)
	if got.State != StateSent {
		t.Errorf("state = %s after MarkFailed on terminal entry, want %s", got.State, StateSent)
	}
}

func TestRetryOnlyFromFailed(t *testing.T) {
	tr := NewTracker()
	m := tr.Create("t1", "hi", "text")

	if _, err := tr.Retry(m.LocalID); err == nil {
		t.Error("Retry from Sending should fail")
	}

	tr.MarkFailed(m.LocalID)
	retried, err := tr.Retry(m.LocalID)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if retried.State != StateSending {
		t.Errorf("state = %s, want %s", retried.State, StateSending)
	}
	if retried.LocalID != m.LocalID || retried.Body != "hi" {
		t.Error("retry must keep the same local ID and content")
	}

	if _, err := tr.Retry("local-nope"); err == nil {
		t.Error("Retry of unknown ID should fail")
	}
}

func TestFailedEntriesRemainVisible(t *testing.T) {
	tr := NewTracker()
	m := tr.Create("t1", "hi", "text")
	tr.MarkFailed(m.LocalID)

	entries := tr.EntriesFor("t1")
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (failed entries stay visible)", len(entries))
	}
	if entries[0].State != StateFailed {
		t.Errorf("state = %s, want %s", entries[0].State, StateFailed)
	}
}

func TestRetireRemovesEntry(t *testing.T) {
	tr := NewTracker()
	m := tr.Create("t1", "hi", "text")
	tr.MarkSent(m.LocalID, "64a1b2c3d4e5f60718293a4b")

	tr.Retire(m.LocalID)
	if len(tr.EntriesFor("t1")) != 0 {
		t.Error("retired entry still visible")
	}

	// Retirement is terminal and idempotent.
	tr.Retire(m.LocalID)
	tr.MarkSent(m.LocalID, "ffffffffffffffffffffffff")
	if _, ok := tr.Get(m.LocalID); ok {
		t.Error("retired entry resurrected")
	}
}

func TestEntriesForIsolatesThreads(t *testing.T) {
	tr := NewTracker()
	tr.Create("t1", "a", "text")
	tr.Create("t2", "b", "text")

	if got := len(tr.EntriesFor("t1")); got != 1 {
		t.Errorf("t1 entries = %d, want 1", got)
	}
}

func TestSetProgress(t *testing.T) {
	tr := NewTracker()
	m := tr.Create("t1", "", "image")

	tr.SetProgress(m.LocalID, 0.5)
	got, _ := tr.Get(m.LocalID)
	if got.Progress != 0.5 {
		t.Errorf("progress = %v, want 0.5", got.Progress)
	}

	tr.MarkFailed(m.LocalID)
	got, _ = tr.Get(m.LocalID)
	if got.Progress != 0 {
		t.Errorf("progress = %v after failure, want 0", got.Progress)
	}
}
