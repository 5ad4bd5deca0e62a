// Package sync merges the remote message feed with the local cache and the
// pending-send tracker into a single deduplicated, ordered timeline per
// thread.
package sync

import (
	"errors"
	"sync"
	"time"

	"github.com/tomasronis/Rhenti-sub003/internal/bus"
	"github.com/tomasronis/Rhenti-sub003/internal/pending"
	"github.com/tomasronis/Rhenti-sub003/internal/store"
	"go.uber.org/zap"
)

// ErrStalePass marks a reconciliation pass whose triggering fetch completed
// after a later-issued fetch already advanced the thread. Stale passes are
// discarded, not applied; callers treat this as a silent skip.
var ErrStalePass = errors.New("stale reconciliation pass")

// DefaultTolerance is the clock-skew window for heuristic matching of a
// pending send against a confirmed message with equal body and sender.
const DefaultTolerance = time.Minute

// Caller identifies the user a pass runs on behalf of. Passed explicitly so
// the engine never consults ambient session state.
type Caller struct {
	UserID string
	Role   string // store.RoleOwner or store.RoleRenter
}

// Pass is a ticket for one reconciliation of one thread. Sequence numbers
// are issued per thread when the triggering fetch starts and gate application
// order when fetches complete out of order.
type Pass struct {
	ThreadID string
	Seq      uint64
}

// Result reports what one applied pass produced.
type Result struct {
	// Display is the merged, deduplicated timeline after the pass.
	Display []Display
	// Retired counts pending entries dropped because their confirmed
	// counterpart is now cached.
	Retired int
	// Matched counts heuristic fallback matches made during the pass.
	Matched int
	// OrphanThread is set when messages were written for a thread with no
	// cached metadata; the caller should re-fetch the thread.
	OrphanThread bool
}

// Reconciled is the bus payload for thread.reconciled events.
type Reconciled struct {
	ThreadID string
	Seq      uint64
	Retired  int
}

// Reconciler owns no message state itself; it transforms the cache and
// tracker under a per-thread lock so concurrent passes for one thread are
// serialized while distinct threads proceed in parallel.
type Reconciler struct {
	db        *store.DB
	tracker   *pending.Tracker
	bus       *bus.Bus
	logger    *zap.Logger
	tolerance time.Duration

	mu      sync.Mutex
	threads map[string]*threadState
}

type threadState struct {
	mu      sync.Mutex
	issued  uint64
	applied uint64
}

// NewReconciler creates a reconciler. tolerance <= 0 selects
// DefaultTolerance.
func NewReconciler(db *store.DB, tracker *pending.Tracker, b *bus.Bus, tolerance time.Duration, logger *zap.Logger) *Reconciler {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		db:        db,
		tracker:   tracker,
		bus:       b,
		logger:    logger,
		tolerance: tolerance,
		threads:   make(map[string]*threadState),
	}
}

func (r *Reconciler) state(threadID string) *threadState {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.threads[threadID]
	if !ok {
		ts = &threadState{}
		r.threads[threadID] = ts
	}
	return ts
}

// Begin issues the sequence number for a pass. Call it when the triggering
// fetch is started, before any I/O, so that a late-completing earlier fetch
// cannot overwrite state advanced by a later one.
func (r *Reconciler) Begin(threadID string) Pass {
	ts := r.state(threadID)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.issued++
	return Pass{ThreadID: threadID, Seq: ts.issued}
}

// Apply runs one reconciliation pass: persist the remote batch, retire
// confirmed pending entries, heuristically match the rest, and emit the
// merged timeline. Returns ErrStalePass when a later pass already applied.
//
// Apply is idempotent over its inputs: re-running with nothing new produces
// the same timeline and retires nothing twice.
func (r *Reconciler) Apply(pass Pass, caller Caller, remote []store.Message) (*Result, error) {
	ts := r.state(pass.ThreadID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if pass.Seq <= ts.applied {
		return nil, ErrStalePass
	}

	res, err := r.reconcileLocked(pass.ThreadID, caller, remote)
	if err != nil {
		// Cache/tracker failures are fatal to this pass and leave the
		// sequence unadvanced so a retry can apply.
		return nil, err
	}
	ts.applied = pass.Seq

	r.emit(bus.KindThreadReconciled, Reconciled{
		ThreadID: pass.ThreadID,
		Seq:      pass.Seq,
		Retired:  res.Retired,
	})
	return res, nil
}

// Merged returns the current merged timeline for a thread without new remote
// input. Retirement of already-confirmed pending entries still runs, so the
// read path never shows a message twice.
func (r *Reconciler) Merged(threadID string) ([]Display, error) {
	ts := r.state(threadID)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	res, err := r.reconcileLocked(threadID, Caller{}, nil)
	if err != nil {
		return nil, err
	}
	return res.Display, nil
}

// reconcileLocked is the pass body. The per-thread lock must be held: steps
// below read then write the cache and tracker, and a racing writer would
// resurrect retired entries or duplicate display rows.
func (r *Reconciler) reconcileLocked(threadID string, caller Caller, remote []store.Message) (*Result, error) {
	res := &Result{}

	if len(remote) > 0 {
		orphaned, err := r.db.UpsertMessages(threadID, remote)
		if err != nil {
			return nil, err
		}
		if orphaned {
			res.OrphanThread = true
			r.logger.Warn("messages cached for unknown thread; re-fetch thread metadata",
				zap.String("thread_id", threadID))
			r.emit(bus.KindThreadMissing, threadID)
		}
	}

	cached, err := r.db.ListMessages(threadID)
	if err != nil {
		return nil, err
	}
	cachedIDs := make(map[string]bool, len(cached))
	for _, m := range cached {
		cachedIDs[m.ID] = true
	}

	// Retire entries whose recorded server ID is now cached. A confirmation
	// arriving again for an already-retired entry is a no-op by construction:
	// the entry is simply gone.
	for _, e := range r.tracker.EntriesFor(threadID) {
		if e.ServerID != "" && cachedIDs[e.ServerID] {
			r.tracker.Retire(e.LocalID)
			res.Retired++
		}
	}

	// Fallback matching for entries whose send acknowledgment was lost: the
	// message may still arrive through the feed. Match on sender, exact body
	// and creation time within the skew tolerance. Each remote message
	// supersedes at most one entry.
	claimed := make(map[string]bool)
	for _, e := range r.tracker.EntriesFor(threadID) {
		if e.ServerID != "" {
			continue
		}
		for _, m := range remote {
			if claimed[m.ID] || !cachedIDs[m.ID] {
				continue
			}
			if m.SenderRole != caller.Role || m.Body != e.Body {
				continue
			}
			if absDelta(m.CreatedAt, e.CreatedAt) > r.tolerance.Milliseconds() {
				continue
			}
			claimed[m.ID] = true
			r.tracker.MarkSent(e.LocalID, m.ID)
			r.tracker.Retire(e.LocalID)
			res.Matched++
			res.Retired++
			r.logger.Info("pending send matched heuristically",
				zap.String("thread_id", threadID),
				zap.String("local_id", e.LocalID),
				zap.String("server_id", m.ID))
			break
		}
	}

	res.Display = mergeDisplay(cached, r.tracker.EntriesFor(threadID))
	return res, nil
}

func (r *Reconciler) emit(kind string, payload any) {
	if r.bus != nil {
		r.bus.Emit(kind, payload)
	}
}

func absDelta(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
