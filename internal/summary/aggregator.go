// Package summary derives the thread-list view from the merged timelines.
package summary

import (
	"fmt"
	"sort"

	"github.com/tomasronis/Rhenti-sub003/internal/store"
	"github.com/tomasronis/Rhenti-sub003/internal/sync"
)

// Summary is one row of the thread list.
type Summary struct {
	Thread store.Thread
	// LastBody and LastAt come from the tail of the merged timeline, so an
	// unconfirmed send updates the thread list immediately.
	LastBody string
	LastAt   int64
	// LastPending is set when the tail entry is a local send awaiting
	// confirmation.
	LastPending bool
}

// Aggregator derives per-thread display fields from the cache and the merged
// message view. It never recomputes unread counts: those pass through from
// the store and only MarkRead changes them.
type Aggregator struct {
	db  *store.DB
	rec *sync.Reconciler
}

// NewAggregator creates an aggregator over the given store and reconciler.
func NewAggregator(db *store.DB, rec *sync.Reconciler) *Aggregator {
	return &Aggregator{db: db, rec: rec}
}

// Summaries returns the thread list re-sorted by derived last-message time,
// descending.
func (a *Aggregator) Summaries(limit, offset int) ([]Summary, error) {
	threads, err := a.db.ListThreads(limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}

	out := make([]Summary, 0, len(threads))
	for _, th := range threads {
		s := Summary{
			Thread:   th,
			LastBody: th.LastMessageText,
			LastAt:   th.LastMessageAt,
		}
		merged, err := a.rec.Merged(th.ID)
		if err != nil {
			return nil, fmt.Errorf("merge thread %s: %w", th.ID, err)
		}
		if len(merged) > 0 {
			tail := merged[len(merged)-1]
			s.LastAt = tail.CreatedAt()
			switch v := tail.(type) {
			case sync.ServerMessage:
				s.LastBody = v.Msg.Body
			case sync.PendingMessage:
				s.LastBody = v.Msg.Body
				s.LastPending = true
			}
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastAt > out[j].LastAt
	})
	return out, nil
}
