// Package outbox drives pending messages through the remote send call and
// their confirmation lifecycle.
package outbox

import (
	"context"
	"sort"
	"time"

	"github.com/tomasronis/Rhenti-sub003/internal/bus"
	"github.com/tomasronis/Rhenti-sub003/internal/feed"
	"github.com/tomasronis/Rhenti-sub003/internal/pending"
	"github.com/tomasronis/Rhenti-sub003/internal/store"
	intsync "github.com/tomasronis/Rhenti-sub003/internal/sync"
	"go.uber.org/zap"
)

// FeedSender is the slice of the feed client the outbox needs.
type FeedSender interface {
	SendMessage(ctx context.Context, req feed.SendRequest) (*store.Message, error)
}

// Ack is the bus payload for message.send_ack events.
type Ack struct {
	LocalID  string
	ServerID string
	ThreadID string
}

// Failure is the bus payload for message.send_failed events.
type Failure struct {
	LocalID  string
	ThreadID string
	Reason   string
}

// Sender drains the pending tracker through the feed client. One loop
// goroutine processes sends sequentially, so an entry is never dispatched
// twice.
type Sender struct {
	db      *store.DB
	tracker *pending.Tracker
	feed    FeedSender
	rec     *intsync.Reconciler
	bus     *bus.Bus
	caller  intsync.Caller
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewSender creates an outbox sender acting as the given caller.
func NewSender(db *store.DB, tracker *pending.Tracker, f FeedSender, rec *intsync.Reconciler, b *bus.Bus, caller intsync.Caller, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:      db,
		tracker: tracker,
		feed:    f,
		rec:     rec,
		bus:     b,
		caller:  caller,
		logger:  logger,
	}
}

// Enqueue registers a composed message for sending and returns it. The loop
// picks it up on the next tick; the caller sees it immediately through the
// merged timeline.
func (s *Sender) Enqueue(threadID, body, kind string) pending.Message {
	m := s.tracker.Create(threadID, body, kind)
	s.bus.Emit(bus.KindMessageQueued, Ack{LocalID: m.LocalID, ThreadID: threadID})
	return m
}

// Retry re-arms a failed entry for another attempt with the same local ID.
func (s *Sender) Retry(localID string) (pending.Message, error) {
	return s.tracker.Retry(localID)
}

// Start begins the send loop. The loop's context is independent of any UI
// context: a send accepted by the tracker completes its lifecycle even after
// the observing screen has gone away.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the send loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	for _, entry := range s.tracker.Unsent() {
		if ctx.Err() != nil {
			return
		}
		s.send(ctx, entry)
	}
}

func (s *Sender) send(ctx context.Context, entry pending.Message) {
	confirmed, err := s.feed.SendMessage(ctx, feed.SendRequest{
		ThreadID:      entry.ThreadID,
		Body:          entry.Body,
		Kind:          entry.Kind,
		AttachmentURL: entry.AttachmentURL,
		Members:       s.recipients(entry.ThreadID),
	})
	if err != nil {
		s.logger.Error("send failed",
			zap.String("local_id", entry.LocalID),
			zap.String("thread_id", entry.ThreadID),
			zap.Error(err))
		s.tracker.MarkFailed(entry.LocalID)
		s.bus.Emit(bus.KindMessageSendFail, Failure{
			LocalID:  entry.LocalID,
			ThreadID: entry.ThreadID,
			Reason:   err.Error(),
		})
		return
	}

	// Primary match path: the server-assigned ID came back on the send call.
	s.tracker.MarkSent(entry.LocalID, confirmed.ID)

	pass := s.rec.Begin(entry.ThreadID)
	if _, err := s.rec.Apply(pass, s.caller, []store.Message{*confirmed}); err != nil {
		// The tracker already holds the server ID; the next pass retires the
		// entry. ErrStalePass lands here too and is equally safe to skip.
		s.logger.Warn("post-send reconcile skipped",
			zap.String("local_id", entry.LocalID), zap.Error(err))
	}

	s.logger.Info("message sent",
		zap.String("local_id", entry.LocalID),
		zap.String("server_id", confirmed.ID),
		zap.String("thread_id", entry.ThreadID))
	s.bus.Emit(bus.KindMessageSendAck, Ack{
		LocalID:  entry.LocalID,
		ServerID: confirmed.ID,
		ThreadID: entry.ThreadID,
	})
}

// recipients resolves the thread's participant IDs for the send payload.
func (s *Sender) recipients(threadID string) []string {
	th, err := s.db.GetThread(threadID)
	if err != nil || th == nil {
		return nil
	}
	members := make([]string, 0, len(th.Members))
	for id := range th.Members {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}
