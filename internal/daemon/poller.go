package daemon

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/tomasronis/Rhenti-sub003/internal/config"
	"github.com/tomasronis/Rhenti-sub003/internal/feed"
	"github.com/tomasronis/Rhenti-sub003/internal/status"
	"github.com/tomasronis/Rhenti-sub003/internal/store"
	intsync "github.com/tomasronis/Rhenti-sub003/internal/sync"
	"go.uber.org/zap"
)

// checkpointKey records the completion time of the last full sync pass.
const checkpointKey = "last_full_sync_ms"

// ThreadFeed is the slice of the remote feed the poller consumes.
type ThreadFeed interface {
	FetchThreads(ctx context.Context, accountID string, limit, offset int, search string) (*feed.ThreadPage, error)
	FetchMessages(ctx context.Context, threadID string, limit int, beforeID string) (*feed.MessagePage, error)
}

// Poller drives periodic sync passes against the remote feed. Each pass
// refreshes the thread list, then fetches and reconciles every thread's
// recent messages. A pass token is taken before each fetch so that slow
// responses landing after a newer pass are discarded instead of applied.
type Poller struct {
	cfg     *config.Config
	db      *store.DB
	feed    ThreadFeed
	rec     *intsync.Reconciler
	machine *status.Machine
	logger  *zap.Logger

	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPoller creates a poller. It does not start polling.
func NewPoller(cfg *config.Config, db *store.DB, f ThreadFeed, rec *intsync.Reconciler, machine *status.Machine, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		cfg:      cfg,
		db:       db,
		feed:     f,
		rec:      rec,
		machine:  machine,
		logger:   logger,
		interval: cfg.PollInterval(),
	}
}

// Start launches the poll loop on its own context so it outlives any
// request-scoped context passed in. The first pass runs immediately.
func (p *Poller) Start(_ context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop halts the poll loop and waits for an in-flight pass to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context) {
	defer p.wg.Done()

	p.pass(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pass(ctx)
		}
	}
}

// pass runs one full sync cycle. Transport failures degrade the daemon
// but never touch the cache, so the last known good state keeps serving.
func (p *Poller) pass(ctx context.Context) {
	_ = p.machine.Transition(status.Syncing)

	page, err := p.feed.FetchThreads(ctx, p.cfg.AccountID, p.cfg.PageSize, 0, "")
	if err != nil {
		p.logger.Warn("thread feed unreachable, serving cached data", zap.Error(err))
		_ = p.machine.Transition(status.Degraded)
		return
	}
	if page.Skipped > 0 {
		p.logger.Warn("dropped malformed thread records", zap.Int("count", page.Skipped))
	}

	caller := intsync.Caller{UserID: p.cfg.UserID, Role: p.cfg.UserRole}
	degraded := false
	for _, th := range page.Threads {
		if ctx.Err() != nil {
			return
		}
		t := th
		if err := p.db.UpsertThread(&t); err != nil {
			p.logger.Error("thread cache write failed", zap.String("thread_id", t.ID), zap.Error(err))
			degraded = true
			continue
		}
		if err := p.syncThread(ctx, t.ID, caller); err != nil {
			degraded = true
		}
	}

	if err := p.db.SetSyncState(checkpointKey, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		p.logger.Warn("checkpoint write failed", zap.Error(err))
	}

	if degraded {
		_ = p.machine.Transition(status.Degraded)
		return
	}
	_ = p.machine.Transition(status.Ready)
}

// syncThread takes a pass token before the fetch so the reconciler can
// discard this response if a newer pass completes first.
func (p *Poller) syncThread(ctx context.Context, threadID string, caller intsync.Caller) error {
	pass := p.rec.Begin(threadID)
	page, err := p.feed.FetchMessages(ctx, threadID, p.cfg.PageSize, "")
	if err != nil {
		p.logger.Warn("message fetch failed", zap.String("thread_id", threadID), zap.Error(err))
		return err
	}
	if page.Skipped > 0 {
		p.logger.Warn("dropped malformed message records",
			zap.String("thread_id", threadID), zap.Int("count", page.Skipped))
	}

	if _, err := p.rec.Apply(pass, caller, page.Messages); err != nil {
		if errors.Is(err, intsync.ErrStalePass) {
			// A newer pass already applied for this thread.
			return nil
		}
		p.logger.Error("reconcile failed", zap.String("thread_id", threadID), zap.Error(err))
		return err
	}
	return nil
}
