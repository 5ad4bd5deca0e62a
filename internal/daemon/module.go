package daemon

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomasronis/Rhenti-sub003/internal/account"
	"github.com/tomasronis/Rhenti-sub003/internal/api"
	"github.com/tomasronis/Rhenti-sub003/internal/bus"
	"github.com/tomasronis/Rhenti-sub003/internal/config"
	"github.com/tomasronis/Rhenti-sub003/internal/feed"
	"github.com/tomasronis/Rhenti-sub003/internal/lock"
	"github.com/tomasronis/Rhenti-sub003/internal/logging"
	"github.com/tomasronis/Rhenti-sub003/internal/outbox"
	"github.com/tomasronis/Rhenti-sub003/internal/pending"
	"github.com/tomasronis/Rhenti-sub003/internal/status"
	"github.com/tomasronis/Rhenti-sub003/internal/store"
	"github.com/tomasronis/Rhenti-sub003/internal/summary"
	intsync "github.com/tomasronis/Rhenti-sub003/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	ConfigPath string // optional override for testing; empty = use default
	ListenAddr string // optional override; empty = use config value
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideFeed,
			provideTracker,
			provideReconciler,
			provideAggregator,
			provideSender,
			providePoller,
			provideHandler,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = account.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := account.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(account.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(account.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := account.CacheDBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideFeed(cfg *config.Config, logger *zap.Logger) *feed.Client {
	return feed.NewClient(cfg.APIBaseURL, cfg.APIToken, logger)
}

func provideTracker() *pending.Tracker {
	return pending.NewTracker()
}

func provideReconciler(cfg *config.Config, db *store.DB, tracker *pending.Tracker, b *bus.Bus, logger *zap.Logger) *intsync.Reconciler {
	return intsync.NewReconciler(db, tracker, b, cfg.MatchTolerance(), logger)
}

func provideAggregator(db *store.DB, rec *intsync.Reconciler) *summary.Aggregator {
	return summary.NewAggregator(db, rec)
}

func provideSender(cfg *config.Config, db *store.DB, tracker *pending.Tracker, client *feed.Client, rec *intsync.Reconciler, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	caller := intsync.Caller{UserID: cfg.UserID, Role: cfg.UserRole}
	return outbox.NewSender(db, tracker, client, rec, b, caller, logger)
}

func providePoller(cfg *config.Config, db *store.DB, client *feed.Client, rec *intsync.Reconciler, machine *status.Machine, logger *zap.Logger) *Poller {
	return NewPoller(cfg, db, client, rec, machine, logger)
}

func provideHandler(cfg *config.Config, db *store.DB, agg *summary.Aggregator, rec *intsync.Reconciler, sender *outbox.Sender, client *feed.Client, logger *zap.Logger) *api.Handler {
	return api.NewHandler(db, agg, rec, sender, client, cfg.UserID, logger)
}

func provideServer(p Params, cfg *config.Config, h *api.Handler, logger *zap.Logger) *api.Server {
	addr := p.ListenAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	return api.NewServer(h, addr, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *api.Server, lk *lock.Lock, poller *Poller, sender *outbox.Sender, machine *status.Machine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			_ = machine.Transition(status.Syncing)

			// Start HTTP server in background.
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("api server error", zap.Error(err))
				}
			}()

			// Start outbox sender, then the feed poller.
			sender.Start(context.Background())
			poller.Start(context.Background())

			return nil
		},
		OnStop: func(ctx context.Context) error {
			poller.Stop()
			sender.Stop()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
