package daemon

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/AdrenalinApprizal/chatlink/internal/api"
	"github.com/AdrenalinApprizal/chatlink/internal/auth"
	"github.com/AdrenalinApprizal/chatlink/internal/bus"
	"github.com/AdrenalinApprizal/chatlink/internal/config"
	"github.com/AdrenalinApprizal/chatlink/internal/conn"
	"github.com/AdrenalinApprizal/chatlink/internal/health"
	"github.com/AdrenalinApprizal/chatlink/internal/lock"
	"github.com/AdrenalinApprizal/chatlink/internal/logging"
	"github.com/AdrenalinApprizal/chatlink/internal/messages"
	"github.com/AdrenalinApprizal/chatlink/internal/queue"
	"github.com/AdrenalinApprizal/chatlink/internal/reconcile"
	"github.com/AdrenalinApprizal/chatlink/internal/session"
	"github.com/AdrenalinApprizal/chatlink/internal/store"
)

const (
	defaultMessagingPath = "/ws/messages"
	defaultPresencePath  = "/ws/presence"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideLock,
			provideStore,
			provideMessages,
			provideQueue,
			provideAuth,
			provideReconciler,
			provideManager,
			provideMonitor,
			provideAPIHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Warn("config not found, starting unconfigured", zap.Error(err))
		return &config.Config{}, nil
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideMessages() *messages.Store {
	return messages.NewStore()
}

func provideQueue(db *store.DB, b *bus.Bus, logger *zap.Logger) *queue.Queue {
	return queue.New(store.NewQueuePersister(db), b, logger)
}

func provideAuth(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *auth.Client {
	return auth.NewClient(cfg.Server.BaseURL, cfg.Auth.Token, cfg.Auth.UserID, b, logger)
}

func provideReconciler(st *messages.Store, b *bus.Bus, a *auth.Client, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(st, b, a, logger)
}

func provideManager(cfg *config.Config, a *auth.Client, b *bus.Bus, q *queue.Queue, st *messages.Store, rec *reconcile.Reconciler, logger *zap.Logger) (*conn.Manager, error) {
	msgURL, err := websocketURL(cfg.Server.BaseURL, cfg.Server.MessagingPath, defaultMessagingPath)
	if err != nil {
		return nil, err
	}
	presURL, err := websocketURL(cfg.Server.BaseURL, cfg.Server.PresencePath, defaultPresencePath)
	if err != nil {
		return nil, err
	}
	cc := conn.DefaultConfig(msgURL, presURL)
	return conn.NewManager(cc, a, b, q, st, rec, conn.NewWebsocketDialer(), logger), nil
}

func provideMonitor(mgr *conn.Manager, a *auth.Client, logger *zap.Logger) *health.Monitor {
	return health.NewMonitor(mgr, a, logger)
}

func provideAPIHandler(p Params, mgr *conn.Manager, mon *health.Monitor, st *messages.Store, q *queue.Queue, logger *zap.Logger) *api.Handler {
	return api.NewHandler(p.SessionName, mgr, mon, st, q, logger)
}

// websocketURL derives a ws:// or wss:// endpoint from the configured HTTP base.
func websocketURL(base, path, fallback string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("server base_url not configured")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base_url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base_url scheme %q", u.Scheme)
	}
	if path == "" {
		path = fallback
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, mgr *conn.Manager, mon *health.Monitor, q *queue.Queue, a *auth.Client, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Bring back any messages queued by a previous run.
			if err := q.Restore(); err != nil {
				logger.Warn("queue restore failed", zap.Error(err))
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			mon.Start(context.Background())

			if a.IsAuthenticated() {
				mgr.Connect(context.Background())
			} else {
				logger.Info("no credentials found, staying offline")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			mon.Stop()
			mgr.Close()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
