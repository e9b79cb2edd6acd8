// Package daemon composes the headless sync process: it owns the
// gateway connection, mirrors the event stream into the cache, and
// drains the outbox while a frontend may come and go.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/andrelmm/convo/internal/bus"
	"github.com/andrelmm/convo/internal/channel"
	"github.com/andrelmm/convo/internal/config"
	"github.com/andrelmm/convo/internal/gateway"
	"github.com/andrelmm/convo/internal/lock"
	"github.com/andrelmm/convo/internal/logging"
	"github.com/andrelmm/convo/internal/outbox"
	"github.com/andrelmm/convo/internal/session"
	"github.com/andrelmm/convo/internal/status"
	"github.com/andrelmm/convo/internal/store"
	intsync "github.com/andrelmm/convo/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideRegistry,
			provideLock,
			provideStore,
			provideGatewayClient,
			provideSocket,
			provideSyncEngine,
			provideSender,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideRegistry() *channel.Registry {
	return channel.NewRegistry()
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
	dbPath := session.CacheDBPath(p.SessionName)
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

func provideGatewayClient(cfg *config.Config, logger *zap.Logger) *gateway.Client {
	return gateway.NewClient(cfg.Service, logger)
}

func provideSocket(cfg *config.Config, registry *channel.Registry, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *gateway.Socket {
	return gateway.NewSocket(cfg.Service, registry, b, machine, logger)
}

func provideSyncEngine(cfg *config.Config, db *store.DB, registry *channel.Registry, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(cfg.Service.UserID, db, registry, b, logger)
}

func provideSender(db *store.DB, client *gateway.Client, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, client, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, socket *gateway.Socket, engine *intsync.Engine, sender *outbox.Sender, machine *status.Machine, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The engine must be registered before the socket dials so
			// no decoded event slips past the cache.
			engine.Start()

			if cfg.Service.AuthToken == "" {
				logger.Info("no credentials found, auth required")
				return machine.Transition(status.AuthRequired)
			}

			socket.Start(context.Background())
			sender.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			sender.Stop()
			socket.Stop()
			engine.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
