package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/andrelmm/convo/internal/bus"
	"github.com/andrelmm/convo/internal/call"
	"github.com/andrelmm/convo/internal/channel"
	"github.com/andrelmm/convo/internal/chatsdk"
	"github.com/andrelmm/convo/internal/config"
	"github.com/andrelmm/convo/internal/conversation"
	"github.com/andrelmm/convo/internal/gateway"
	"github.com/andrelmm/convo/internal/lock"
	"github.com/andrelmm/convo/internal/logging"
	"github.com/andrelmm/convo/internal/outbox"
	"github.com/andrelmm/convo/internal/screen"
	"github.com/andrelmm/convo/internal/session"
	"github.com/andrelmm/convo/internal/status"
	"github.com/andrelmm/convo/internal/store"
	intsync "github.com/andrelmm/convo/internal/sync"
	"github.com/andrelmm/convo/internal/tui"
)

// lazyNavigator breaks the construction cycle between the call store
// and the app that renders it.
type lazyNavigator struct {
	nav chatsdk.Navigator
}

func (l *lazyNavigator) ShowCall(route chatsdk.CallRoute) {
	if l.nav != nil {
		l.nav.ShowCall(route)
	}
}

func (l *lazyNavigator) DismissCall(sessionID string) {
	if l.nav != nil {
		l.nav.DismissCall(sessionID)
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		return err
	}
	if err := session.EnsureDir(sessionName); err != nil {
		return err
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return fmt.Errorf("load config %s: %w", session.ConfigPath(), err)
	}

	logger, err := logging.NewFile(session.LogPath(sessionName), sessionName)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	lk, err := lock.Acquire(session.Dir(sessionName))
	if err != nil {
		return err
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(session.CacheDBPath(sessionName))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		return err
	}

	b := bus.New()
	machine := status.NewMachine(b)
	registry := channel.NewRegistry()

	client := gateway.NewClient(cfg.Service, logger)
	socket := gateway.NewSocket(cfg.Service, registry, b, machine, logger)
	engine := intsync.NewEngine(cfg.Service.UserID, db, registry, b, logger)
	sender := outbox.NewSender(db, client, b, logger)

	// The conversation store fetches through the caching wrapper so
	// history pages land in sqlite, journals sends in the outbox, and
	// gets retries delivered by the drain loop.
	convStore := conversation.New(cfg.Service.UserID, engine.WrapClient(client), b, logger)
	convStore.SetJournal(db)
	sender.SetReconciler(convStore)
	if cfg.Service.PageSize > 0 {
		convStore.SetPageSize(cfg.Service.PageSize)
	}

	nav := &lazyNavigator{}
	callStore := call.NewStore(client, tui.TerminalPermissions{}, nav, b, logger)

	msgCtl := screen.NewMessageController(registry, convStore, logger)
	callCtl := screen.NewCallController(registry, callStore, logger)

	app := tui.NewApp(tui.Deps{
		SessionName: sessionName,
		Me:          cfg.Service.UserID,
		DB:          db,
		Bus:         b,
		Machine:     machine,
		ConvStore:   convStore,
		CallStore:   callStore,
		MsgCtl:      msgCtl,
		CallCtl:     callCtl,
		Logger:      logger,
	})
	nav.nav = app.Navigator()

	ctx := context.Background()
	engine.Start()
	defer engine.Stop()
	socket.Start(ctx)
	defer socket.Stop()
	sender.Start(ctx)
	defer sender.Stop()

	return app.Run()
}
