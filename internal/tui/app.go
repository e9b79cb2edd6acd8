// Package tui is the terminal frontend. It is a thin rendering layer:
// all conversation and call semantics live in the stores, the app only
// mounts controllers and redraws on bus events.
package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/andrelmm/convo/internal/bus"
	"github.com/andrelmm/convo/internal/call"
	"github.com/andrelmm/convo/internal/chatsdk"
	"github.com/andrelmm/convo/internal/conversation"
	"github.com/andrelmm/convo/internal/screen"
	"github.com/andrelmm/convo/internal/status"
	"github.com/andrelmm/convo/internal/store"
	"github.com/andrelmm/convo/internal/tui/views"
)

const flashDuration = 5 * time.Second

// Deps are the shared components the app renders on top of.
type Deps struct {
	SessionName string
	Me          string
	DB          *store.DB
	Bus         *bus.Bus
	Machine     *status.Machine
	ConvStore   *conversation.Store
	CallStore   *call.Store
	MsgCtl      *screen.MessageController
	CallCtl     *screen.CallController
	Logger      *zap.Logger
}

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	deps      Deps
	logger    *zap.Logger
	statusBar *views.StatusBar
	convList  *views.ConversationList
	thread    *views.MessageThread
	callView  *views.CallView
	incoming  *views.IncomingModal
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(deps Deps) *App {
	ctx, cancel := context.WithCancel(context.Background())
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		deps:      deps,
		logger:    logger,
		statusBar: views.NewStatusBar(),
		convList:  views.NewConversationList(),
		thread:    views.NewMessageThread(),
		callView:  views.NewCallView(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.incoming = views.NewIncomingModal(
		func() { go a.deps.CallCtl.AcceptIncoming(a.ctx) },
		func() { go a.deps.CallCtl.RejectIncoming(a.ctx) },
	)

	a.statusBar.SetSession(deps.SessionName)
	a.setupCallbacks()
	a.setupLayout()

	return a
}

// Navigator returns the chatsdk navigation boundary backed by this app.
func (a *App) Navigator() chatsdk.Navigator {
	return (*appNavigator)(a)
}

// appNavigator pushes and pops the call page on session boundaries.
type appNavigator App

func (n *appNavigator) ShowCall(route chatsdk.CallRoute) {
	a := (*App)(n)
	a.app.QueueUpdateDraw(func() {
		if s, ok := a.deps.CallStore.Session(); ok {
			a.callView.Update(s)
		}
		a.pages.HidePage("incoming")
		a.pages.SwitchToPage("call")
	})
}

func (n *appNavigator) DismissCall(sessionID string) {
	a := (*App)(n)
	a.app.QueueUpdateDraw(func() {
		if name, _ := a.pages.GetFrontPage(); name == "call" {
			a.pages.SwitchToPage("conversations")
			a.app.SetFocus(a.convList)
		}
	})
}

func (a *App) setupCallbacks() {
	a.convList.SetSelectedFunc(func(row, col int) {
		if conv, ok := a.convList.Selected(); ok {
			a.openThread(conv)
		}
	})

	a.thread.SetOnSend(func(text string) {
		go func() {
			a.deps.MsgCtl.SendText(a.ctx, text)
			a.redrawThread()
		}()
	})

	a.thread.SetOnLoadOlder(func() {
		go func() {
			a.deps.MsgCtl.LoadOlder(a.ctx)
			a.redrawThread()
		}()
	})

	a.deps.MsgCtl.OnTypingChanged = func(active bool) {
		a.app.QueueUpdateDraw(func() {
			a.thread.SetTyping(active)
		})
	}

	a.deps.MsgCtl.OnActionFailed = a.flashFailure
	a.deps.CallCtl.OnActionFailed = a.flashFailure
}

func (a *App) flashFailure(action string, err error) {
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetFlash("Failed to " + action + ": " + err.Error())
	})
	time.AfterFunc(flashDuration, func() {
		a.app.QueueUpdateDraw(func() { a.statusBar.SetFlash("") })
	})
}

func (a *App) setupLayout() {
	a.pages.AddPage("conversations", a.convList, true, true)
	a.pages.AddPage("thread", a.thread, true, false)
	a.pages.AddPage("call", a.callView, true, false)
	a.pages.AddPage("incoming", a.incoming, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case "thread":
				a.closeThread()
				return nil
			case "call":
				// The session keeps running; the page is just hidden.
				a.pages.SwitchToPage("conversations")
				a.app.SetFocus(a.convList)
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		if event.Key() != tcell.KeyRune {
			return event
		}

		switch {
		case event.Rune() == 'q' && currentPage != "incoming":
			a.Stop()
			return nil
		case currentPage == "thread" && event.Rune() == 'i':
			a.app.SetFocus(a.thread.Composer())
			return nil
		case currentPage == "thread" && event.Rune() == 'r':
			a.retryNewestFailed()
			return nil
		case currentPage == "thread" && event.Rune() == 'c':
			a.startCallFromThread()
			return nil
		case currentPage == "call" && event.Rune() == 'h':
			go a.deps.CallCtl.HangUp(a.ctx)
			return nil
		}

		return event
	})
}

func (a *App) openThread(conv store.Conversation) {
	recvType := chatsdk.ReceiverUser
	if conv.IsGroup {
		recvType = chatsdk.ReceiverGroup
	}
	a.deps.MsgCtl.Mount(conv.PeerID, recvType)

	name := conv.Name
	if name == "" {
		name = conv.PeerID
	}
	a.thread.SetPeerName(name)
	a.thread.SetTyping(false)
	a.pages.SwitchToPage("thread")
	a.app.SetFocus(a.thread.Messages())

	go func() {
		a.deps.MsgCtl.LoadInitial(a.ctx)
		a.redrawThread()
	}()
}

func (a *App) closeThread() {
	a.deps.MsgCtl.Unmount()
	a.pages.SwitchToPage("conversations")
	a.app.SetFocus(a.convList)
	a.refreshConversations()
}

// retryNewestFailed re-sends the most recent failed optimistic message.
func (a *App) retryNewestFailed() {
	for _, m := range a.deps.ConvStore.Window() {
		if m.Status == chatsdk.StatusFailed {
			id := m.ID
			go func() {
				a.deps.MsgCtl.RetrySend(a.ctx, id)
				a.redrawThread()
			}()
			return
		}
	}
}

func (a *App) startCallFromThread() {
	peerID, recvType, ok := a.deps.ConvStore.Active()
	if !ok {
		return
	}
	name := peerID
	if conv, err := a.deps.DB.GetConversation(peerID); err == nil && conv != nil && conv.Name != "" {
		name = conv.Name
	}
	go a.deps.CallCtl.StartAudioCall(a.ctx, call.Participant{ID: peerID, Name: name}, recvType)
}

func (a *App) redrawThread() {
	window := a.deps.ConvStore.Window()
	hasMore := a.deps.ConvStore.HasMore()
	a.app.QueueUpdateDraw(func() {
		a.thread.Update(a.deps.Me, window, hasMore)
	})
}

func (a *App) refreshConversations() {
	convs, err := a.deps.DB.ListConversations(100, 0)
	if err != nil {
		a.logger.Warn("failed to list conversations", zap.Error(err))
		return
	}
	a.convList.Update(convs)
}

// Run starts the TUI application.
func (a *App) Run() error {
	a.deps.CallCtl.Mount()
	a.statusBar.SetStatus(string(a.deps.Machine.Current()))
	a.refreshConversations()

	go a.eventLoop()

	err := a.app.Run()
	a.deps.CallCtl.Unmount()
	return err
}

// eventLoop redraws on bus events instead of polling. Events are
// coalesced per draw by tview's queue.
func (a *App) eventLoop() {
	events, cancel := a.deps.Bus.Subscribe("", 64)
	defer cancel()

	for {
		select {
		case evt := <-events:
			a.handleEvent(evt)
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageUpserted, bus.KindMessageSendAck, bus.KindMessageSendFailed, bus.KindMessageDeleted:
		if name, _ := a.pages.GetFrontPage(); name == "thread" {
			a.redrawThread()
		} else {
			a.app.QueueUpdateDraw(a.refreshConversations)
		}
	case bus.KindCallIncoming:
		offer, ok := a.deps.CallStore.Incoming()
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.incoming.SetOffer(offer)
			a.pages.ShowPage("incoming")
			a.app.SetFocus(a.incoming)
		})
	case bus.KindCallStatusChanged:
		a.app.QueueUpdateDraw(func() {
			if s, ok := a.deps.CallStore.Session(); ok {
				a.callView.Update(s)
			}
			if _, held := a.deps.CallStore.Incoming(); !held {
				a.pages.HidePage("incoming")
			}
		})
	case bus.KindStatusChanged:
		a.app.QueueUpdateDraw(func() {
			a.statusBar.SetStatus(string(a.deps.Machine.Current()))
		})
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
