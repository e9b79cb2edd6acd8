// Package screen holds the controllers that bind stores to mounted
// screens. Controllers own the per-screen listener lifetime: subscribe
// on mount, unsubscribe on unmount, with scope ids unique to the mount
// instance so a remount never collides with a not-yet-torn-down
// predecessor.
package screen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andrelmm/convo/internal/channel"
	"github.com/andrelmm/convo/internal/chatsdk"
	"github.com/andrelmm/convo/internal/conversation"
)

// typingIndicatorTTL bounds how long the indicator stays on without a
// fresh typing event; the peer's "stopped" signal can get lost.
const typingIndicatorTTL = 5 * time.Second

// MessageController drives one mounted message screen: it activates the
// conversation, registers the event scope, and translates user intents
// into store operations. Create one controller per mount.
type MessageController struct {
	registry *channel.Registry
	store    *conversation.Store
	logger   *zap.Logger

	// OnTypingChanged, when set, is invoked with the peer's typing
	// state for rendering. Called from event and timer goroutines.
	OnTypingChanged func(active bool)

	// OnActionFailed, when set, surfaces a user-visible failure. It is
	// invoked once per failed action, never per repeated event.
	OnActionFailed func(action string, err error)

	mu          sync.Mutex
	mounted     bool
	scopeID     string
	peerID      string
	recvType    chatsdk.ReceiverType
	typingTimer *time.Timer
}

// NewMessageController creates a controller bound to the shared stores.
func NewMessageController(reg *channel.Registry, store *conversation.Store, logger *zap.Logger) *MessageController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageController{registry: reg, store: store, logger: logger}
}

// Mount activates the conversation and registers the listener scope.
// The scope id embeds the conversation id plus a per-mount unique
// suffix, so two overlapping mounts of the same conversation hold
// distinct registrations. Re-mounting an already-mounted controller
// tears the previous scope down first.
func (c *MessageController) Mount(peerID string, recvType chatsdk.ReceiverType) {
	c.mu.Lock()
	if c.mounted {
		c.registry.Unsubscribe(c.scopeID)
		c.stopTypingLocked()
	}
	c.mounted = true
	c.peerID = peerID
	c.recvType = recvType
	c.scopeID = fmt.Sprintf("messages-%s-%s", peerID, uuid.NewString())
	scope := c.scopeID
	c.mu.Unlock()

	c.store.SetActive(peerID, recvType)
	c.registry.Subscribe(scope, channel.Handlers{
		OnMessage:        c.store.OnMessage,
		OnMessageEdited:  c.store.OnMessageEdited,
		OnMessageDeleted: c.store.OnMessageDeleted,
		OnReceipt:        c.store.OnReceipt,
		OnTypingStarted:  func(t *chatsdk.Typing) { c.applyTyping(t, true) },
		OnTypingEnded:    func(t *chatsdk.Typing) { c.applyTyping(t, false) },
	})
}

// Unmount tears down this mount's scope and timer. It is idempotent
// and safe to call even if Mount never ran; teardown paths must never
// fail. The shared window is left to the next mount, which resets it
// through SetActive.
func (c *MessageController) Unmount() {
	c.mu.Lock()
	scope := c.scopeID
	c.mounted = false
	c.stopTypingLocked()
	c.mu.Unlock()
	if scope != "" {
		c.registry.Unsubscribe(scope)
	}
}

// ScopeID returns the current mount's listener scope id.
func (c *MessageController) ScopeID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scopeID
}

// LoadInitial fetches the first history page for the mounted conversation.
func (c *MessageController) LoadInitial(ctx context.Context) {
	if err := c.store.FetchPage(ctx, true); err != nil {
		c.fail("load messages", err)
	}
}

// LoadOlder fetches the next older page; a no-op while a fetch is in
// flight or when history is exhausted.
func (c *MessageController) LoadOlder(ctx context.Context) {
	if err := c.store.FetchPage(ctx, false); err != nil {
		c.fail("load older messages", err)
	}
}

// SendText stages and sends a text message optimistically.
func (c *MessageController) SendText(ctx context.Context, body string) {
	if body == "" {
		return
	}
	if _, err := c.store.Send(ctx, "text", body, ""); err != nil {
		c.fail("send message", err)
	}
}

// RetrySend retries a failed optimistic send on explicit user action.
func (c *MessageController) RetrySend(ctx context.Context, pendingID string) {
	if err := c.store.Retry(ctx, pendingID); err != nil {
		c.fail("retry send", err)
	}
}

// DeleteMessage deletes a message for everyone.
func (c *MessageController) DeleteMessage(ctx context.Context, messageID string) {
	if err := c.store.DeleteForEveryone(ctx, messageID); err != nil {
		c.fail("delete message", err)
	}
}

func (c *MessageController) applyTyping(t *chatsdk.Typing, started bool) {
	c.mu.Lock()
	if !c.mounted || t.SenderID != c.peerID {
		c.mu.Unlock()
		return
	}
	c.stopTypingLocked()
	if started {
		c.typingTimer = time.AfterFunc(typingIndicatorTTL, func() {
			c.mu.Lock()
			mounted := c.mounted
			c.typingTimer = nil
			c.mu.Unlock()
			if mounted {
				c.notifyTyping(false)
			}
		})
	}
	c.mu.Unlock()
	c.notifyTyping(started)
}

// stopTypingLocked clears the pending indicator timer; the caller holds c.mu.
func (c *MessageController) stopTypingLocked() {
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
}

func (c *MessageController) notifyTyping(active bool) {
	if c.OnTypingChanged != nil {
		c.OnTypingChanged(active)
	}
}

func (c *MessageController) fail(action string, err error) {
	c.logger.Warn("screen action failed", zap.String("action", action), zap.Error(err))
	if c.OnActionFailed != nil {
		c.OnActionFailed(action, err)
	}
}
