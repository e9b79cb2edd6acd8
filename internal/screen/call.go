package screen

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andrelmm/convo/internal/call"
	"github.com/andrelmm/convo/internal/channel"
	"github.com/andrelmm/convo/internal/chatsdk"
)

// CallController binds the call store to the event stream and exposes
// call intents. One instance is mounted for the app's lifetime (offers
// must be received on every screen), unlike the per-screen message
// controller.
type CallController struct {
	registry *channel.Registry
	store    *call.Store
	logger   *zap.Logger

	// OnActionFailed, when set, surfaces a user-visible failure once
	// per action. Permission denials arrive here with a settings hint.
	OnActionFailed func(action string, err error)

	scopeID string
}

// NewCallController creates a controller bound to the shared call store.
func NewCallController(reg *channel.Registry, store *call.Store, logger *zap.Logger) *CallController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallController{registry: reg, store: store, logger: logger}
}

// Mount registers the call event scope.
func (c *CallController) Mount() {
	c.scopeID = fmt.Sprintf("calls-%s", uuid.NewString())
	c.registry.Subscribe(c.scopeID, channel.Handlers{
		OnCallOffered: c.store.OnIncomingOffer,
		OnCallEnded:   c.store.OnCallEnded,
		OnUserJoined:  c.store.OnUserJoined,
		OnUserLeft:    c.store.OnUserLeft,
	})
}

// Unmount removes the call event scope. Idempotent.
func (c *CallController) Unmount() {
	if c.scopeID != "" {
		c.registry.Unsubscribe(c.scopeID)
	}
}

// StartAudioCall initiates an outgoing audio call to the target.
func (c *CallController) StartAudioCall(ctx context.Context, target call.Participant, recvType chatsdk.ReceiverType) {
	if err := c.store.Initiate(ctx, target, recvType, chatsdk.CallAudio); err != nil {
		c.fail("start call", err)
	}
}

// AcceptIncoming answers the pending offer, if one is held.
func (c *CallController) AcceptIncoming(ctx context.Context) {
	offer, ok := c.store.Incoming()
	if !ok {
		return
	}
	if err := c.store.Accept(ctx, offer); err != nil {
		c.fail("accept call", err)
	}
}

// RejectIncoming declines the pending offer, if one is held.
func (c *CallController) RejectIncoming(ctx context.Context) {
	offer, ok := c.store.Incoming()
	if !ok {
		return
	}
	if err := c.store.Reject(ctx, offer); err != nil {
		c.fail("reject call", err)
	}
}

// HangUp ends the active call.
func (c *CallController) HangUp(ctx context.Context) {
	c.store.End(ctx)
}

func (c *CallController) fail(action string, err error) {
	c.logger.Warn("call action failed", zap.String("action", action), zap.Error(err))
	if c.OnActionFailed != nil {
		c.OnActionFailed(action, err)
	}
}
