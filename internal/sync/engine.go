// Package sync persists the live event stream into the local cache so
// conversation lists and history survive restarts and offline gaps.
package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/andrelmm/convo/internal/bus"
	"github.com/andrelmm/convo/internal/channel"
	"github.com/andrelmm/convo/internal/chatsdk"
	"github.com/andrelmm/convo/internal/store"
)

const scopeID = "sync-cache"

// Engine mirrors decoded service events into the sqlite cache. It is a
// passive registry consumer: it never talks to the service itself.
type Engine struct {
	db       *store.DB
	registry *channel.Registry
	bus      *bus.Bus
	logger   *zap.Logger
	me       string
}

// NewEngine creates a cache sync engine for the given local user id.
func NewEngine(me string, db *store.DB, registry *channel.Registry, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:       db,
		registry: registry,
		bus:      b,
		logger:   logger,
		me:       me,
	}
}

// Start registers the engine on the event stream.
func (e *Engine) Start() {
	e.registry.Subscribe(scopeID, channel.Handlers{
		OnMessage:        e.onMessage,
		OnMessageEdited:  e.onMessage,
		OnMessageDeleted: e.onMessageDeleted,
		OnReceipt:        e.onReceipt,
	})
}

// Stop deregisters the engine.
func (e *Engine) Stop() {
	e.registry.Unsubscribe(scopeID)
}

// peerID resolves which conversation a message belongs to. Groups key by
// the group id; direct chats key by the other party regardless of which
// side sent.
func (e *Engine) peerID(m *chatsdk.Message) string {
	if m.ReceiverType == chatsdk.ReceiverGroup {
		return m.ReceiverID
	}
	if m.SenderID == e.me {
		return m.ReceiverID
	}
	return m.SenderID
}

func (e *Engine) onMessage(m *chatsdk.Message) {
	peer := e.peerID(m)
	row := toRow(peer, e.me, m)
	if err := e.db.UpsertMessage(row); err != nil {
		e.logger.Error("failed to cache message", zap.Error(err), zap.String("msg_id", m.ID))
		return
	}

	preview := m.Body
	if m.Deleted() {
		preview = ""
	}
	if err := e.db.UpsertConversation(&store.Conversation{
		PeerID:             peer,
		Name:               senderName(e.me, m),
		IsGroup:            m.ReceiverType == chatsdk.ReceiverGroup,
		LastMessageAt:      m.SentAt,
		LastMessagePreview: preview,
	}); err != nil {
		e.logger.Error("failed to cache conversation", zap.Error(err), zap.String("peer_id", peer))
	}

	e.publish(bus.KindMessageUpserted, map[string]string{"peer_id": peer, "msg_id": m.ID})
}

func (e *Engine) onMessageDeleted(m *chatsdk.Message) {
	peer := e.peerID(m)
	if err := e.db.MarkMessageDeleted(peer, m.ID, m.DeletedAt); err != nil {
		e.logger.Error("failed to cache tombstone", zap.Error(err), zap.String("msg_id", m.ID))
		return
	}
	e.publish(bus.KindMessageDeleted, map[string]string{"peer_id": peer, "msg_id": m.ID})
}

func (e *Engine) onReceipt(rc *chatsdk.Receipt) {
	// Receipts carry no body; only the status column moves. The cache
	// mirrors the same no-downgrade rule the in-memory window applies.
	status := chatsdk.StatusDelivered
	if rc.Kind == "read" {
		status = chatsdk.StatusRead
	}
	if err := e.db.UpdateMessageStatus(rc.MessageID, status); err != nil {
		e.logger.Error("failed to cache receipt", zap.Error(err), zap.String("msg_id", rc.MessageID))
	}
}

// IngestHistory stores a fetched history page in one transaction so a
// partial write never leaves a gap in the cached timeline.
func (e *Engine) IngestHistory(peer string, msgs []*chatsdk.Message) error {
	tx, err := e.db.Begin()
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := store.UpsertMessageTx(tx, toRow(peer, e.me, m)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.logger.Debug("history page cached", zap.String("peer_id", peer), zap.Int("count", len(msgs)))
	return nil
}

// WrapClient returns a client whose history fetches are mirrored into
// the cache on the way through to the caller.
func (e *Engine) WrapClient(c chatsdk.Client) chatsdk.Client {
	return &cachingClient{Client: c, engine: e}
}

type cachingClient struct {
	chatsdk.Client
	engine *Engine
}

func (c *cachingClient) FetchPreviousMessages(ctx context.Context, page chatsdk.Page) ([]*chatsdk.Message, error) {
	msgs, err := c.Client.FetchPreviousMessages(ctx, page)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		if cerr := c.engine.IngestHistory(page.PeerID, msgs); cerr != nil {
			c.engine.logger.Error("failed to cache history page",
				zap.Error(cerr), zap.String("peer_id", page.PeerID))
		}
	}
	return msgs, nil
}

func toRow(peer, me string, m *chatsdk.Message) *store.Message {
	return &store.Message{
		PeerID:     peer,
		MsgID:      m.ID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Body:       m.Body,
		Kind:       m.Kind,
		FromMe:     m.SenderID == me,
		Status:     m.Status,
		SentAt:     m.SentAt,
		EditedAt:   m.EditedAt,
		DeletedAt:  m.DeletedAt,
	}
}

func senderName(me string, m *chatsdk.Message) string {
	if m.SenderID == me {
		return ""
	}
	return m.SenderName
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Payload: payload})
}
