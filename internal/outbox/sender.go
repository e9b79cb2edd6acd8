// Package outbox drains queued sends through the vendor service and
// keeps the cache's optimistic entries converging on authoritative ids.
package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/andrelmm/convo/internal/bus"
	"github.com/andrelmm/convo/internal/chatsdk"
	"github.com/andrelmm/convo/internal/store"
)

// MessageSender is the slice of the SDK surface the sender needs.
type MessageSender interface {
	SendMessage(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error)
}

// WindowReconciler reflects drain results into the active message
// window. Implemented by the conversation store; a headless process
// runs without one.
type WindowReconciler interface {
	ConfirmSend(clientMsgID string, m *chatsdk.Message)
	FailSend(clientMsgID string)
}

// Sender drains the outbox and sends messages via the service gateway.
type Sender struct {
	db         *store.DB
	sender     MessageSender
	bus        *bus.Bus
	logger     *zap.Logger
	reconciler WindowReconciler
	cancel     context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, sender MessageSender, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:     db,
		sender: sender,
		bus:    b,
		logger: logger,
	}
}

// SetReconciler attaches the window reconciler the drain reports to.
func (s *Sender) SetReconciler(r WindowReconciler) {
	s.reconciler = r
}

// Start requeues sends interrupted by the previous run, then begins
// polling the outbox. Redelivery across an interrupted run is at least
// once: a crash after the wire write but before the sent mark resends.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueInterrupted(); err != nil {
		s.logger.Error("failed to requeue interrupted sends", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued interrupted sends", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
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
			s.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending sends every queued entry once. Exported so tests and
// an explicit "retry now" action can drive a single pass.
func (s *Sender) ProcessPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		s.sendOne(ctx, entry)
	}
}

func (s *Sender) sendOne(ctx context.Context, entry store.OutboxEntry) {
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		return
	}

	// Optimistic insert: the placeholder renders immediately under the
	// client id and is swapped for the authoritative row on ack.
	now := time.Now().UnixMilli()
	kind := entry.Kind
	if kind == "" {
		kind = "text"
	}
	_ = s.db.UpsertMessage(&store.Message{
		PeerID: entry.PeerID,
		MsgID:  entry.ClientMsgID,
		Body:   entry.Body,
		Kind:   kind,
		FromMe: true,
		Status: chatsdk.StatusPending,
		SentAt: now,
	})
	s.publish(bus.KindMessageUpserted, map[string]string{"peer_id": entry.PeerID, "msg_id": entry.ClientMsgID})

	sent, err := s.sender.SendMessage(ctx, chatsdk.Draft{
		ReceiverID:   entry.PeerID,
		ReceiverType: chatsdk.ReceiverType(entry.ReceiverType),
		Kind:         kind,
		Body:         entry.Body,
		MediaURL:     entry.MediaURL,
		ReplyToID:    entry.ReplyToID,
	})
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
		_ = s.db.UpsertMessage(&store.Message{
			PeerID: entry.PeerID, MsgID: entry.ClientMsgID,
			Body: entry.Body, Kind: kind, FromMe: true,
			Status: chatsdk.StatusFailed, SentAt: now,
		})
		if s.reconciler != nil {
			s.reconciler.FailSend(entry.ClientMsgID)
		}
		s.publish(bus.KindMessageSendFailed, map[string]string{
			"client_msg_id": entry.ClientMsgID,
			"error":         err.Error(),
		})
		return
	}

	if err := s.db.MarkOutboxSent(entry.ClientMsgID, sent.ID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
	}

	// Swap the placeholder for the authoritative row.
	_ = s.db.UpsertMessage(&store.Message{
		PeerID: entry.PeerID, MsgID: sent.ID,
		SenderID: sent.SenderID, Body: entry.Body, Kind: kind,
		FromMe: true, Status: chatsdk.StatusSent,
		SentAt: pickSentAt(sent.SentAt, now),
	})
	_ = s.db.RemoveMessage(entry.PeerID, entry.ClientMsgID)
	if s.reconciler != nil {
		s.reconciler.ConfirmSend(entry.ClientMsgID, sent)
	}

	s.logger.Info("message sent", zap.String("client_msg_id", entry.ClientMsgID), zap.String("server_msg_id", sent.ID))
	s.publish(bus.KindMessageSendAck, map[string]string{
		"client_msg_id": entry.ClientMsgID,
		"server_msg_id": sent.ID,
	})
}

func pickSentAt(serverTs, localTs int64) int64 {
	if serverTs > 0 {
		return serverTs
	}
	return localTs
}

func (s *Sender) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
