package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andrelmm/convo/internal/bus"
	"github.com/andrelmm/convo/internal/chatsdk"
	"github.com/andrelmm/convo/internal/store"
)

// pendingPrefix marks client-generated placeholder ids. A pending id is
// always replaced wholesale by the authoritative id on confirmation,
// never merged by value.
const pendingPrefix = "pending-"

// SendJournal persists the optimistic send lifecycle so undelivered
// drafts survive a restart. *store.DB satisfies it.
type SendJournal interface {
	QueueOutboxSending(e *store.OutboxEntry) error
	MarkOutboxSent(clientMsgID, serverMsgID string) error
	MarkOutboxFailed(clientMsgID, errMsg string) error
	RequeueOutbox(clientMsgID string) error
	DropOutbox(clientMsgID string) error
}

// SetJournal attaches the durable outbox journal. Without one, sends
// and retries still work but do not survive a restart.
func (s *Store) SetJournal(j SendJournal) {
	s.mu.Lock()
	s.journal = j
	s.mu.Unlock()
}

// Send stages an optimistic message at the head of the window, then
// performs the network send and reconciles the result. The pending
// entry is visible to the UI (via the bus) before the network call
// completes; callers typically run Send on its own goroutine.
//
// On success exactly one entry with the authoritative id remains in the
// window. On failure the entry stays, tagged failed, until the user
// retries or discards it.
func (s *Store) Send(ctx context.Context, kind, body, mediaURL string) (pendingID string, err error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return "", ErrNoActiveConversation
	}
	gen := s.gen
	draft := chatsdk.Draft{
		ReceiverID:   s.peerID,
		ReceiverType: s.recvType,
		Kind:         kind,
		Body:         body,
		MediaURL:     mediaURL,
	}
	if s.replyTo != nil {
		draft.ReplyToID = s.replyTo.ID
		s.replyTo = nil
	}
	pendingID = pendingPrefix + uuid.NewString()
	pending := &chatsdk.Message{
		ID:           pendingID,
		SenderID:     s.me,
		ReceiverID:   draft.ReceiverID,
		ReceiverType: draft.ReceiverType,
		Kind:         draft.Kind,
		Body:         draft.Body,
		MediaURL:     draft.MediaURL,
		Status:       chatsdk.StatusPending,
		SentAt:       time.Now().UnixMilli(),
	}
	s.window = append([]*chatsdk.Message{pending}, s.window...)
	journal := s.journal
	s.mu.Unlock()
	s.publish(bus.KindMessageUpserted, pendingID)

	// Journal the draft as already claimed, so the drain loop never
	// races this inline attempt. Durability is best effort; a journal
	// error must not block the send.
	if journal != nil {
		if jerr := journal.QueueOutboxSending(&store.OutboxEntry{
			ClientMsgID:  pendingID,
			PeerID:       draft.ReceiverID,
			ReceiverType: string(draft.ReceiverType),
			Kind:         draft.Kind,
			Body:         draft.Body,
			MediaURL:     draft.MediaURL,
			ReplyToID:    draft.ReplyToID,
		}); jerr != nil {
			s.logger.Warn("failed to journal outgoing draft", zap.Error(jerr))
		}
	}

	return pendingID, s.resolveSend(ctx, gen, pendingID, draft)
}

// Retry re-sends a message that previously failed. The entry flips back
// to pending. With a journal attached the draft is requeued for the
// outbox drain, which reports back through ConfirmSend or FailSend;
// without one the resend runs inline through the same resolution path
// as Send.
func (s *Store) Retry(ctx context.Context, pendingID string) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrNoActiveConversation
	}
	i := s.indexOf(pendingID)
	if i < 0 {
		s.mu.Unlock()
		return ErrNotInWindow
	}
	entry := s.window[i]
	if entry.Status != chatsdk.StatusFailed {
		s.mu.Unlock()
		return fmt.Errorf("message %s is %s, only failed sends can be retried", pendingID, entry.Status)
	}
	entry.Status = chatsdk.StatusPending
	gen := s.gen
	journal := s.journal
	draft := chatsdk.Draft{
		ReceiverID:   entry.ReceiverID,
		ReceiverType: entry.ReceiverType,
		Kind:         entry.Kind,
		Body:         entry.Body,
		MediaURL:     entry.MediaURL,
	}
	s.mu.Unlock()
	s.publish(bus.KindMessageUpserted, pendingID)

	if journal != nil {
		if err := journal.RequeueOutbox(pendingID); err != nil {
			return fmt.Errorf("requeue send: %w", err)
		}
		return nil
	}
	return s.resolveSend(ctx, gen, pendingID, draft)
}

// Discard removes a failed optimistic entry from the window and drops
// its journaled draft. Only failed entries may be discarded; confirmed
// messages are tombstoned through DeleteForEveryone instead.
func (s *Store) Discard(pendingID string) error {
	s.mu.Lock()
	i := s.indexOf(pendingID)
	if i < 0 {
		s.mu.Unlock()
		return ErrNotInWindow
	}
	if s.window[i].Status != chatsdk.StatusFailed {
		status := s.window[i].Status
		s.mu.Unlock()
		return fmt.Errorf("message %s is %s, only failed sends can be discarded", pendingID, status)
	}
	s.window = append(s.window[:i], s.window[i+1:]...)
	journal := s.journal
	s.mu.Unlock()

	if journal != nil {
		if err := journal.DropOutbox(pendingID); err != nil {
			s.logger.Warn("failed to drop journaled draft", zap.Error(err))
		}
	}
	return nil
}

// ConfirmSend swaps an optimistic placeholder for the authoritative
// message after the outbox drain delivered it. Ids no longer in the
// window, because the conversation switched, are ignored.
func (s *Store) ConfirmSend(clientMsgID string, m *chatsdk.Message) {
	s.mu.Lock()
	i := s.indexOf(clientMsgID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	confirmed := *m
	if confirmed.Status == "" {
		confirmed.Status = chatsdk.StatusSent
	}
	if s.indexOf(m.ID) >= 0 {
		// The push echo already landed; drop the placeholder.
		s.window = append(s.window[:i], s.window[i+1:]...)
	} else {
		s.window[i] = &confirmed
	}
	s.mu.Unlock()
	s.publish(bus.KindMessageSendAck, m.ID)
}

// FailSend tags an optimistic placeholder failed after the outbox
// drain could not deliver it.
func (s *Store) FailSend(clientMsgID string) {
	s.mu.Lock()
	i := s.indexOf(clientMsgID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.window[i].Status = chatsdk.StatusFailed
	s.mu.Unlock()
	s.publish(bus.KindMessageSendFailed, clientMsgID)
}

func (s *Store) resolveSend(ctx context.Context, gen uint64, pendingID string, draft chatsdk.Draft) error {
	sent, err := s.client.SendMessage(ctx, draft)

	// The journal reflects the network outcome even when the window
	// moved on; a stranded 'sending' row would be redelivered on the
	// next start and duplicate the message.
	s.mu.Lock()
	journal := s.journal
	s.mu.Unlock()
	if journal != nil {
		if err != nil {
			_ = journal.MarkOutboxFailed(pendingID, err.Error())
		} else {
			_ = journal.MarkOutboxSent(pendingID, sent.ID)
		}
	}

	s.mu.Lock()
	if s.gen != gen {
		// The conversation switched mid-send; the pending entry is
		// already gone with the old window. Nothing left to reconcile.
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		return nil
	}

	i := s.indexOf(pendingID)
	if err != nil {
		if i >= 0 {
			s.window[i].Status = chatsdk.StatusFailed
		}
		s.mu.Unlock()
		s.publish(bus.KindMessageSendFailed, pendingID)
		return fmt.Errorf("send message: %w", err)
	}

	sent.Status = chatsdk.StatusSent
	switch {
	case i < 0:
		// Pending entry vanished (e.g. discarded); still record the
		// confirmed message if the echo has not arrived yet.
		if s.indexOf(sent.ID) < 0 {
			s.window = append([]*chatsdk.Message{sent}, s.window...)
		}
	case s.indexOf(sent.ID) >= 0:
		// The push listener delivered the authoritative message before
		// the send call returned. Drop the placeholder, keep the echo.
		s.window = append(s.window[:i], s.window[i+1:]...)
	default:
		// Swap the placeholder for the authoritative message in place.
		s.window[i] = sent
	}
	s.mu.Unlock()
	s.publish(bus.KindMessageSendAck, sent.ID)
	return nil
}

// DeleteForEveryone deletes a confirmed message via the service and
// tombstones it locally. The entry keeps its position in the window so
// scroll offsets and pagination cursors stay valid.
func (s *Store) DeleteForEveryone(ctx context.Context, messageID string) error {
	s.mu.Lock()
	if s.indexOf(messageID) < 0 {
		s.mu.Unlock()
		return ErrNotInWindow
	}
	gen := s.gen
	s.mu.Unlock()

	if err := s.client.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	s.mu.Lock()
	if s.gen == gen {
		if i := s.indexOf(messageID); i >= 0 && s.window[i].DeletedAt == 0 {
			s.window[i].DeletedAt = time.Now().UnixMilli()
		}
	}
	s.mu.Unlock()
	s.publish(bus.KindMessageDeleted, messageID)
	return nil
}
