package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrelmm/convo/internal/bus"
	"github.com/andrelmm/convo/internal/chatsdk"
	"github.com/andrelmm/convo/internal/store"
)

type fakeSender struct {
	mu     sync.Mutex
	drafts []chatsdk.Draft
	err    error
	nextID string
}

func (f *fakeSender) SendMessage(_ context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts = append(f.drafts, draft)
	if f.err != nil {
		return nil, f.err
	}
	return &chatsdk.Message{
		ID:           f.nextID,
		SenderID:     "me",
		ReceiverID:   draft.ReceiverID,
		ReceiverType: draft.ReceiverType,
		Kind:         draft.Kind,
		Body:         draft.Body,
		Status:       chatsdk.StatusSent,
		SentAt:       9000,
	}, nil
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func drainKinds(ch <-chan bus.Event) []string {
	var kinds []string
	for {
		select {
		case ev := <-ch:
			kinds = append(kinds, ev.Kind)
		default:
			return kinds
		}
	}
}

func TestSenderDrainsQueuedEntry(t *testing.T) {
	db := testDB(t)
	fake := &fakeSender{nextID: "srv1"}
	s := NewSender(db, fake, nil, nil)

	require.NoError(t, db.QueueOutbox("c1", "alice", "user", "hello"))
	s.ProcessPending(context.Background())

	assert.Len(t, fake.drafts, 1)
	assert.Equal(t, "alice", fake.drafts[0].ReceiverID)
	assert.Equal(t, chatsdk.ReceiverUser, fake.drafts[0].ReceiverType)

	pending, err := db.PendingOutbox()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSenderSwapsPlaceholderForServerID(t *testing.T) {
	db := testDB(t)
	fake := &fakeSender{nextID: "srv1"}
	s := NewSender(db, fake, nil, nil)

	require.NoError(t, db.QueueOutbox("c1", "alice", "user", "hello"))
	s.ProcessPending(context.Background())

	msgs, err := db.ListMessages("alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv1", msgs[0].MsgID)
	assert.Equal(t, chatsdk.StatusSent, msgs[0].Status)
	assert.Equal(t, int64(9000), msgs[0].SentAt)
}

func TestSenderMarksFailureAndKeepsPlaceholder(t *testing.T) {
	db := testDB(t)
	fake := &fakeSender{err: errors.New("network down")}
	s := NewSender(db, fake, nil, nil)

	require.NoError(t, db.QueueOutbox("c1", "alice", "user", "hello"))
	s.ProcessPending(context.Background())

	// The failed entry leaves the queue until an explicit retry.
	pending, err := db.PendingOutbox()
	require.NoError(t, err)
	assert.Empty(t, pending)

	msgs, err := db.ListMessages("alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c1", msgs[0].MsgID)
	assert.Equal(t, chatsdk.StatusFailed, msgs[0].Status)

	// Explicit retry path: requeue, fix the network, drain again.
	fake.err = nil
	fake.nextID = "srv1"
	require.NoError(t, db.RequeueOutbox("c1"))
	s.ProcessPending(context.Background())

	msgs, err = db.ListMessages("alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "srv1", msgs[0].MsgID)
}

type fakeReconciler struct {
	mu        sync.Mutex
	confirmed map[string]string // client id -> server id
	failed    []string
}

func (r *fakeReconciler) ConfirmSend(clientMsgID string, m *chatsdk.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.confirmed == nil {
		r.confirmed = map[string]string{}
	}
	r.confirmed[clientMsgID] = m.ID
}

func (r *fakeReconciler) FailSend(clientMsgID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, clientMsgID)
}

func TestSenderReportsToReconciler(t *testing.T) {
	db := testDB(t)
	fake := &fakeSender{err: errors.New("down")}
	s := NewSender(db, fake, nil, nil)
	rec := &fakeReconciler{}
	s.SetReconciler(rec)

	require.NoError(t, db.QueueOutbox("c1", "alice", "user", "hello"))
	s.ProcessPending(context.Background())
	assert.Equal(t, []string{"c1"}, rec.failed)

	fake.err = nil
	fake.nextID = "srv1"
	require.NoError(t, db.RequeueOutbox("c1"))
	s.ProcessPending(context.Background())
	assert.Equal(t, "srv1", rec.confirmed["c1"])
}

func TestStartDeliversInterruptedSends(t *testing.T) {
	db := testDB(t)
	fake := &fakeSender{nextID: "srv1"}
	s := NewSender(db, fake, nil, nil)

	// A row claimed by a run that never resolved it.
	require.NoError(t, db.QueueOutboxSending(&store.OutboxEntry{
		ClientMsgID: "c1", PeerID: "alice", ReceiverType: "user", Body: "stranded",
	}))

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		msgs, err := db.ListMessages("alice", 0, 10)
		return err == nil && len(msgs) == 1 && msgs[0].MsgID == "srv1"
	}, 3*time.Second, 20*time.Millisecond, "interrupted send must drain after restart")
}

func TestSenderPublishesAckAndFailureEvents(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ch, cancel := b.Subscribe("message.", 16)
	defer cancel()

	fake := &fakeSender{err: errors.New("boom")}
	s := NewSender(db, fake, b, nil)

	require.NoError(t, db.QueueOutbox("c1", "alice", "user", "hi"))
	s.ProcessPending(context.Background())

	fake.err = nil
	fake.nextID = "srv1"
	require.NoError(t, db.RequeueOutbox("c1"))
	s.ProcessPending(context.Background())

	kinds := drainKinds(ch)
	assert.Contains(t, kinds, bus.KindMessageSendFailed)
	assert.Contains(t, kinds, bus.KindMessageSendAck)
}
