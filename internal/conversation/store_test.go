package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrelmm/convo/internal/chatsdk"
	"github.com/andrelmm/convo/internal/store"
)

// fakeJournal records the outbox calls the store makes.
type fakeJournal struct {
	mu       sync.Mutex
	queued   []store.OutboxEntry
	sent     map[string]string
	failed   map[string]string
	requeued []string
	dropped  []string
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{sent: map[string]string{}, failed: map[string]string{}}
}

func (j *fakeJournal) QueueOutboxSending(e *store.OutboxEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.queued = append(j.queued, *e)
	return nil
}

func (j *fakeJournal) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sent[clientMsgID] = serverMsgID
	return nil
}

func (j *fakeJournal) MarkOutboxFailed(clientMsgID, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failed[clientMsgID] = errMsg
	return nil
}

func (j *fakeJournal) RequeueOutbox(clientMsgID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.requeued = append(j.requeued, clientMsgID)
	return nil
}

func (j *fakeJournal) DropOutbox(clientMsgID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.dropped = append(j.dropped, clientMsgID)
	return nil
}

// fakeClient implements chatsdk.Client with overridable behavior.
type fakeClient struct {
	sendFn   func(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error)
	fetchFn  func(ctx context.Context, page chatsdk.Page) ([]*chatsdk.Message, error)
	deleteFn func(ctx context.Context, id string) error

	fetchCalls atomic.Int32
}

func (f *fakeClient) SendMessage(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
	if f.sendFn == nil {
		return nil, errors.New("sendFn not set")
	}
	return f.sendFn(ctx, draft)
}

func (f *fakeClient) FetchPreviousMessages(ctx context.Context, page chatsdk.Page) ([]*chatsdk.Message, error) {
	f.fetchCalls.Add(1)
	if f.fetchFn == nil {
		return nil, nil
	}
	return f.fetchFn(ctx, page)
}

func (f *fakeClient) DeleteMessage(ctx context.Context, id string) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(ctx, id)
}

func (f *fakeClient) InitiateCall(context.Context, string, chatsdk.ReceiverType, chatsdk.CallMedia) (*chatsdk.SessionInfo, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) AcceptCall(context.Context, string) (*chatsdk.SessionInfo, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeClient) RejectCall(context.Context, string) error { return nil }
func (f *fakeClient) EndSession(context.Context, string) error { return nil }

func inbound(id, body string, sentAt int64) *chatsdk.Message {
	return &chatsdk.Message{
		ID: id, SenderID: "peer", ReceiverID: "me",
		ReceiverType: chatsdk.ReceiverUser,
		Kind:         "text", Body: body, SentAt: sentAt,
	}
}

func newTestStore(c chatsdk.Client) *Store {
	s := New("me", c, nil, nil)
	s.SetActive("peer", chatsdk.ReceiverUser)
	return s
}

func TestOnMessageIdempotentMerge(t *testing.T) {
	s := newTestStore(&fakeClient{})

	evt := inbound("m1", "hello", 1000)
	s.OnMessage(evt)
	s.OnMessage(inbound("m1", "hello", 1000))

	w := s.Window()
	require.Len(t, w, 1, "duplicate delivery must not duplicate the entry")
	assert.Equal(t, "m1", w[0].ID)
}

func TestOnMessageMembershipFilter(t *testing.T) {
	s := newTestStore(&fakeClient{})

	// Different peer entirely.
	s.OnMessage(&chatsdk.Message{
		ID: "x1", SenderID: "stranger", ReceiverID: "me",
		ReceiverType: chatsdk.ReceiverUser, Body: "nope",
	})
	// Group event while a direct conversation is active.
	s.OnMessage(&chatsdk.Message{
		ID: "x2", SenderID: "peer", ReceiverID: "some-group",
		ReceiverType: chatsdk.ReceiverGroup, Body: "nope",
	})

	assert.Empty(t, s.Window(), "foreign events must not mutate the window")

	// Both directions of the active pair pass.
	s.OnMessage(inbound("m1", "from peer", 1000))
	s.OnMessage(&chatsdk.Message{
		ID: "m2", SenderID: "me", ReceiverID: "peer",
		ReceiverType: chatsdk.ReceiverUser, Body: "from me", SentAt: 2000,
	})
	assert.Len(t, s.Window(), 2)
}

func TestGroupMembership(t *testing.T) {
	s := New("me", &fakeClient{}, nil, nil)
	s.SetActive("g1", chatsdk.ReceiverGroup)

	s.OnMessage(&chatsdk.Message{
		ID: "m1", SenderID: "anyone", ReceiverID: "g1",
		ReceiverType: chatsdk.ReceiverGroup, Body: "hi group",
	})
	s.OnMessage(&chatsdk.Message{
		ID: "m2", SenderID: "anyone", ReceiverID: "g2",
		ReceiverType: chatsdk.ReceiverGroup, Body: "other group",
	})

	w := s.Window()
	require.Len(t, w, 1)
	assert.Equal(t, "m1", w[0].ID)
}

func TestSetActiveClearsPreviousWindow(t *testing.T) {
	s := newTestStore(&fakeClient{})
	s.OnMessage(inbound("m1", "old", 1000))
	require.NoError(t, s.MarkReply("m1"))

	s.SetActive("other", chatsdk.ReceiverUser)

	assert.Empty(t, s.Window(), "window must not leak across conversations")
	assert.True(t, s.HasMore())
	assert.False(t, s.Loading())
	_, ok := s.Reply()
	assert.False(t, ok, "reply mark must be cleared on switch")
}

func TestStaleFetchResolutionDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fake := &fakeClient{}
	fake.fetchFn = func(ctx context.Context, page chatsdk.Page) ([]*chatsdk.Message, error) {
		if page.PeerID == "peer" {
			close(entered)
			<-release
			return []*chatsdk.Message{inbound("stale1", "stale", 500)}, nil
		}
		return nil, nil
	}

	s := newTestStore(fake)
	done := make(chan error, 1)
	go func() { done <- s.FetchPage(context.Background(), true) }()
	<-entered

	// User navigates to conversation B before A's fetch resolves.
	s.SetActive("other", chatsdk.ReceiverUser)
	close(release)
	require.NoError(t, <-done)

	assert.Empty(t, s.Window(), "stale resolution must not repopulate the new window")
	assert.False(t, s.Loading())
}

func TestFetchPageNoReentry(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fake := &fakeClient{}
	fake.fetchFn = func(ctx context.Context, page chatsdk.Page) ([]*chatsdk.Message, error) {
		close(entered)
		<-release
		return nil, nil
	}

	s := newTestStore(fake)
	done := make(chan error, 1)
	go func() { done <- s.FetchPage(context.Background(), true) }()
	<-entered

	// Second call while loading is a no-op.
	require.NoError(t, s.FetchPage(context.Background(), false))
	assert.Equal(t, int32(1), fake.fetchCalls.Load(), "no duplicate request while in flight")

	close(release)
	require.NoError(t, <-done)
}

func TestFetchPageAppendsOlderAndSetsHasMore(t *testing.T) {
	fake := &fakeClient{}
	fake.fetchFn = func(ctx context.Context, page chatsdk.Page) ([]*chatsdk.Message, error) {
		if page.BeforeSentAt == 0 {
			return []*chatsdk.Message{
				inbound("m5", "five", 5000),
				inbound("m4", "four", 4000),
				inbound("m3", "three", 3000),
			}, nil
		}
		// Older page, shorter than the limit.
		return []*chatsdk.Message{
			inbound("m2", "two", 2000),
			inbound("m1", "one", 1000),
		}, nil
	}

	s := newTestStore(fake)
	s.SetPageSize(3)

	require.NoError(t, s.FetchPage(context.Background(), true))
	assert.True(t, s.HasMore(), "full page means more history")

	require.NoError(t, s.FetchPage(context.Background(), false))

	w := s.Window()
	require.Len(t, w, 5)
	for i, want := range []string{"m5", "m4", "m3", "m2", "m1"} {
		assert.Equal(t, want, w[i].ID, "window order at %d", i)
	}
	assert.False(t, s.HasMore(), "short page exhausts history")
}

func TestFetchPageErrorLeavesWindowRetryable(t *testing.T) {
	fake := &fakeClient{}
	fail := true
	fake.fetchFn = func(ctx context.Context, page chatsdk.Page) ([]*chatsdk.Message, error) {
		if fail {
			return nil, errors.New("network down")
		}
		return []*chatsdk.Message{inbound("m1", "one", 1000)}, nil
	}

	s := newTestStore(fake)
	err := s.FetchPage(context.Background(), true)
	require.Error(t, err)
	assert.Empty(t, s.Window())
	assert.False(t, s.Loading(), "failed fetch must not leave the store stuck loading")

	fail = false
	require.NoError(t, s.FetchPage(context.Background(), true))
	assert.Len(t, s.Window(), 1)
}

func TestSendOptimisticConvergence(t *testing.T) {
	fake := &fakeClient{}
	fake.sendFn = func(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
		return &chatsdk.Message{
			ID: "srv1", SenderID: "me", ReceiverID: draft.ReceiverID,
			ReceiverType: draft.ReceiverType, Kind: draft.Kind,
			Body: draft.Body, SentAt: time.Now().UnixMilli(),
		}, nil
	}

	s := newTestStore(fake)
	pendingID, err := s.Send(context.Background(), "text", "hello", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(pendingID, "pending-"))

	w := s.Window()
	require.Len(t, w, 1, "exactly one entry after confirmation")
	assert.Equal(t, "srv1", w[0].ID, "authoritative id replaces the placeholder")
	assert.Equal(t, chatsdk.StatusSent, w[0].Status)
}

func TestSendFailureTagsEntry(t *testing.T) {
	fake := &fakeClient{}
	fake.sendFn = func(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
		return nil, errors.New("service unavailable")
	}

	s := newTestStore(fake)
	pendingID, err := s.Send(context.Background(), "text", "hello", "")
	require.Error(t, err)

	w := s.Window()
	require.Len(t, w, 1, "failed sends never silently vanish")
	assert.Equal(t, pendingID, w[0].ID)
	assert.Equal(t, chatsdk.StatusFailed, w[0].Status)
}

func TestRetryAfterFailure(t *testing.T) {
	fake := &fakeClient{}
	attempts := 0
	fake.sendFn = func(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("flaky")
		}
		return &chatsdk.Message{ID: "srv1", SenderID: "me", ReceiverID: draft.ReceiverID,
			ReceiverType: draft.ReceiverType, Body: draft.Body}, nil
	}

	s := newTestStore(fake)
	pendingID, err := s.Send(context.Background(), "text", "hello", "")
	require.Error(t, err)

	require.NoError(t, s.Retry(context.Background(), pendingID))

	w := s.Window()
	require.Len(t, w, 1)
	assert.Equal(t, "srv1", w[0].ID)
	assert.Equal(t, chatsdk.StatusSent, w[0].Status)
}

func TestSendJournalsDraftLifecycle(t *testing.T) {
	fake := &fakeClient{}
	fake.sendFn = func(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
		return &chatsdk.Message{ID: "srv1", SenderID: "me", ReceiverID: draft.ReceiverID,
			ReceiverType: draft.ReceiverType, Body: draft.Body}, nil
	}

	s := newTestStore(fake)
	journal := newFakeJournal()
	s.SetJournal(journal)

	pendingID, err := s.Send(context.Background(), "text", "hello", "")
	require.NoError(t, err)

	require.Len(t, journal.queued, 1, "draft must be journaled before the network call")
	assert.Equal(t, pendingID, journal.queued[0].ClientMsgID)
	assert.Equal(t, "peer", journal.queued[0].PeerID)
	assert.Equal(t, "srv1", journal.sent[pendingID])
}

func TestSendFailureJournaledEvenAfterSwitch(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	fake := &fakeClient{}
	fake.sendFn = func(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
		close(entered)
		<-release
		return nil, errors.New("wire cut")
	}

	s := newTestStore(fake)
	journal := newFakeJournal()
	s.SetJournal(journal)

	done := make(chan error, 1)
	var pendingID string
	go func() {
		id, err := s.Send(context.Background(), "text", "hello", "")
		pendingID = id
		done <- err
	}()
	<-entered

	// The conversation switches while the send is in flight. The window
	// is gone, but the journal row must still leave the 'sending' state
	// or the next start would redeliver a message that never went out as
	// a duplicate of one that did.
	s.SetActive("other", chatsdk.ReceiverUser)
	close(release)
	require.Error(t, <-done)

	assert.Contains(t, journal.failed, pendingID)
}

func TestRetryRequeuesThroughJournal(t *testing.T) {
	fake := &fakeClient{}
	fake.sendFn = func(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
		return nil, errors.New("flaky")
	}

	s := newTestStore(fake)
	journal := newFakeJournal()
	s.SetJournal(journal)

	pendingID, err := s.Send(context.Background(), "text", "hello", "")
	require.Error(t, err)
	assert.Contains(t, journal.failed, pendingID)

	// Explicit retry hands the draft back to the drain loop.
	require.NoError(t, s.Retry(context.Background(), pendingID))
	assert.Equal(t, []string{pendingID}, journal.requeued)
	assert.Equal(t, chatsdk.StatusPending, s.Window()[0].Status)

	// The drain reports back through ConfirmSend.
	s.ConfirmSend(pendingID, &chatsdk.Message{ID: "srv1", SenderID: "me",
		ReceiverID: "peer", ReceiverType: chatsdk.ReceiverUser, Body: "hello"})

	w := s.Window()
	require.Len(t, w, 1)
	assert.Equal(t, "srv1", w[0].ID)
	assert.Equal(t, chatsdk.StatusSent, w[0].Status)
}

func TestFailSendTagsPlaceholder(t *testing.T) {
	fake := &fakeClient{}
	fake.sendFn = func(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
		return nil, errors.New("down")
	}

	s := newTestStore(fake)
	journal := newFakeJournal()
	s.SetJournal(journal)

	pendingID, err := s.Send(context.Background(), "text", "hi", "")
	require.Error(t, err)
	require.NoError(t, s.Retry(context.Background(), pendingID))

	s.FailSend(pendingID)
	assert.Equal(t, chatsdk.StatusFailed, s.Window()[0].Status)

	// Ids from a window that has since switched are ignored.
	s.SetActive("other", chatsdk.ReceiverUser)
	s.FailSend(pendingID)
	assert.Empty(t, s.Window())
}

func TestConfirmSendKeepsEchoOverPlaceholder(t *testing.T) {
	fake := &fakeClient{}
	fake.sendFn = func(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
		return nil, errors.New("down")
	}
	s := newTestStore(fake)
	pendingID, err := s.Send(context.Background(), "text", "hi", "")
	require.Error(t, err)

	echo := &chatsdk.Message{ID: "srv1", SenderID: "me", ReceiverID: "peer",
		ReceiverType: chatsdk.ReceiverUser, Body: "hi", Status: chatsdk.StatusSent}
	s.OnMessage(echo)
	s.ConfirmSend(pendingID, &chatsdk.Message{ID: "srv1", SenderID: "me",
		ReceiverID: "peer", ReceiverType: chatsdk.ReceiverUser, Body: "hi"})

	w := s.Window()
	require.Len(t, w, 1, "echo plus drain confirmation must converge to one entry")
	assert.Equal(t, "srv1", w[0].ID)
}

func TestDiscardDropsJournaledDraft(t *testing.T) {
	fake := &fakeClient{}
	fake.sendFn = func(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
		return nil, errors.New("down")
	}
	s := newTestStore(fake)
	journal := newFakeJournal()
	s.SetJournal(journal)

	pendingID, err := s.Send(context.Background(), "text", "hi", "")
	require.Error(t, err)

	require.NoError(t, s.Discard(pendingID))
	assert.Empty(t, s.Window())
	assert.Equal(t, []string{pendingID}, journal.dropped)
}

func TestDiscardOnlyFailedEntries(t *testing.T) {
	s := newTestStore(&fakeClient{})
	s.OnMessage(inbound("m1", "confirmed", 1000))

	err := s.Discard("m1")
	require.Error(t, err, "confirmed messages cannot be discarded")
	assert.Len(t, s.Window(), 1)
}

func TestEchoBeforeSendAck(t *testing.T) {
	var s *Store
	fake := &fakeClient{}
	fake.sendFn = func(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
		// The push listener races the send response and wins.
		echo := &chatsdk.Message{ID: "srv1", SenderID: "me", ReceiverID: draft.ReceiverID,
			ReceiverType: draft.ReceiverType, Body: draft.Body, Status: chatsdk.StatusSent}
		s.OnMessage(echo)
		return &chatsdk.Message{ID: "srv1", SenderID: "me", ReceiverID: draft.ReceiverID,
			ReceiverType: draft.ReceiverType, Body: draft.Body}, nil
	}

	s = newTestStore(fake)
	_, err := s.Send(context.Background(), "text", "hello", "")
	require.NoError(t, err)

	w := s.Window()
	require.Len(t, w, 1, "echo plus ack must still converge to one entry")
	assert.Equal(t, "srv1", w[0].ID)
}

func TestDeleteEventTombstones(t *testing.T) {
	s := newTestStore(&fakeClient{})
	s.OnMessage(inbound("m2", "two", 2000))
	s.OnMessage(inbound("m1", "one", 1000))

	s.OnMessageDeleted(inbound("m2", "", 2000))

	w := s.Window()
	require.Len(t, w, 2, "tombstones stay in the ordered sequence")
	var tomb *chatsdk.Message
	for _, m := range w {
		if m.ID == "m2" {
			tomb = m
		}
	}
	require.NotNil(t, tomb)
	assert.True(t, tomb.Deleted())

	// Duplicate delete delivery keeps the original tombstone timestamp.
	before := tomb.DeletedAt
	s.OnMessageDeleted(inbound("m2", "", 2000))
	assert.Equal(t, before, tomb.DeletedAt)
}

func TestEditEventUpdatesInPlace(t *testing.T) {
	s := newTestStore(&fakeClient{})
	s.OnMessage(inbound("m1", "typo", 1000))

	edit := inbound("m1", "fixed", 1000)
	edit.EditedAt = 1500
	s.OnMessageEdited(edit)

	w := s.Window()
	require.Len(t, w, 1)
	assert.Equal(t, "fixed", w[0].Body)
	assert.Equal(t, int64(1500), w[0].EditedAt)

	// Edit of a message outside the window is dropped, not inserted.
	s.OnMessageEdited(inbound("m9", "ghost", 900))
	assert.Len(t, s.Window(), 1)
}

func TestReceiptUpgradesStatusNeverDowngrades(t *testing.T) {
	fake := &fakeClient{}
	fake.sendFn = func(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
		return &chatsdk.Message{ID: "srv1", SenderID: "me", ReceiverID: draft.ReceiverID,
			ReceiverType: draft.ReceiverType, Body: draft.Body}, nil
	}
	s := newTestStore(fake)
	_, err := s.Send(context.Background(), "text", "hi", "")
	require.NoError(t, err)

	s.OnReceipt(&chatsdk.Receipt{MessageID: "srv1", Kind: chatsdk.StatusRead})
	assert.Equal(t, chatsdk.StatusRead, s.Window()[0].Status)

	// A late delivered receipt must not undo read.
	s.OnReceipt(&chatsdk.Receipt{MessageID: "srv1", Kind: chatsdk.StatusDelivered})
	assert.Equal(t, chatsdk.StatusRead, s.Window()[0].Status)
}

func TestDuplicateEventKeepsUpgradedStatus(t *testing.T) {
	fake := &fakeClient{}
	fake.sendFn = func(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
		return &chatsdk.Message{ID: "srv1", SenderID: "me", ReceiverID: draft.ReceiverID,
			ReceiverType: draft.ReceiverType, Body: draft.Body}, nil
	}
	s := newTestStore(fake)
	_, err := s.Send(context.Background(), "text", "hi", "")
	require.NoError(t, err)

	s.OnReceipt(&chatsdk.Receipt{MessageID: "srv1", Kind: chatsdk.StatusRead})
	require.Equal(t, chatsdk.StatusRead, s.Window()[0].Status)

	// A replayed echo of the same message carries no status; merging it
	// must not regress read back to nothing.
	s.OnMessage(&chatsdk.Message{ID: "srv1", SenderID: "me", ReceiverID: "peer",
		ReceiverType: chatsdk.ReceiverUser, Body: "hi"})
	assert.Equal(t, chatsdk.StatusRead, s.Window()[0].Status)
}

func TestForwardSelection(t *testing.T) {
	s := newTestStore(&fakeClient{})
	s.OnMessage(inbound("m1", "one", 1000))
	s.OnMessage(inbound("m2", "two", 2000))

	s.MarkForward([]string{"m1", "m2", "missing"})
	assert.Len(t, s.Forward(), 2, "unknown ids skipped")

	s.ClearForward()
	assert.Empty(t, s.Forward())
}

func TestOperationsRequireActiveConversation(t *testing.T) {
	s := New("me", &fakeClient{}, nil, nil)

	err := s.FetchPage(context.Background(), true)
	assert.ErrorIs(t, err, ErrNoActiveConversation)

	_, err = s.Send(context.Background(), "text", "hi", "")
	assert.ErrorIs(t, err, ErrNoActiveConversation)
}

func TestWindowSnapshotIsolated(t *testing.T) {
	s := newTestStore(&fakeClient{})
	for i := 1; i <= 3; i++ {
		s.OnMessage(inbound(fmt.Sprintf("m%d", i), "x", int64(i*1000)))
	}
	w := s.Window()
	w[0] = nil
	assert.NotNil(t, s.Window()[0], "mutating a snapshot must not touch the store")
}
