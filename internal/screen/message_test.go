package screen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrelmm/convo/internal/channel"
	"github.com/andrelmm/convo/internal/chatsdk"
	"github.com/andrelmm/convo/internal/conversation"
)

type stubClient struct {
	fetch []*chatsdk.Message
	err   error
}

func (s *stubClient) SendMessage(_ context.Context, d chatsdk.Draft) (*chatsdk.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &chatsdk.Message{ID: "srv1", SenderID: "me", ReceiverID: d.ReceiverID,
		ReceiverType: d.ReceiverType, Body: d.Body}, nil
}

func (s *stubClient) FetchPreviousMessages(context.Context, chatsdk.Page) ([]*chatsdk.Message, error) {
	return s.fetch, s.err
}

func (s *stubClient) DeleteMessage(context.Context, string) error { return s.err }

func (s *stubClient) InitiateCall(context.Context, string, chatsdk.ReceiverType, chatsdk.CallMedia) (*chatsdk.SessionInfo, error) {
	return nil, errors.New("not implemented")
}
func (s *stubClient) AcceptCall(context.Context, string) (*chatsdk.SessionInfo, error) {
	return nil, errors.New("not implemented")
}
func (s *stubClient) RejectCall(context.Context, string) error { return nil }
func (s *stubClient) EndSession(context.Context, string) error { return nil }

func newMessageFixture() (*MessageController, *channel.Registry, *conversation.Store) {
	reg := channel.NewRegistry()
	store := conversation.New("me", &stubClient{}, nil, nil)
	return NewMessageController(reg, store, nil), reg, store
}

func TestMountRegistersUniqueScopePerInstance(t *testing.T) {
	reg := channel.NewRegistry()
	store := conversation.New("me", &stubClient{}, nil, nil)

	// Two overlapping mounts of the same conversation, as happens when
	// a screen remounts before its predecessor finished tearing down.
	first := NewMessageController(reg, store, nil)
	second := NewMessageController(reg, store, nil)
	first.Mount("peer", chatsdk.ReceiverUser)
	second.Mount("peer", chatsdk.ReceiverUser)

	assert.NotEqual(t, first.ScopeID(), second.ScopeID(), "scope ids must be unique per mount instance")
	assert.True(t, strings.HasPrefix(first.ScopeID(), "messages-peer-"))
	assert.Equal(t, 2, reg.Count())

	// Late teardown of the first instance must not disturb the second.
	first.Unmount()
	assert.Equal(t, 1, reg.Count())

	reg.DispatchMessage(&chatsdk.Message{ID: "m1", SenderID: "peer", ReceiverID: "me",
		ReceiverType: chatsdk.ReceiverUser, Body: "hi"})
	assert.Len(t, store.Window(), 1, "surviving mount still receives events")
}

func TestUnmountIsIdempotent(t *testing.T) {
	c, reg, _ := newMessageFixture()

	// Never mounted: teardown must be safe.
	c.Unmount()

	c.Mount("peer", chatsdk.ReceiverUser)
	c.Unmount()
	c.Unmount()
	assert.Equal(t, 0, reg.Count())
}

func TestEventsStopAfterUnmount(t *testing.T) {
	c, reg, store := newMessageFixture()
	c.Mount("peer", chatsdk.ReceiverUser)
	c.Unmount()

	reg.DispatchMessage(&chatsdk.Message{ID: "m1", SenderID: "peer", ReceiverID: "me",
		ReceiverType: chatsdk.ReceiverUser, Body: "late"})

	assert.Empty(t, store.Window(), "unmounted screen must not receive events")
}

func TestTypingIndicatorLifecycle(t *testing.T) {
	c, reg, _ := newMessageFixture()

	var mu sync.Mutex
	var states []bool
	c.OnTypingChanged = func(active bool) {
		mu.Lock()
		states = append(states, active)
		mu.Unlock()
	}
	c.Mount("peer", chatsdk.ReceiverUser)

	reg.DispatchTyping(&chatsdk.Typing{SenderID: "peer", ReceiverID: "me"}, true)
	reg.DispatchTyping(&chatsdk.Typing{SenderID: "peer", ReceiverID: "me"}, false)

	mu.Lock()
	got := append([]bool(nil), states...)
	mu.Unlock()
	require.Equal(t, []bool{true, false}, got)

	// Typing from someone other than the mounted peer is ignored.
	reg.DispatchTyping(&chatsdk.Typing{SenderID: "stranger"}, true)
	mu.Lock()
	assert.Len(t, states, 2)
	mu.Unlock()
}

func TestTypingTimerClearedOnUnmount(t *testing.T) {
	c, reg, _ := newMessageFixture()

	var mu sync.Mutex
	var fired int
	c.OnTypingChanged = func(active bool) {
		mu.Lock()
		if !active {
			fired++
		}
		mu.Unlock()
	}
	c.Mount("peer", chatsdk.ReceiverUser)
	reg.DispatchTyping(&chatsdk.Typing{SenderID: "peer"}, true)
	c.Unmount()

	// Give a (stale) timer callback a chance to run; it must observe
	// the unmount and stay silent.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 0, fired, "no dangling timer callback after unmount")
	mu.Unlock()
}

func TestActionFailureSurfacedOnce(t *testing.T) {
	reg := channel.NewRegistry()
	store := conversation.New("me", &stubClient{err: errors.New("network down")}, nil, nil)
	c := NewMessageController(reg, store, nil)

	var failures []string
	c.OnActionFailed = func(action string, err error) { failures = append(failures, action) }

	c.Mount("peer", chatsdk.ReceiverUser)
	c.LoadInitial(context.Background())

	require.Equal(t, []string{"load messages"}, failures)
}

func TestSendEmptyBodyIgnored(t *testing.T) {
	c, _, store := newMessageFixture()
	c.Mount("peer", chatsdk.ReceiverUser)
	c.SendText(context.Background(), "")
	assert.Empty(t, store.Window())
}
