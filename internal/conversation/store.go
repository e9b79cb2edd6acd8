// Package conversation owns the message window for the currently active
// conversation: ordered newest-first, reconciled against optimistic local
// sends, pushed events from the vendor service, and paginated history
// fetches. All mutation goes through the Store; nothing else touches the
// window.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andrelmm/convo/internal/bus"
	"github.com/andrelmm/convo/internal/chatsdk"
)

// DefaultPageSize is the history page size requested when the caller
// does not override it.
const DefaultPageSize = 30

var (
	// ErrNoActiveConversation is returned by operations that require
	// SetActive to have been called first.
	ErrNoActiveConversation = errors.New("no active conversation")

	// ErrNotInWindow is returned when an operation references a message
	// id the window does not currently hold.
	ErrNotInWindow = errors.New("message not in window")
)

// Store reconciles the message window for one active conversation at a
// time. Methods are safe for concurrent use; each runs to completion
// under the store lock so event application stays atomic.
type Store struct {
	client   chatsdk.Client
	bus      *bus.Bus
	logger   *zap.Logger
	me       string
	pageSize int

	journal SendJournal // optional durable outbox, see SetJournal

	mu       sync.Mutex
	gen      uint64 // bumped on every SetActive; stale resolutions check it
	peerID   string
	recvType chatsdk.ReceiverType
	active   bool
	window   []*chatsdk.Message // newest first
	hasMore  bool
	loading  bool

	replyTo *chatsdk.Message
	forward []*chatsdk.Message
}

// New creates a conversation store for the logged-in user identified by me.
func New(me string, client chatsdk.Client, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client:   client,
		bus:      b,
		logger:   logger,
		me:       me,
		pageSize: DefaultPageSize,
	}
}

// SetPageSize overrides the history page size. Values <= 0 are ignored.
func (s *Store) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.pageSize = n
	s.mu.Unlock()
}

// SetActive switches the window to a new conversation. The previous
// window is discarded entirely: pagination state, selection marks, and
// any in-flight fetch are invalidated so stale data can never bleed
// into the new conversation.
func (s *Store) SetActive(peerID string, recvType chatsdk.ReceiverType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.peerID = peerID
	s.recvType = recvType
	s.active = true
	s.window = nil
	s.hasMore = true
	s.loading = false
	s.replyTo = nil
	s.forward = nil
}

// ClearActive leaves no conversation active and drops the window.
func (s *Store) ClearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.active = false
	s.peerID = ""
	s.recvType = ""
	s.window = nil
	s.hasMore = false
	s.loading = false
	s.replyTo = nil
	s.forward = nil
}

// Active returns the current conversation, if any.
func (s *Store) Active() (peerID string, recvType chatsdk.ReceiverType, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID, s.recvType, s.active
}

// Window returns a snapshot of the message window, newest first.
func (s *Store) Window() []*chatsdk.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*chatsdk.Message, len(s.window))
	copy(out, s.window)
	return out
}

// HasMore reports whether older history remains to be fetched.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Loading reports whether a history fetch is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// FetchPage loads one page of history. initial replaces the window;
// otherwise older messages are appended to the tail of the newest-first
// window. A fetch already in flight makes this a no-op, and a fetch
// that resolves after the active conversation changed is discarded.
func (s *Store) FetchPage(ctx context.Context, initial bool) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return ErrNoActiveConversation
	}
	if s.loading {
		s.mu.Unlock()
		s.logger.Debug("fetch already in flight, skipping")
		return nil
	}
	if !initial && !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	gen := s.gen
	page := chatsdk.Page{
		PeerID:       s.peerID,
		ReceiverType: s.recvType,
		Limit:        s.pageSize,
	}
	if !initial && len(s.window) > 0 {
		page.BeforeSentAt = s.window[len(s.window)-1].SentAt
	}
	s.loading = true
	s.mu.Unlock()

	msgs, err := s.client.FetchPreviousMessages(ctx, page)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		// Conversation switched while the fetch was in flight; the
		// result belongs to the old window and must not touch the new one.
		s.logger.Debug("discarding stale fetch resolution")
		return nil
	}
	s.loading = false
	if err != nil {
		return fmt.Errorf("fetch previous messages: %w", err)
	}

	if initial {
		s.window = s.window[:0]
	}
	for _, m := range msgs {
		if s.indexOf(m.ID) >= 0 {
			continue
		}
		s.window = append(s.window, m)
	}
	s.hasMore = len(msgs) >= page.Limit
	s.publish(bus.KindMessageUpserted, s.peerID)
	return nil
}

// locked helpers

func (s *Store) indexOf(id string) int {
	for i, m := range s.window {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// member reports whether a message belongs to the active conversation,
// accounting for direction. Events that fail this test are dropped
// without mutating the window.
func (s *Store) member(m *chatsdk.Message) bool {
	if !s.active {
		return false
	}
	if s.recvType == chatsdk.ReceiverGroup {
		return m.ReceiverType == chatsdk.ReceiverGroup && m.ReceiverID == s.peerID
	}
	if m.ReceiverType != chatsdk.ReceiverUser {
		return false
	}
	inbound := m.SenderID == s.peerID && m.ReceiverID == s.me
	outbound := m.SenderID == s.me && m.ReceiverID == s.peerID
	return inbound || outbound
}

func (s *Store) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
