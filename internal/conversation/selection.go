package conversation

import "github.com/andrelmm/convo/internal/chatsdk"

// MarkReply holds a message as the reply target for the next send.
// The mark is consumed by Send and cleared on conversation switch.
func (s *Store) MarkReply(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(messageID)
	if i < 0 {
		return ErrNotInWindow
	}
	s.replyTo = s.window[i]
	return nil
}

// Reply returns the current reply target, if any.
func (s *Store) Reply() (*chatsdk.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyTo, s.replyTo != nil
}

// ClearReply drops the reply mark.
func (s *Store) ClearReply() {
	s.mu.Lock()
	s.replyTo = nil
	s.mu.Unlock()
}

// MarkForward holds a set of messages selected for forwarding.
// Unknown ids are skipped; the mark is cleared on conversation switch.
func (s *Store) MarkForward(messageIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forward = s.forward[:0]
	for _, id := range messageIDs {
		if i := s.indexOf(id); i >= 0 {
			s.forward = append(s.forward, s.window[i])
		}
	}
}

// Forward returns the messages marked for forwarding.
func (s *Store) Forward() []*chatsdk.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*chatsdk.Message, len(s.forward))
	copy(out, s.forward)
	return out
}

// ClearForward drops the forward selection.
func (s *Store) ClearForward() {
	s.mu.Lock()
	s.forward = nil
	s.mu.Unlock()
}
