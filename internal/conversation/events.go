package conversation

import (
	"time"

	"github.com/andrelmm/convo/internal/bus"
	"github.com/andrelmm/convo/internal/chatsdk"
)

// OnMessage applies a pushed message event. Events for other
// conversations fail the membership test and are dropped. A message id
// already in the window is updated in place, never duplicated; a new id
// is inserted at the head.
func (s *Store) OnMessage(m *chatsdk.Message) {
	s.mu.Lock()
	if !s.member(m) {
		s.mu.Unlock()
		s.logger.Debug("dropping message event outside active conversation")
		return
	}
	if i := s.indexOf(m.ID); i >= 0 {
		// A duplicate delivery never moves delivery state backwards.
		if statusRank(m.Status) < statusRank(s.window[i].Status) {
			m.Status = s.window[i].Status
		}
		s.window[i] = m
	} else {
		if m.Status == "" {
			m.Status = chatsdk.StatusReceived
		}
		s.window = append([]*chatsdk.Message{m}, s.window...)
	}
	s.mu.Unlock()
	s.publish(bus.KindMessageUpserted, m.ID)
}

// OnMessageEdited applies an edit event in place. An edit for a message
// outside the loaded window is dropped; inserting it at the head would
// corrupt the time ordering.
func (s *Store) OnMessageEdited(m *chatsdk.Message) {
	s.mu.Lock()
	if !s.member(m) {
		s.mu.Unlock()
		s.logger.Debug("dropping edit event outside active conversation")
		return
	}
	i := s.indexOf(m.ID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	entry := s.window[i]
	entry.Body = m.Body
	entry.MediaURL = m.MediaURL
	if m.EditedAt != 0 {
		entry.EditedAt = m.EditedAt
	} else {
		entry.EditedAt = time.Now().UnixMilli()
	}
	s.mu.Unlock()
	s.publish(bus.KindMessageUpserted, m.ID)
}

// OnMessageDeleted converts the matching entry into a tombstone. The
// entry keeps its slot so the window's ordering and pagination cursor
// stay intact; rendering shows it as deleted.
func (s *Store) OnMessageDeleted(m *chatsdk.Message) {
	s.mu.Lock()
	if !s.member(m) {
		s.mu.Unlock()
		s.logger.Debug("dropping delete event outside active conversation")
		return
	}
	i := s.indexOf(m.ID)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	if s.window[i].DeletedAt == 0 {
		if m.DeletedAt != 0 {
			s.window[i].DeletedAt = m.DeletedAt
		} else {
			s.window[i].DeletedAt = time.Now().UnixMilli()
		}
	}
	s.mu.Unlock()
	s.publish(bus.KindMessageDeleted, m.ID)
}

// statusRank orders delivery states so merges and receipts only ever
// move a message's status forward.
func statusRank(status string) int {
	switch status {
	case chatsdk.StatusRead:
		return 3
	case chatsdk.StatusDelivered:
		return 2
	case chatsdk.StatusSent:
		return 1
	default:
		return 0
	}
}

// OnReceipt upgrades the delivery status of an own message. Receipts
// for ids outside the window are ignored; window membership already
// implies conversation membership.
func (s *Store) OnReceipt(rc *chatsdk.Receipt) {
	s.mu.Lock()
	i := s.indexOf(rc.MessageID)
	if i < 0 || s.window[i].SenderID != s.me {
		s.mu.Unlock()
		return
	}
	entry := s.window[i]
	switch rc.Kind {
	case chatsdk.StatusRead:
		entry.Status = chatsdk.StatusRead
	case chatsdk.StatusDelivered:
		// Never downgrade read back to delivered on late receipts.
		if entry.Status != chatsdk.StatusRead {
			entry.Status = chatsdk.StatusDelivered
		}
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.publish(bus.KindMessageUpserted, rc.MessageID)
}
