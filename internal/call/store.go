package call

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

// ErrPermissionDenied is returned when the microphone permission
// pre-flight fails. The attempt is over but the user can retry after
// granting access; the UI surfaces a settings prompt.
var ErrPermissionDenied = errors.New("microphone permission denied")

// Store enforces call exclusivity: at most one active session descriptor
// exists process-wide. The incoming offer slot is independent so an
// offer arriving during an active call is held, not dropped.
type Store struct {
	client chatsdk.Client
	perms  chatsdk.Permissions
	nav    chatsdk.Navigator
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	session  *Session
	incoming *chatsdk.CallOffer
}

// NewStore creates a call store in the idle state.
func NewStore(client chatsdk.Client, perms chatsdk.Permissions, nav chatsdk.Navigator, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: client,
		perms:  perms,
		nav:    nav,
		bus:    b,
		logger: logger,
	}
}

// Session returns a copy of the active session descriptor, if any.
func (s *Store) Session() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return Session{}, false
	}
	return *s.session, true
}

// Incoming returns a copy of the pending incoming offer, if any.
func (s *Store) Incoming() (chatsdk.CallOffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incoming == nil {
		return chatsdk.CallOffer{}, false
	}
	return *s.incoming, true
}

// Initiate starts an outgoing call. Microphone permission is checked
// up front and denial fails the attempt outright. Any already-active
// session is torn down first; two concurrent sessions are an invariant
// violation, so teardown errors are logged and swallowed rather than
// blocking the new call.
func (s *Store) Initiate(ctx context.Context, target Participant, recvType chatsdk.ReceiverType, media chatsdk.CallMedia) error {
	if err := s.preflight(ctx); err != nil {
		return err
	}
	s.teardownActive(ctx, "replaced by new outgoing call")

	info, err := s.client.InitiateCall(ctx, target.ID, recvType, media)
	if err != nil {
		return fmt.Errorf("initiate call: %w", err)
	}

	s.mu.Lock()
	s.session = &Session{
		SessionID:   info.SessionID,
		Participant: target,
		Direction:   DirectionOutgoing,
		Status:      StatusRinging,
	}
	route := chatsdk.CallRoute{
		SessionID:         info.SessionID,
		ParticipantName:   target.Name,
		ParticipantAvatar: target.Avatar,
		InitialStatus:     string(StatusRinging),
	}
	s.mu.Unlock()

	s.publishChange(info.SessionID, StatusIdle, StatusRinging)
	if s.nav != nil {
		s.nav.ShowCall(route)
	}
	return nil
}

// OnIncomingOffer stores an incoming call offer. The slot is filled
// even while another session is active; whether to surface, queue, or
// reject a second call is a product decision made above this store.
func (s *Store) OnIncomingOffer(offer *chatsdk.CallOffer) {
	s.mu.Lock()
	s.incoming = offer
	s.mu.Unlock()
	s.publish(bus.KindCallIncoming, *offer)
}

// Accept answers an incoming offer: permission pre-flight, exclusivity
// teardown, then session establishment. The offer slot is cleared on
// success and the call screen is shown in the connecting state until
// the remote party joins.
func (s *Store) Accept(ctx context.Context, offer chatsdk.CallOffer) error {
	if err := s.preflight(ctx); err != nil {
		return err
	}
	s.teardownActive(ctx, "replaced by accepted incoming call")

	info, err := s.client.AcceptCall(ctx, offer.SessionID)
	if err != nil {
		return fmt.Errorf("accept call: %w", err)
	}

	s.mu.Lock()
	if s.incoming != nil && s.incoming.SessionID == offer.SessionID {
		s.incoming = nil
	}
	s.session = &Session{
		SessionID: info.SessionID,
		Participant: Participant{
			ID:     offer.CallerID,
			Name:   offer.CallerName,
			Avatar: offer.CallerAvatar,
		},
		Direction: DirectionIncoming,
		Status:    StatusConnecting,
	}
	route := chatsdk.CallRoute{
		SessionID:         info.SessionID,
		ParticipantName:   offer.CallerName,
		ParticipantAvatar: offer.CallerAvatar,
		InitialStatus:     string(StatusConnecting),
	}
	s.mu.Unlock()

	s.publishChange(info.SessionID, StatusIdle, StatusConnecting)
	if s.nav != nil {
		s.nav.ShowCall(route)
	}
	return nil
}

// Reject declines an incoming offer. The slot is cleared only when it
// still holds the rejected session; an unrelated active session is
// never touched.
func (s *Store) Reject(ctx context.Context, offer chatsdk.CallOffer) error {
	err := s.client.RejectCall(ctx, offer.SessionID)

	s.mu.Lock()
	if s.incoming != nil && s.incoming.SessionID == offer.SessionID {
		s.incoming = nil
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("reject call: %w", err)
	}
	return nil
}

// End terminates the active session. Adapter teardown failures are
// logged and swallowed; the reset to idle always proceeds, since a
// dangling descriptor would block every future exclusivity check.
func (s *Store) End(ctx context.Context) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return
	}
	if err := s.client.EndSession(ctx, sess.SessionID); err != nil {
		s.logger.Warn("call teardown failed, resetting anyway",
			zap.String("session_id", sess.SessionID), zap.Error(err))
	}
	s.terminate(sess.SessionID)
}

// OnCallEnded applies a remote-initiated session end. It drives the
// same terminal path as End. An end event for the pending offer clears
// the slot (the caller hung up before we answered).
func (s *Store) OnCallEnded(end *chatsdk.CallEnd) {
	s.mu.Lock()
	if s.incoming != nil && s.incoming.SessionID == end.SessionID {
		s.incoming = nil
	}
	match := s.session != nil && s.session.SessionID == end.SessionID
	s.mu.Unlock()
	if match {
		s.terminate(end.SessionID)
	}
}

// OnError applies a transport failure during an active call: the
// session ends through the same terminal path as End and OnCallEnded.
func (s *Store) OnError(err error) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return
	}
	s.logger.Error("call transport error, ending session",
		zap.String("session_id", sess.SessionID), zap.Error(err))
	s.terminate(sess.SessionID)
}

// OnUserJoined moves an establishing session to connected when the
// remote party joins.
func (s *Store) OnUserJoined(p *chatsdk.CallParty) {
	s.mu.Lock()
	if s.session == nil || s.session.SessionID != p.SessionID {
		s.mu.Unlock()
		return
	}
	if s.session.Status != StatusRinging && s.session.Status != StatusConnecting {
		s.mu.Unlock()
		return
	}
	from := s.session.Status
	if err := s.session.transition(StatusConnected); err != nil {
		s.logger.Warn("ignoring join event", zap.Error(err))
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.publishChange(p.SessionID, from, StatusConnected)
}

// OnUserLeft logs a participant leaving. Group sessions may continue
// without them; a 1:1 peer hanging up arrives as a call-ended event.
func (s *Store) OnUserLeft(p *chatsdk.CallParty) {
	s.logger.Debug("participant left session",
		zap.String("session_id", p.SessionID), zap.String("user_id", p.UserID))
}

// terminate is the single terminal path shared by End, OnCallEnded and
// OnError: ENDED is published, the descriptor dropped, the call screen
// dismissed. A session id that no longer matches is a no-op.
func (s *Store) terminate(sessionID string) {
	s.mu.Lock()
	if s.session == nil || s.session.SessionID != sessionID {
		s.mu.Unlock()
		return
	}
	from := s.session.Status
	s.session = nil
	s.mu.Unlock()

	s.publishChange(sessionID, from, StatusEnded)
	if s.nav != nil {
		s.nav.DismissCall(sessionID)
	}
}

// preflight runs the microphone permission check. Denial is fatal for
// this attempt, never silently degraded.
func (s *Store) preflight(ctx context.Context) error {
	granted, err := s.perms.RequestMicrophone(ctx)
	if err != nil {
		return fmt.Errorf("microphone permission check: %w", err)
	}
	if !granted {
		return ErrPermissionDenied
	}
	return nil
}

// teardownActive best-effort ends any current session before a new one
// starts. Errors are logged and swallowed so the new call proceeds.
func (s *Store) teardownActive(ctx context.Context, reason string) {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()
	if sess == nil {
		return
	}
	s.logger.Info("ending active session before starting another",
		zap.String("session_id", sess.SessionID), zap.String("reason", reason))
	if err := s.client.EndSession(ctx, sess.SessionID); err != nil {
		s.logger.Warn("teardown of previous session failed",
			zap.String("session_id", sess.SessionID), zap.Error(err))
	}
	s.terminate(sess.SessionID)
}

func (s *Store) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func (s *Store) publishChange(sessionID string, from, to Status) {
	s.publish(bus.KindCallStatusChanged, StatusChange{SessionID: sessionID, From: from, To: to})
}
