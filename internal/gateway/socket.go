package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/andrelmm/convo/internal/bus"
	"github.com/andrelmm/convo/internal/channel"
	"github.com/andrelmm/convo/internal/chatsdk"
	"github.com/andrelmm/convo/internal/config"
	"github.com/andrelmm/convo/internal/status"
)

const (
	readLimit       = 1 << 20
	pongWait        = 60 * time.Second
	initialBackoff  = time.Second
	maxBackoff      = 30 * time.Second
	backoffMultiply = 2
)

// Socket maintains the websocket event stream and feeds decoded events
// into the listener registry. It reconnects with exponential backoff
// until its context is cancelled.
type Socket struct {
	cfg      config.Service
	registry *channel.Registry
	bus      *bus.Bus
	machine  *status.Machine
	logger   *zap.Logger
	dialer   *websocket.Dialer
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSocket creates the event stream consumer.
func NewSocket(cfg config.Service, registry *channel.Registry, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Socket {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Socket{
		cfg:      cfg,
		registry: registry,
		bus:      b,
		machine:  machine,
		logger:   logger,
		dialer:   websocket.DefaultDialer,
	}
}

// Start launches the connect/read loop.
func (s *Socket) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop tears the stream down and waits for the loop to exit.
func (s *Socket) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Socket) wsURL() (string, error) {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/stream"
	return u.String(), nil
}

func (s *Socket) run(ctx context.Context) {
	defer close(s.done)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		connected, err := s.connectAndRead(ctx)
		if connected {
			// A stream that made it to Ready starts a fresh backoff
			// ladder; only consecutive failed dials escalate the wait.
			backoff = initialBackoff
		}
		if err != nil {
			s.logger.Warn("event stream dropped", zap.Error(err), zap.Duration("retry_in", backoff))
		}
		if ctx.Err() != nil {
			return
		}

		s.transition(status.Reconnecting)
		s.publish(bus.KindDisconnected, nil)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= backoffMultiply
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// connectAndRead dials the stream and pumps frames until the
// connection drops. The connected result reports whether the dial
// succeeded, so the caller can reset its backoff.
func (s *Socket) connectAndRead(ctx context.Context) (connected bool, err error) {
	s.transition(status.Connecting)

	wsURL, err := s.wsURL()
	if err != nil {
		return false, err
	}
	header := http.Header{}
	header.Set("X-App-Id", s.cfg.AppID)
	header.Set("X-Api-Key", s.cfg.APIKey)
	header.Set("X-User-Id", s.cfg.UserID)
	header.Set("Authorization", "Bearer "+s.cfg.AuthToken)

	conn, resp, err := s.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			s.transition(status.AuthRequired)
		}
		return false, err
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.transition(status.Ready)
	s.publish(bus.KindConnected, nil)
	s.logger.Info("event stream connected")

	// Close the conn when the context dies so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleFrame(data)
	}
}

// handleFrame decodes one wire frame and fans it out. Unknown frame
// types are logged and dropped so new server events never kill the loop.
func (s *Socket) handleFrame(data []byte) {
	f, err := decodePayload[frame](data)
	if err != nil {
		s.logger.Warn("undecodable frame", zap.Error(err))
		return
	}

	switch f.Type {
	case frameMessage, frameMessageEdited, frameMessageDeleted:
		mf, err := decodePayload[messageFrame](f.Payload)
		if err != nil {
			s.logger.Warn("bad message frame", zap.Error(err))
			return
		}
		m := mf.toMessage()
		switch f.Type {
		case frameMessage:
			s.registry.DispatchMessage(m)
		case frameMessageEdited:
			s.registry.DispatchMessageEdited(m)
		case frameMessageDeleted:
			s.registry.DispatchMessageDeleted(m)
		}
	case frameReceipt:
		rf, err := decodePayload[receiptFrame](f.Payload)
		if err != nil {
			s.logger.Warn("bad receipt frame", zap.Error(err))
			return
		}
		s.registry.DispatchReceipt(&chatsdk.Receipt{
			MessageID:    rf.MessageID,
			SenderID:     rf.SenderID,
			ReceiverID:   rf.ReceiverID,
			ReceiverType: chatsdk.ReceiverType(rf.ReceiverType),
			Kind:         rf.Kind,
			At:           rf.At,
		})
	case frameTypingStarted, frameTypingEnded:
		tf, err := decodePayload[typingFrame](f.Payload)
		if err != nil {
			s.logger.Warn("bad typing frame", zap.Error(err))
			return
		}
		s.registry.DispatchTyping(&chatsdk.Typing{
			SenderID:     tf.SenderID,
			ReceiverID:   tf.ReceiverID,
			ReceiverType: chatsdk.ReceiverType(tf.ReceiverType),
		}, f.Type == frameTypingStarted)
	case frameCallOffered:
		cf, err := decodePayload[callOfferFrame](f.Payload)
		if err != nil {
			s.logger.Warn("bad call offer frame", zap.Error(err))
			return
		}
		s.registry.DispatchCallOffered(&chatsdk.CallOffer{
			SessionID:    cf.SessionID,
			CallerID:     cf.CallerID,
			CallerName:   cf.CallerName,
			CallerAvatar: cf.CallerAvatar,
			ReceiverID:   cf.ReceiverID,
			ReceiverType: chatsdk.ReceiverType(cf.ReceiverType),
			Media:        chatsdk.CallMedia(cf.Media),
		})
	case frameCallEnded:
		ef, err := decodePayload[callEndFrame](f.Payload)
		if err != nil {
			s.logger.Warn("bad call end frame", zap.Error(err))
			return
		}
		s.registry.DispatchCallEnded(&chatsdk.CallEnd{SessionID: ef.SessionID, Reason: ef.Reason})
	case frameUserJoined, frameUserLeft:
		pf, err := decodePayload[callPartyFrame](f.Payload)
		if err != nil {
			s.logger.Warn("bad call party frame", zap.Error(err))
			return
		}
		p := &chatsdk.CallParty{SessionID: pf.SessionID, UserID: pf.UserID, Name: pf.Name}
		if f.Type == frameUserJoined {
			s.registry.DispatchUserJoined(p)
		} else {
			s.registry.DispatchUserLeft(p)
		}
	case framePing:
		// Keepalive, nothing to dispatch.
	default:
		s.logger.Debug("unknown frame type", zap.String("type", f.Type))
	}
}

func (s *Socket) transition(to status.State) {
	if s.machine == nil {
		return
	}
	if err := s.machine.Transition(to); err != nil {
		s.logger.Debug("state transition skipped", zap.Error(err))
	}
}

func (s *Socket) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
