// Package gateway is the reference chatsdk implementation: REST calls
// for commands, a websocket for the event stream. Everything above it
// only ever sees the chatsdk interfaces.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/andrelmm/convo/internal/chatsdk"
	"github.com/andrelmm/convo/internal/config"
)

// Client implements chatsdk.Client against the service REST API.
type Client struct {
	baseURL string
	http    *http.Client
	cfg     config.Service
	logger  *zap.Logger
}

// NewClient creates a REST client from service credentials.
func NewClient(cfg config.Service, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		cfg:     cfg,
		logger:  logger,
	}
}

type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("service error %d (%s): %s", e.Status, e.Code, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-App-Id", c.cfg.AppID)
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	req.Header.Set("X-User-Id", c.cfg.UserID)
	req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SendMessage posts a draft and returns the authoritative message.
func (c *Client) SendMessage(ctx context.Context, draft chatsdk.Draft) (*chatsdk.Message, error) {
	var frame messageFrame
	req := map[string]any{
		"receiver_id":   draft.ReceiverID,
		"receiver_type": string(draft.ReceiverType),
		"kind":          draft.Kind,
		"body":          draft.Body,
	}
	if draft.MediaURL != "" {
		req["media_url"] = draft.MediaURL
	}
	if draft.ReplyToID != "" {
		req["reply_to_id"] = draft.ReplyToID
	}
	if err := c.do(ctx, http.MethodPost, "/v1/messages", req, &frame); err != nil {
		return nil, err
	}
	return frame.toMessage(), nil
}

// FetchPreviousMessages returns a page of history older than the cursor,
// newest first.
func (c *Client) FetchPreviousMessages(ctx context.Context, page chatsdk.Page) ([]*chatsdk.Message, error) {
	q := url.Values{}
	q.Set("peer_id", page.PeerID)
	q.Set("peer_type", string(page.ReceiverType))
	q.Set("limit", strconv.Itoa(page.Limit))
	if page.BeforeSentAt > 0 {
		q.Set("before", strconv.FormatInt(page.BeforeSentAt, 10))
	}

	var out struct {
		Messages []messageFrame `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/messages?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	msgs := make([]*chatsdk.Message, 0, len(out.Messages))
	for i := range out.Messages {
		msgs = append(msgs, out.Messages[i].toMessage())
	}
	return msgs, nil
}

// DeleteMessage requests a delete-for-everyone on the service.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/messages/"+url.PathEscape(messageID), nil, nil)
}

// InitiateCall dials a peer and returns the new session.
func (c *Client) InitiateCall(ctx context.Context, receiverID string, receiverType chatsdk.ReceiverType, media chatsdk.CallMedia) (*chatsdk.SessionInfo, error) {
	var out struct {
		SessionID string `json:"session_id"`
		Token     string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/calls", map[string]any{
		"receiver_id":   receiverID,
		"receiver_type": string(receiverType),
		"media":         string(media),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &chatsdk.SessionInfo{SessionID: out.SessionID, Token: out.Token}, nil
}

// AcceptCall answers a ringing offer.
func (c *Client) AcceptCall(ctx context.Context, sessionID string) (*chatsdk.SessionInfo, error) {
	var out struct {
		SessionID string `json:"session_id"`
		Token     string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/calls/"+url.PathEscape(sessionID)+"/accept", nil, &out)
	if err != nil {
		return nil, err
	}
	return &chatsdk.SessionInfo{SessionID: out.SessionID, Token: out.Token}, nil
}

// RejectCall declines a ringing offer.
func (c *Client) RejectCall(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/v1/calls/"+url.PathEscape(sessionID)+"/reject", nil, nil)
}

// EndSession hangs up an active session.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/v1/calls/"+url.PathEscape(sessionID)+"/end", nil, nil)
}
