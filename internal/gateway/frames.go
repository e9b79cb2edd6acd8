package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/andrelmm/convo/internal/chatsdk"
)

// frame is the websocket envelope. Payload stays raw until the type is
// known.
type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// messageFrame is the wire shape shared by REST responses and websocket
// message events.
type messageFrame struct {
	ID           string `json:"id"`
	SenderID     string `json:"sender_id"`
	SenderName   string `json:"sender_name"`
	ReceiverID   string `json:"receiver_id"`
	ReceiverType string `json:"receiver_type"`
	Kind         string `json:"kind"`
	Body         string `json:"body"`
	MediaURL     string `json:"media_url"`
	Status       string `json:"status"`
	SentAt       int64  `json:"sent_at"`
	EditedAt     int64  `json:"edited_at"`
	DeletedAt    int64  `json:"deleted_at"`
}

func (f *messageFrame) toMessage() *chatsdk.Message {
	return &chatsdk.Message{
		ID:           f.ID,
		SenderID:     f.SenderID,
		SenderName:   f.SenderName,
		ReceiverID:   f.ReceiverID,
		ReceiverType: chatsdk.ReceiverType(f.ReceiverType),
		Kind:         f.Kind,
		Body:         f.Body,
		MediaURL:     f.MediaURL,
		Status:       f.Status,
		SentAt:       f.SentAt,
		EditedAt:     f.EditedAt,
		DeletedAt:    f.DeletedAt,
	}
}

type receiptFrame struct {
	MessageID    string `json:"message_id"`
	SenderID     string `json:"sender_id"`
	ReceiverID   string `json:"receiver_id"`
	ReceiverType string `json:"receiver_type"`
	Kind         string `json:"kind"`
	At           int64  `json:"at"`
}

type typingFrame struct {
	SenderID     string `json:"sender_id"`
	ReceiverID   string `json:"receiver_id"`
	ReceiverType string `json:"receiver_type"`
}

type callOfferFrame struct {
	SessionID    string `json:"session_id"`
	CallerID     string `json:"caller_id"`
	CallerName   string `json:"caller_name"`
	CallerAvatar string `json:"caller_avatar"`
	ReceiverID   string `json:"receiver_id"`
	ReceiverType string `json:"receiver_type"`
	Media        string `json:"media"`
}

type callEndFrame struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

type callPartyFrame struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
}

// Wire event types pushed by the service.
const (
	frameMessage        = "message"
	frameMessageEdited  = "message_edited"
	frameMessageDeleted = "message_deleted"
	frameReceipt        = "receipt"
	frameTypingStarted  = "typing_started"
	frameTypingEnded    = "typing_ended"
	frameCallOffered    = "call_offered"
	frameCallEnded      = "call_ended"
	frameUserJoined     = "user_joined"
	frameUserLeft       = "user_left"
	framePing           = "ping"
)

func decodePayload[T any](raw json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &v, nil
}
