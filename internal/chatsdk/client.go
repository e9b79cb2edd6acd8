package chatsdk

import "context"

// Client is the vendor SDK surface this layer consumes. The service is
// treated as an opaque, possibly-failing remote: every call can error and
// nothing is assumed to be delivered synchronously.
type Client interface {
	SendMessage(ctx context.Context, draft Draft) (*Message, error)
	FetchPreviousMessages(ctx context.Context, page Page) ([]*Message, error)
	DeleteMessage(ctx context.Context, messageID string) error

	InitiateCall(ctx context.Context, receiverID string, receiverType ReceiverType, media CallMedia) (*SessionInfo, error)
	AcceptCall(ctx context.Context, sessionID string) (*SessionInfo, error)
	RejectCall(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string) error
}

// Permissions is the OS permission subsystem boundary.
type Permissions interface {
	RequestMicrophone(ctx context.Context) (bool, error)
}

// CallRoute carries what the call screen needs to render before any
// session event arrives. Participant fields are copied at session start,
// never live references into SDK-owned objects.
type CallRoute struct {
	SessionID         string
	ParticipantName   string
	ParticipantAvatar string
	InitialStatus     string
}

// Navigator is the navigation boundary: push a call screen on session
// start, pop it on session end.
type Navigator interface {
	ShowCall(route CallRoute)
	DismissCall(sessionID string)
}
