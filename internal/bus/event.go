package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the client core. Subscribers filter by
// namespace prefix ("message.", "call.", "session.", "sdk.").
const (
	KindMessageUpserted   = "message.upserted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"
	KindMessageDeleted    = "message.deleted"
	KindTyping            = "message.typing"

	KindCallStatusChanged = "call.status_changed"
	KindCallIncoming      = "call.incoming"

	KindStatusChanged = "session.status_changed"
	KindConnected     = "sdk.connected"
	KindDisconnected  = "sdk.disconnected"
)
