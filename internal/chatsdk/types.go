package chatsdk

// ReceiverType distinguishes direct and group conversations.
type ReceiverType string

const (
	ReceiverUser  ReceiverType = "user"
	ReceiverGroup ReceiverType = "group"
)

// Message delivery status as tracked by the client.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusReceived  = "received"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Message is a chat message as delivered by the vendor service.
// IDs are assigned by the service; the client only ever generates
// transient pending IDs for optimistic sends.
type Message struct {
	ID           string
	SenderID     string
	SenderName   string
	ReceiverID   string
	ReceiverType ReceiverType
	Kind         string // text, media, custom
	Body         string
	MediaURL     string
	Status       string
	SentAt       int64 // unix millis
	EditedAt     int64 // zero if never edited
	DeletedAt    int64 // non-zero marks a tombstone
}

// Deleted reports whether the message is a delete-for-everyone tombstone.
func (m *Message) Deleted() bool {
	return m.DeletedAt != 0
}

// Draft is an outgoing message before the service has assigned it an ID.
type Draft struct {
	ReceiverID   string
	ReceiverType ReceiverType
	Kind         string
	Body         string
	MediaURL     string
	ReplyToID    string
}

// Page is a request for older history relative to a cursor.
type Page struct {
	PeerID       string
	ReceiverType ReceiverType
	BeforeSentAt int64 // zero means "from the newest"
	Limit        int
}

// Receipt is a delivery or read acknowledgement for a message.
type Receipt struct {
	MessageID    string
	SenderID     string
	ReceiverID   string
	ReceiverType ReceiverType
	Kind         string // delivered, read
	At           int64
}

// Typing signals a peer starting or stopping composition.
type Typing struct {
	SenderID     string
	ReceiverID   string
	ReceiverType ReceiverType
}

// CallMedia selects the media requested for a call.
type CallMedia string

const (
	CallAudio CallMedia = "audio"
	CallVideo CallMedia = "video"
)

// CallOffer is an incoming call that has not been answered yet.
type CallOffer struct {
	SessionID    string
	CallerID     string
	CallerName   string
	CallerAvatar string
	ReceiverID   string
	ReceiverType ReceiverType
	Media        CallMedia
}

// SessionInfo describes an established or establishing call session.
type SessionInfo struct {
	SessionID string
	Token     string
}

// CallEnd reports a remote-initiated session end.
type CallEnd struct {
	SessionID string
	Reason    string
}

// CallParty reports a participant joining or leaving an active session.
type CallParty struct {
	SessionID string
	UserID    string
	Name      string
}
