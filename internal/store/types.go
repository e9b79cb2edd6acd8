package store

// Conversation represents a cached conversation summary.
type Conversation struct {
	PeerID             string
	Name               string
	IsGroup            bool
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Message represents a cached message.
type Message struct {
	ID         int64
	PeerID     string
	MsgID      string
	SenderID   string
	SenderName string
	Body       string
	Kind       string
	FromMe     bool
	Status     string
	SentAt     int64
	EditedAt   int64
	DeletedAt  int64
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	PeerID       string
	ReceiverType string
	Kind         string
	Body         string
	MediaURL     string
	ReplyToID    string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}
