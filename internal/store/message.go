package store

import (
	"database/sql"
	"time"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

const upsertMessageSQL = `
	INSERT INTO messages (peer_id, msg_id, sender_id, sender_name, body, kind, from_me, status, sent_at, edited_at, deleted_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(peer_id, msg_id) DO UPDATE SET
		sender_name = excluded.sender_name,
		body = excluded.body,
		status = excluded.status,
		edited_at = MAX(messages.edited_at, excluded.edited_at),
		deleted_at = MAX(messages.deleted_at, excluded.deleted_at)`

func upsertMessage(ex execer, m *Message) error {
	now := time.Now().UnixMilli()
	_, err := ex.Exec(upsertMessageSQL,
		m.PeerID, m.MsgID, m.SenderID, m.SenderName, m.Body, m.Kind, m.FromMe, m.Status, m.SentAt, m.EditedAt, m.DeletedAt, now)
	return err
}

// UpsertMessage inserts or updates a message (idempotent on peer_id + msg_id).
// Tombstone and edit timestamps only ever move forward: a duplicate or
// out-of-order event can never un-delete or un-edit a cached message.
func (db *DB) UpsertMessage(m *Message) error {
	return upsertMessage(db, m)
}

// UpsertMessageTx is UpsertMessage inside an existing transaction. History
// batches use it so a page commits or rolls back as a unit.
func UpsertMessageTx(tx *sql.Tx, m *Message) error {
	return upsertMessage(tx, m)
}

// UpdateMessageStatus applies a receipt to a cached message, looked up by
// service id alone since receipts do not carry the conversation. Read
// receipts never regress to delivered.
func (db *DB) UpdateMessageStatus(msgID, status string) error {
	_, err := db.Exec(`
		UPDATE messages SET status = ?
		WHERE msg_id = ? AND NOT (status = 'read' AND ? = 'delivered')`,
		status, msgID, status)
	return err
}

// MarkMessageDeleted tombstones a cached message in place.
func (db *DB) MarkMessageDeleted(peerID, msgID string, deletedAt int64) error {
	if deletedAt == 0 {
		deletedAt = time.Now().UnixMilli()
	}
	_, err := db.Exec(`
		UPDATE messages SET deleted_at = ? WHERE peer_id = ? AND msg_id = ? AND deleted_at = 0`,
		deletedAt, peerID, msgID)
	return err
}

// RemoveMessage deletes a row outright. Only used to drop optimistic
// placeholders once the authoritative message is cached; confirmed
// messages are tombstoned, never removed.
func (db *DB) RemoveMessage(peerID, msgID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE peer_id = ? AND msg_id = ?`, peerID, msgID)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination
// by sent_at. Tombstoned rows are included; rendering decides how to show them.
func (db *DB) ListMessages(peerID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, peer_id, msg_id, sender_id, sender_name, body, kind, from_me, status, sent_at, edited_at, deleted_at
		FROM messages
		WHERE peer_id = ? AND sent_at < ?
		ORDER BY sent_at DESC
		LIMIT ?`, peerID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.PeerID, &m.MsgID, &m.SenderID, &m.SenderName, &m.Body, &m.Kind, &m.FromMe, &m.Status, &m.SentAt, &m.EditedAt, &m.DeletedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
