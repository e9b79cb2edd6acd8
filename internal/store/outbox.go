package store

import "time"

// QueueOutbox adds a text message to the send outbox.
func (db *DB) QueueOutbox(clientMsgID, peerID, receiverType, body string) error {
	return db.insertOutbox(&OutboxEntry{
		ClientMsgID:  clientMsgID,
		PeerID:       peerID,
		ReceiverType: receiverType,
		Body:         body,
	}, "queued")
}

// QueueOutboxSending inserts an entry already claimed by an in-flight
// send, so the drain loop never races an inline attempt for the same
// draft.
func (db *DB) QueueOutboxSending(e *OutboxEntry) error {
	return db.insertOutbox(e, "sending")
}

func (db *DB) insertOutbox(e *OutboxEntry, status string) error {
	kind := e.Kind
	if kind == "" {
		kind = "text"
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, peer_id, receiver_type, kind, body, media_url, reply_to_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ClientMsgID, e.PeerID, e.ReceiverType, kind, e.Body, e.MediaURL, e.ReplyToID, status, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' status.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sending', updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxSent updates an outbox entry to 'sent' with the server message ID.
func (db *DB) MarkOutboxSent(clientMsgID, serverMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', server_msg_id = ?, updated_at = ? WHERE client_msg_id = ?`, serverMsgID, now, clientMsgID)
	return err
}

// MarkOutboxFailed updates an outbox entry to 'failed' with an error message.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// RequeueOutbox flips a failed entry back to 'queued' for an explicit retry.
func (db *DB) RequeueOutbox(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'queued', error_message = '', updated_at = ? WHERE client_msg_id = ? AND status = 'failed'`, now, clientMsgID)
	return err
}

// RequeueInterrupted flips entries stranded in 'sending' by a previous
// run back to 'queued'. The server deduplicates nothing, so delivery
// across an interrupted run is at least once.
func (db *DB) RequeueInterrupted() (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`UPDATE outbox SET status = 'queued', updated_at = ? WHERE status = 'sending'`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DropOutbox removes an entry whose draft the user discarded.
func (db *DB) DropOutbox(clientMsgID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE client_msg_id = ?`, clientMsgID)
	return err
}

// PendingOutbox returns outbox entries that are still queued.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, peer_id, receiver_type, kind, body, media_url, reply_to_id, status, error_message, server_msg_id
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.PeerID, &e.ReceiverType, &e.Kind, &e.Body, &e.MediaURL, &e.ReplyToID, &e.Status, &e.ErrorMessage, &e.ServerMsgID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
