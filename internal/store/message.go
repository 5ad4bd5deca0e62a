package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertMessages inserts or fully replaces a batch of messages for one thread
// in a single transaction (idempotent on message ID).
//
// Writing against a thread ID with no thread row is permitted, since messages
// can arrive before thread metadata, but reported through the orphaned return so
// the caller can trigger a thread re-fetch.
func (db *DB) UpsertMessages(threadID string, msgs []Message) (orphaned bool, err error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM threads WHERE id = ?`, threadID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check thread: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (id, thread_id, sender_role, body, kind, attachment_url,
				meta, status, read_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				sender_role = excluded.sender_role,
				body = excluded.body,
				kind = excluded.kind,
				attachment_url = excluded.attachment_url,
				meta = excluded.meta,
				status = excluded.status,
				read_at = excluded.read_at,
				updated_at = excluded.updated_at`,
			m.ID, threadID, m.SenderRole, m.Body, m.Kind, m.AttachmentURL,
			m.Meta, m.Status, m.ReadAt, m.CreatedAt, now); err != nil {
			return false, fmt.Errorf("upsert message %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit batch: %w", err)
	}
	return exists == 0, nil
}

// ListMessages returns every cached message for a thread, ascending by
// creation time. Re-querying returns current state, not a live cursor.
func (db *DB) ListMessages(threadID string) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, thread_id, sender_role, body, kind, attachment_url, meta, status, read_at, created_at
		FROM messages
		WHERE thread_id = ?
		ORDER BY created_at ASC, id ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderRole, &m.Body, &m.Kind,
			&m.AttachmentURL, &m.Meta, &m.Status, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListMessagesBefore returns up to limit messages older than beforeTs using
// keyset pagination, ascending once returned. beforeTs <= 0 means "newest".
func (db *DB) ListMessagesBefore(threadID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, thread_id, sender_role, body, kind, attachment_url, meta, status, read_at, created_at
		FROM (
			SELECT id, thread_id, sender_role, body, kind, attachment_url, meta, status, read_at, created_at
			FROM messages
			WHERE thread_id = ? AND created_at < ?
			ORDER BY created_at DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC`, threadID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.SenderRole, &m.Body, &m.Kind,
			&m.AttachmentURL, &m.Meta, &m.Status, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage returns a single message by server ID, or nil when absent.
func (db *DB) GetMessage(id string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, thread_id, sender_role, body, kind, attachment_url, meta, status, read_at, created_at
		FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.ThreadID, &m.SenderRole, &m.Body, &m.Kind,
			&m.AttachmentURL, &m.Meta, &m.Status, &m.ReadAt, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMessage removes a single message by server ID.
func (db *DB) DeleteMessage(id string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}
