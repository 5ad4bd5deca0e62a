package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// UpsertThread inserts or fully replaces a thread record (last-write-wins,
// no field-level merge).
func (db *DB) UpsertThread(t *Thread) error {
	members, err := json.Marshal(t.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO threads (id, name, contact_email, contact_phone, image_url, unread_count,
			last_message_text, last_message_at, pinned, members, property_id, application_id,
			booking_id, channel, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			contact_email = excluded.contact_email,
			contact_phone = excluded.contact_phone,
			image_url = excluded.image_url,
			unread_count = excluded.unread_count,
			last_message_text = excluded.last_message_text,
			last_message_at = excluded.last_message_at,
			pinned = excluded.pinned,
			members = excluded.members,
			property_id = excluded.property_id,
			application_id = excluded.application_id,
			booking_id = excluded.booking_id,
			channel = excluded.channel,
			updated_at = excluded.updated_at`,
		t.ID, t.Name, t.ContactEmail, t.ContactPhone, t.ImageURL, t.UnreadCount,
		t.LastMessageText, t.LastMessageAt, t.Pinned, string(members), t.PropertyID,
		t.ApplicationID, t.BookingID, t.Channel, now)
	return err
}

// ListThreads returns threads sorted by last message timestamp descending.
func (db *DB) ListThreads(limit, offset int) ([]Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, name, contact_email, contact_phone, image_url, unread_count,
			last_message_text, last_message_at, pinned, members, property_id,
			application_id, booking_id, channel
		FROM threads
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var threads []Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, *t)
	}
	return threads, rows.Err()
}

// GetThread returns a single thread by ID, or nil when absent.
func (db *DB) GetThread(id string) (*Thread, error) {
	row := db.QueryRow(`
		SELECT id, name, contact_email, contact_phone, image_url, unread_count,
			last_message_text, last_message_at, pinned, members, property_id,
			application_id, booking_id, channel
		FROM threads WHERE id = ?`, id)
	t, err := scanThread(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// MarkRead atomically resets the unread count for a thread to zero. It does
// not touch message-level read timestamps.
func (db *DB) MarkRead(threadID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE threads SET unread_count = 0, updated_at = ? WHERE id = ?`, now, threadID)
	return err
}

// SetPinned updates the pin flag for a thread.
func (db *DB) SetPinned(threadID string, pinned bool) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE threads SET pinned = ?, updated_at = ? WHERE id = ?`, pinned, now, threadID)
	return err
}

// DeleteThread removes a thread and all messages owned by it.
func (db *DB) DeleteThread(id string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE thread_id = ?`, id); err != nil {
		return fmt.Errorf("delete thread messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM threads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return tx.Commit()
}

// DeleteAll wipes every thread, message, and sync checkpoint from the cache.
func (db *DB) DeleteAll() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM threads`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sync_state`); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*Thread, error) {
	var t Thread
	var members string
	err := row.Scan(&t.ID, &t.Name, &t.ContactEmail, &t.ContactPhone, &t.ImageURL,
		&t.UnreadCount, &t.LastMessageText, &t.LastMessageAt, &t.Pinned, &members,
		&t.PropertyID, &t.ApplicationID, &t.BookingID, &t.Channel)
	if err != nil {
		return nil, err
	}
	if members != "" {
		if err := json.Unmarshal([]byte(members), &t.Members); err != nil {
			return nil, fmt.Errorf("decode members for thread %s: %w", t.ID, err)
		}
	}
	return &t, nil
}
