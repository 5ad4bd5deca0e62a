package feed

import (
	"encoding/json"
	"fmt"

	"github.com/tomasronis/Rhenti-sub003/internal/store"
)

// Wire shapes for the feed API. Decoding fails closed: a record missing a
// required field is rejected whole rather than half-filled.

type wireThread struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	ContactEmail    string         `json:"contact_email"`
	ContactPhone    string         `json:"contact_phone"`
	ImageURL        string         `json:"image_url"`
	UnreadCount     int            `json:"unread_count"`
	LastMessageText string         `json:"last_message_text"`
	LastMessageAt   int64          `json:"last_message_at"`
	Pinned          bool           `json:"pinned"`
	Members         map[string]int `json:"members"`
	PropertyID      string         `json:"property_id"`
	ApplicationID   string         `json:"application_id"`
	BookingID       string         `json:"booking_id"`
	Channel         string         `json:"channel"`
}

type wireMessage struct {
	ID            string          `json:"id"`
	ThreadID      string          `json:"thread_id"`
	SenderRole    string          `json:"sender_role"`
	Body          string          `json:"body"`
	Kind          string          `json:"kind"`
	AttachmentURL string          `json:"attachment_url"`
	Meta          json.RawMessage `json:"meta"`
	Status        string          `json:"status"`
	ReadAt        int64           `json:"read_at"`
	CreatedAt     int64           `json:"created_at"`
}

func decodeThread(raw json.RawMessage) (*store.Thread, error) {
	var w wireThread
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode thread: %w", err)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("thread record missing id")
	}
	if w.UnreadCount < 0 {
		return nil, fmt.Errorf("thread %s: negative unread count %d", w.ID, w.UnreadCount)
	}
	return &store.Thread{
		ID:              w.ID,
		Name:            w.Name,
		ContactEmail:    w.ContactEmail,
		ContactPhone:    w.ContactPhone,
		ImageURL:        w.ImageURL,
		UnreadCount:     w.UnreadCount,
		LastMessageText: w.LastMessageText,
		LastMessageAt:   w.LastMessageAt,
		Pinned:          w.Pinned,
		Members:         w.Members,
		PropertyID:      w.PropertyID,
		ApplicationID:   w.ApplicationID,
		BookingID:       w.BookingID,
		Channel:         w.Channel,
	}, nil
}

func decodeMessage(raw json.RawMessage) (*store.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("message record missing id")
	}
	if w.ThreadID == "" {
		return nil, fmt.Errorf("message %s: missing thread_id", w.ID)
	}
	if w.CreatedAt <= 0 {
		return nil, fmt.Errorf("message %s: missing created_at", w.ID)
	}
	kind := w.Kind
	if kind == "" {
		kind = "text"
	}
	status := w.Status
	if status == "" {
		status = store.StatusSent
	}
	return &store.Message{
		ID:            w.ID,
		ThreadID:      w.ThreadID,
		SenderRole:    w.SenderRole,
		Body:          w.Body,
		Kind:          kind,
		AttachmentURL: w.AttachmentURL,
		Meta:          string(w.Meta),
		Status:        status,
		ReadAt:        w.ReadAt,
		CreatedAt:     w.CreatedAt,
	}, nil
}
