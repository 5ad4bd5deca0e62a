package store

// Thread represents a synced conversation between a property contact and a renter.
type Thread struct {
	ID              string
	Name            string
	ContactEmail    string
	ContactPhone    string
	ImageURL        string
	UnreadCount     int
	LastMessageText string
	LastMessageAt   int64
	Pinned          bool
	// Members maps participant ID to that participant's badge count.
	Members       map[string]int
	PropertyID    string
	ApplicationID string
	BookingID     string
	Channel       string
}

// Sender roles as reported by the feed.
const (
	RoleOwner  = "owner"
	RoleRenter = "renter"
	RoleSystem = "system"
)

// Message delivery statuses. Confirmed messages are never pending.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Message represents a server-confirmed message.
type Message struct {
	ID            string
	ThreadID      string
	SenderRole    string
	Body          string // empty for attachment-only messages
	Kind          string // text, image, booking, application
	AttachmentURL string
	Meta          string // opaque blob from the feed, stored verbatim
	Status        string
	ReadAt        int64 // unix ms, 0 when unread
	CreatedAt     int64 // unix ms, assigned once by the server
}
