package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the sync core. Subscribers filter by prefix, so
// "thread." matches every thread event.
const (
	KindThreadReconciled = "thread.reconciled"
	KindThreadMissing    = "thread.missing"
	KindMessageQueued    = "message.queued"
	KindMessageSendAck   = "message.send_ack"
	KindMessageSendFail  = "message.send_failed"
	KindSyncThreads      = "sync.threads"
	KindStatusChanged    = "sync.status_changed"
)
