package sync

import (
	"github.com/tomasronis/Rhenti-sub003/internal/pending"
	"github.com/tomasronis/Rhenti-sub003/internal/store"
)

// Display is one entry in a thread's merged timeline. The union is sealed:
// an entry is either a server-confirmed message or a not-yet-confirmed local
// send, nothing else.
type Display interface {
	// CreatedAt returns the entry's creation time in unix ms.
	CreatedAt() int64
	display()
}

// ServerMessage wraps a confirmed message from the cache.
type ServerMessage struct {
	Msg store.Message
}

func (s ServerMessage) CreatedAt() int64 { return s.Msg.CreatedAt }
func (ServerMessage) display()           {}

// PendingMessage wraps a tracker entry still awaiting confirmation.
type PendingMessage struct {
	Msg pending.Message
}

func (p PendingMessage) CreatedAt() int64 { return p.Msg.CreatedAt }
func (PendingMessage) display()           {}

// mergeDisplay interleaves confirmed and pending messages into one sequence
// ascending by creation time. At equal timestamps pending entries sort after
// confirmed ones: the freshly-composed message reads as most recent.
func mergeDisplay(confirmed []store.Message, pend []pending.Message) []Display {
	out := make([]Display, 0, len(confirmed)+len(pend))
	i, j := 0, 0
	for i < len(confirmed) && j < len(pend) {
		if pend[j].CreatedAt < confirmed[i].CreatedAt {
			out = append(out, PendingMessage{Msg: pend[j]})
			j++
		} else {
			out = append(out, ServerMessage{Msg: confirmed[i]})
			i++
		}
	}
	for ; i < len(confirmed); i++ {
		out = append(out, ServerMessage{Msg: confirmed[i]})
	}
	for ; j < len(pend); j++ {
		out = append(out, PendingMessage{Msg: pend[j]})
	}
	return out
}
