package bus

import (
	"testing"
	"time"
)

func TestEmitAndSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("thread.", 10)
	defer unsub()

	b.Emit(KindThreadReconciled, "t1")

	select {
	case evt := <-ch:
		if evt.Kind != KindThreadReconciled {
			t.Errorf("got kind %q, want %q", evt.Kind, KindThreadReconciled)
		}
		if evt.Payload != "t1" {
			t.Errorf("payload = %v, want t1", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Emit(KindThreadReconciled, nil)
	b.Emit(KindMessageSendAck, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageSendAck {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessageSendAck)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The thread event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("thread.", 10)
	unsub()

	b.Emit(KindThreadReconciled, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 1)
	defer unsub()

	b.Emit(KindSyncThreads, 1)
	// Buffer full: this one is dropped rather than blocking the publisher.
	b.Emit(KindSyncThreads, 2)

	evt := <-ch
	if evt.Payload != 1 {
		t.Errorf("payload = %v, want 1", evt.Payload)
	}
}
