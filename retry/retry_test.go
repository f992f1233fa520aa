package retry

import (
	"testing"
	"time"
)

func TestAckClearsPending(t *testing.T) {
	var tr Tracker
	var sent int
	base := time.Unix(0, 0)

	if err := tr.Submit(7, []byte{1, 2, 3}, base, func([]byte) error { sent++; return nil }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !tr.Pending() {
		t.Fatalf("expected pending after submit")
	}
	if sent != 1 {
		t.Fatalf("expected one send, got %d", sent)
	}

	if !tr.Ack(7) {
		t.Fatalf("expected ack(7) to clear the pending entry")
	}
	if tr.Pending() {
		t.Fatalf("expected not pending after matching ack")
	}
}

func TestAckWrongSeqIgnored(t *testing.T) {
	var tr Tracker
	base := time.Unix(0, 0)
	tr.Submit(7, []byte{1}, base, func([]byte) error { return nil })

	if tr.Ack(8) {
		t.Fatalf("ack with mismatched seq must not clear")
	}
	if !tr.Pending() {
		t.Fatalf("expected still pending")
	}
}

func TestTickRetransmitsOnCadence(t *testing.T) {
	var tr Tracker
	base := time.Unix(0, 0)
	var sent int
	tr.Submit(1, []byte{0xAB}, base, func([]byte) error { sent++; return nil })

	if err := tr.Tick(base.Add(Cadence-time.Millisecond), func([]byte) error { sent++; return nil }); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if sent != 1 {
		t.Fatalf("expected no retransmit before cadence elapses, sent=%d", sent)
	}

	if err := tr.Tick(base.Add(Cadence), func([]byte) error { sent++; return nil }); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if sent != 2 {
		t.Fatalf("expected a retransmit at cadence, sent=%d", sent)
	}
}

func TestTickExhaustsAfterMaxRetries(t *testing.T) {
	var tr Tracker
	base := time.Unix(0, 0)
	tr.Submit(1, []byte{0xAB}, base, func([]byte) error { return nil })

	now := base
	var err error
	for i := 0; i < MaxRetries; i++ {
		now = now.Add(Cadence)
		err = tr.Tick(now, func([]byte) error { return nil })
		if err != nil {
			t.Fatalf("tick %d: unexpected error %v", i, err)
		}
	}

	now = now.Add(Cadence)
	err = tr.Tick(now, func([]byte) error { return nil })
	if err != ErrExhausted {
		t.Fatalf("expected ErrExhausted after %d retries, got %v", MaxRetries, err)
	}
	if tr.Pending() {
		t.Fatalf("expected pending cleared after exhaustion")
	}
}

func TestTickNoopWhenNotPending(t *testing.T) {
	var tr Tracker
	if err := tr.Tick(time.Unix(0, 0), func([]byte) error {
		t.Fatalf("send should not be called when nothing is pending")
		return nil
	}); err != nil {
		t.Fatalf("tick: %v", err)
	}
}
