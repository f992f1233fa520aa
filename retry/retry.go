// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package retry implements the single-slot ack/retry bookkeeping shared by
// the coordinator and device roles: submit one packet that wants a MAC ack,
// retransmit it on a fixed cadence while it stays unacknowledged, and give
// up after a bounded number of attempts.
package retry

import (
	"errors"
	"time"
)

// Cadence is how often a pending packet is retransmitted.
const Cadence = 250 * time.Millisecond

// MaxRetries is the number of retransmits attempted before giving up. The
// initial send does not count as a retry.
const MaxRetries = 10

// ErrExhausted is returned by Tick when a pending packet has been
// retransmitted MaxRetries times without being acked.
var ErrExhausted = errors.New("retry: exhausted retries waiting for ack")

// Tracker holds at most one pending-ack packet, per spec.md §4.5. It is not
// safe for concurrent use; roles run single-threaded and call it from the
// role loop only.
type Tracker struct {
	pending  bool
	packet   []byte
	seq      uint8
	lastSent time.Time
	retries  int
}

// Pending reports whether a packet is currently awaiting an ack.
func (t *Tracker) Pending() bool { return t.pending }

// Submit remembers packet under seq and sends it once via send. Submitting
// while a packet is already pending is a caller error (spec.md §3's
// invariant); the previous pending entry is discarded.
func (t *Tracker) Submit(seq uint8, packet []byte, now time.Time, send func([]byte) error) error {
	t.pending = true
	t.packet = packet
	t.seq = seq
	t.lastSent = now
	t.retries = 0
	return send(packet)
}

// Ack clears the pending entry if seq matches, reporting whether it did.
func (t *Tracker) Ack(seq uint8) bool {
	if !t.pending || seq != t.seq {
		return false
	}
	t.clear()
	return true
}

// Tick retransmits the pending packet if Cadence has elapsed since the last
// send. It returns ErrExhausted once MaxRetries has been reached, clearing
// the pending entry; the caller is responsible for surfacing the failure
// (spec.md §7: RetryExhausted is logged, never re-driven automatically).
func (t *Tracker) Tick(now time.Time, send func([]byte) error) error {
	if !t.pending {
		return nil
	}
	if now.Sub(t.lastSent) < Cadence {
		return nil
	}
	if t.retries >= MaxRetries {
		t.clear()
		return ErrExhausted
	}
	t.lastSent = now
	t.retries++
	return send(t.packet)
}

// Clear abandons the pending entry, if any, without error.
func (t *Tracker) Clear() { t.clear() }

func (t *Tracker) clear() {
	t.pending = false
	t.packet = nil
	t.seq = 0
	t.retries = 0
}
