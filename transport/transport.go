package transport

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srhg/zag-bridge/rtsched"
)

// magic marks the start of synchronised traffic; it is written by the host
// whenever sync is lost and must appear as a suffix of the bytes the reader
// has consumed before the link is considered synced.
var magic = []byte{0xAA, 'Z', 'A', 'G'}

// Transport frames the host↔radio protocol described in spec.md §4.1: one
// reader goroutine owns the SerialLink, reassembles header+payload
// messages, and demultiplexes synchronous responses (single outstanding
// request at a time) from an unbounded stream of asynchronous events.
type Transport struct {
	link SerialLink
	log  logrus.FieldLogger

	reqMu    sync.Mutex // spans write + response wait; serialises requests
	respCh   chan response
	events   *eventQueue
	shutdown chan struct{}
	done     chan struct{}

	// pending holds bytes already pulled off the link during resync that
	// follow the magic in the same read, so they aren't lost before the
	// header/payload reader gets a turn. Owned solely by the Run goroutine.
	pending []byte
}

type response struct {
	kind    Kind
	payload []byte
}

// New creates a Transport over link. Call Run in its own goroutine before
// issuing any Request.
func New(link SerialLink, log logrus.FieldLogger) *Transport {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Transport{
		link:     link,
		log:      log,
		respCh:   make(chan response, 1),
		events:   newEventQueue(),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run owns the SerialLink until a fatal I/O error occurs or Shutdown is
// called. It starts sync-lost, as spec.md §4.1 requires, and transparently
// resyncs whenever framing is lost.
func (t *Transport) Run() error {
	defer close(t.done)
	defer t.events.close()

	if err := rtsched.Pin(); err != nil {
		t.log.Debugf("transport: realtime scheduling unavailable: %v", err)
	}

	for {
		select {
		case <-t.shutdown:
			return nil
		default:
		}

		if err := t.resync(); err != nil {
			return fmt.Errorf("transport: resync: %w", err)
		}

		for {
			select {
			case <-t.shutdown:
				return nil
			default:
			}

			var hdr [2]byte
			if err := t.readFull(hdr[:]); err != nil {
				if err == errTimeout {
					t.log.Debug("transport: header read timed out, resyncing")
					break // back to resync
				}
				return fmt.Errorf("transport: %w", err)
			}

			kind := Kind(hdr[0])
			n := int(hdr[1])
			payload := make([]byte, n)
			if n > 0 {
				if err := t.readFull(payload); err != nil {
					if err == errTimeout {
						t.log.Debug("transport: payload read timed out, resyncing")
						break
					}
					return fmt.Errorf("transport: %w", err)
				}
			}

			t.dispatch(kind, payload)
		}
	}
}

// resync writes the magic and reads until it has seen the magic anywhere in
// the accumulated stream — a synchronisation signal, not a delimited record
// (spec.md §9's third open-question resolution), found by scanning for it
// as a contiguous run of bytes the way pyserial's read_until stops at a delimiter
// rather than requiring it land on a read boundary. Any bytes read past the
// magic in the same chunk are framed-stream bytes already, so they're
// stashed in t.pending for the header/payload reader instead of discarded.
func (t *Transport) resync() error {
	t.pending = nil // any bytes left over from before sync was lost are stale

	if _, err := t.link.Write(magic); err != nil {
		return fmt.Errorf("%w: %s", ErrIO, err)
	}

	buf := make([]byte, 0, 64)
	chunk := make([]byte, 64)
	for {
		select {
		case <-t.shutdown:
			return ErrShutdown
		default:
		}

		n, err := t.link.Read(chunk)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrIO, err)
		}
		if n == 0 {
			if _, err := t.link.Write(magic); err != nil {
				return fmt.Errorf("%w: %s", ErrIO, err)
			}
			continue
		}

		buf = append(buf, chunk[:n]...)
		if idx := bytes.Index(buf, magic); idx >= 0 {
			t.pending = append(t.pending, buf[idx+len(magic):]...)
			return nil
		}

		// No match yet: keep only the tail that could still be a prefix of
		// the magic once more bytes arrive, so buf doesn't grow without
		// bound while noise keeps coming in.
		if len(buf) > len(magic)-1 {
			buf = buf[len(buf)-(len(magic)-1):]
		}
	}
}

// readFull reads exactly len(buf) bytes, first draining any bytes stashed
// in t.pending by resync before pulling more off the link. A read call that
// returns zero bytes without error means the serial timeout elapsed with
// nothing pending, which per spec.md §4.1 drops the Transport back to
// sync-lost.
func (t *Transport) readFull(buf []byte) error {
	got := 0
	if len(t.pending) > 0 {
		got = copy(buf, t.pending)
		t.pending = t.pending[got:]
	}
	for got < len(buf) {
		n, err := t.link.Read(buf[got:])
		if err != nil {
			return fmt.Errorf("%w: %s", ErrIO, err)
		}
		if n == 0 {
			return errTimeout
		}
		got += n
	}
	return nil
}

func (t *Transport) dispatch(kind Kind, payload []byte) {
	switch {
	case kind.isEvent():
		t.dispatchEvent(EventKind(kind), payload)
	case kind.isResponse():
		select {
		case t.respCh <- response{kind: kind, payload: payload}:
		default:
			// A response arrived with nothing waiting for it: the radio
			// violated half-duplex request/response discipline. Drop it
			// rather than block the reader.
			t.log.Warn("transport: unexpected response with no outstanding request")
		}
	default:
		t.log.Warnf("transport: reserved kind 0x%02x dropped", byte(kind))
	}
}

func (t *Transport) dispatchEvent(kind EventKind, payload []byte) {
	switch kind {
	case EventOnPacket:
		if len(payload) < 2 {
			t.log.Warn("transport: on_packet event too short, dropped")
			return
		}
		rssi := int8(payload[len(payload)-2])
		frame := payload[:len(payload)-2]
		t.events.push(Event{Kind: EventOnPacket, Packet: frame, RSSI: rssi})
	case EventOnButton:
		if len(payload) < 1 {
			t.log.Warn("transport: on_button event too short, dropped")
			return
		}
		t.events.push(Event{Kind: EventOnButton, Button: payload[0]})
	default:
		t.log.Warnf("transport: unknown event kind 0x%02x dropped", byte(kind))
	}
}

// Request writes a framed request and blocks for the matching response.
// Requests are serialised by a mutex spanning the write and the wait, so at
// most one is outstanding at a time; events bypass this entirely.
func (t *Transport) Request(kind Kind, payload []byte) ([]byte, error) {
	if kind >= 0x80 {
		return nil, fmt.Errorf("transport: request kind 0x%02x must be < 0x80", byte(kind))
	}
	if len(payload) > 255 {
		return nil, fmt.Errorf("transport: request payload too long: %d bytes", len(payload))
	}

	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	frame := make([]byte, 2+len(payload))
	frame[0] = byte(kind)
	frame[1] = byte(len(payload))
	copy(frame[2:], payload)

	if _, err := t.link.Write(frame); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIO, err)
	}

	select {
	case resp := <-t.respCh:
		if resp.kind == KindErr {
			return nil, ErrResponse
		}
		return resp.payload, nil
	case <-t.shutdown:
		return nil, ErrShutdown
	}
}

// Dequeue waits up to timeout for the next asynchronous event, per
// spec.md §5's scheduling model ("event channel, blocking dequeue with
// timeout").
func (t *Transport) Dequeue(timeout time.Duration) (Event, bool) {
	return t.events.dequeue(timeout)
}

// Shutdown requests the reader goroutine to stop at its next opportunity
// and unblocks any in-flight Request. It does not close the underlying
// link; the caller owns that.
func (t *Transport) Shutdown() {
	select {
	case <-t.shutdown:
	default:
		close(t.shutdown)
	}
}

// Done reports when Run has returned.
func (t *Transport) Done() <-chan struct{} { return t.done }
