package coordinator

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/srhg/zag-bridge/mac"
	"github.com/srhg/zag-bridge/radio"
	"github.com/srhg/zag-bridge/transport"
)

// fakeRadioLink answers every Radio API request with a canned response so
// Coordinator's boot sequence and handlers can run without real hardware.
// Sent MAC frames (send_packet requests) are captured in order for
// assertion.
type fakeRadioLink struct {
	mu       sync.Mutex
	cond     *sync.Cond
	in       []byte
	longAddr [8]byte
	ledMask  uint8
	sent     [][]byte
}

func newFakeRadioLink(longAddr [8]byte) *fakeRadioLink {
	l := &fakeRadioLink{longAddr: longAddr}
	l.cond = sync.NewCond(&l.mu)
	l.in = append(l.in, 0xAA, 'Z', 'A', 'G')
	return l
}

func (l *fakeRadioLink) Read(p []byte) (int, error) {
	l.mu.Lock()
	for len(l.in) == 0 {
		l.cond.Wait()
	}
	n := copy(p, l.in)
	l.in = l.in[n:]
	l.mu.Unlock()
	return n, nil
}

func (l *fakeRadioLink) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if bytes.Equal(p, []byte{0xAA, 'Z', 'A', 'G'}) {
		return len(p), nil
	}

	kind := p[0]
	payload := p[2:]
	resp := l.respond(kind, payload)
	l.in = append(l.in, resp...)
	l.cond.Broadcast()
	return len(p), nil
}

func (l *fakeRadioLink) respond(kind uint8, payload []byte) []byte {
	ok := func(body ...byte) []byte {
		return append([]byte{0x80, byte(len(body))}, body...)
	}
	switch kind {
	case 0: // send_packet
		l.sent = append(l.sent, append([]byte(nil), payload...))
		return ok(0, 0) // transmit_result = ok
	case 5: // get_value
		return ok(0, 0, 0, 0)
	case 6: // set_value
		return ok(0, 0)
	case 7: // get_object
		return ok(append([]byte{0, 0}, l.longAddr[:]...)...)
	case 8: // set_object
		return ok(0, 0)
	case 9: // get_leds
		return ok(l.ledMask)
	case 10: // set_leds
		mask, value := payload[0], payload[1]
		l.ledMask = (l.ledMask &^ mask) | (value & mask)
		return ok()
	default:
		return ok()
	}
}

func (l *fakeRadioLink) Flush() error { return nil }

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestCoordinator(t *testing.T, long [8]byte) (*Coordinator, *fakeRadioLink) {
	t.Helper()
	link := newFakeRadioLink(long)
	tp := transport.New(link, testLogger())
	go tp.Run()
	t.Cleanup(tp.Shutdown)

	r := radio.New(tp)
	c, err := New(r, testLogger(), t.TempDir()+"/coordinator.ini")
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c, link
}

func beaconRequestFrame(seq uint8) []byte {
	fc := mac.FrameControl(0)
	fc.SetType(mac.FrameCmd)
	fc.SetDstMode(mac.AddrShort)
	m := &mac.MHR{FrameControl: fc, SeqNum: seq, DstPANID: 0xFFFF, DstAddr: mac.ShortAddr(0xFFFF)}
	cmd := &mac.CMD{Identifier: mac.BeaconRequest}
	return append(m.Encode(), cmd.Encode()...)
}

func associationRequestFrame(seq uint8, panid uint16, coordShort uint16, devLong [8]byte) []byte {
	fc := mac.FrameControl(0)
	fc.SetType(mac.FrameCmd)
	fc.SetReqAck(true)
	fc.SetDstMode(mac.AddrShort)
	fc.SetSrcMode(mac.AddrLong)
	m := &mac.MHR{
		FrameControl: fc,
		SeqNum:       seq,
		DstPANID:     panid,
		DstAddr:      mac.ShortAddr(coordShort),
		SrcPANID:     0xFFFF,
		SrcAddr:      mac.LongAddr(devLong),
	}
	cmd := &mac.CMD{Identifier: mac.AssociationRequest}
	return append(m.Encode(), cmd.Encode()...)
}

func TestCoordinatorAnswersBeaconRequest(t *testing.T) {
	long := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	c, link := newTestCoordinator(t, long)
	c.cfg.PANID = 0xBEEF
	c.cfg.SSID = "Sample"
	c.cfg.Services = []uint16{0}

	c.handlePacket(beaconRequestFrame(42))

	if len(link.sent) != 1 {
		t.Fatalf("expected one sent frame, got %d", len(link.sent))
	}
	mhr, payload, err := mac.DecodeMHR(link.sent[0])
	if err != nil {
		t.Fatalf("decode beacon mhr: %v", err)
	}
	if mhr.FrameControl.Type() != mac.FrameBeacon {
		t.Fatalf("expected beacon frame, got type %v", mhr.FrameControl.Type())
	}
	if mhr.SrcPANID != 0xBEEF || mhr.SrcAddr.Short != 0x0000 {
		t.Fatalf("unexpected beacon source: panid=%x addr=%x", mhr.SrcPANID, mhr.SrcAddr.Short)
	}
	bcn, _, err := mac.DecodeBCN(payload)
	if err != nil {
		t.Fatalf("decode bcn: %v", err)
	}
	if !bcn.PanCoordinator() || !bcn.AssociationPermit() {
		t.Fatalf("expected pan_coordinator and association_permit set")
	}
	if bcn.SSID != "Sample" || len(bcn.Services) != 1 || bcn.Services[0] != 0 {
		t.Fatalf("unexpected bcn ssid/services: %+v", bcn)
	}
}

func TestCoordinatorAssociationGrantedOnButton(t *testing.T) {
	long := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	c, link := newTestCoordinator(t, long)
	c.cfg.PANID = 0xBEEF

	devLong := [8]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22}
	c.handlePacket(associationRequestFrame(5, 0xBEEF, 0x0000, devLong))

	if c.pending == nil {
		t.Fatalf("expected pending approval after association request")
	}
	if c.pending.longAddr != devLong {
		t.Fatalf("pending approval tracks wrong long addr")
	}
	// First sent frame is the immediate MAC ack.
	if len(link.sent) != 1 {
		t.Fatalf("expected one sent frame (ack), got %d", len(link.sent))
	}

	c.handleButton(1)

	if c.pending != nil {
		t.Fatalf("expected pending cleared after button approval")
	}
	if len(link.sent) != 2 {
		t.Fatalf("expected a second sent frame (association_response), got %d", len(link.sent))
	}

	mhr, payload, err := mac.DecodeMHR(link.sent[1])
	if err != nil {
		t.Fatalf("decode response mhr: %v", err)
	}
	cmd, _, err := mac.DecodeCMD(payload)
	if err != nil {
		t.Fatalf("decode response cmd: %v", err)
	}
	if cmd.Status != mac.AssocSuccess {
		t.Fatalf("expected assoc_success, got %v", cmd.Status)
	}
	if cmd.ShortAddr == 0xFFFF || cmd.ShortAddr == 0x0000 {
		t.Fatalf("unexpected allocated short addr: %x", cmd.ShortAddr)
	}
	if mhr.DstAddr.Long != devLong {
		t.Fatalf("response addressed to wrong device")
	}

	allocated, ok := c.lookupDevice(devLong)
	if !ok || allocated != cmd.ShortAddr {
		t.Fatalf("device table not updated with allocated address")
	}
}

func TestCoordinatorAssociationTimeout(t *testing.T) {
	long := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	c, link := newTestCoordinator(t, long)
	c.cfg.PANID = 0xBEEF

	devLong := [8]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22}
	c.handlePacket(associationRequestFrame(5, 0xBEEF, 0x0000, devLong))
	if c.pending == nil {
		t.Fatalf("expected pending approval")
	}

	c.tick(c.pending.startedAt.Add(AssociationTimeout))

	if c.pending != nil {
		t.Fatalf("expected pending cleared after timeout")
	}
	last := link.sent[len(link.sent)-1]
	_, payload, err := mac.DecodeMHR(last)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cmd, _, err := mac.DecodeCMD(payload)
	if err != nil {
		t.Fatalf("decode cmd: %v", err)
	}
	if cmd.Status != mac.AccessDenied {
		t.Fatalf("expected access_denied on timeout, got %v", cmd.Status)
	}
}

func TestCoordinatorReassociationRepliesImmediately(t *testing.T) {
	long := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	c, link := newTestCoordinator(t, long)
	c.cfg.PANID = 0xBEEF

	devLong := [8]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22}
	c.cfg.Devices[0x1234] = devLong

	c.handlePacket(associationRequestFrame(5, 0xBEEF, 0x0000, devLong))

	if c.pending != nil {
		t.Fatalf("expected no pending state for a re-association")
	}
	if len(link.sent) != 2 {
		t.Fatalf("expected ack + immediate response, got %d frames", len(link.sent))
	}
	_, payload, err := mac.DecodeMHR(link.sent[1])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cmd, _, err := mac.DecodeCMD(payload)
	if err != nil {
		t.Fatalf("decode cmd: %v", err)
	}
	if cmd.ShortAddr != 0x1234 || cmd.Status != mac.AssocSuccess {
		t.Fatalf("unexpected reassociation reply: %+v", cmd)
	}
}
