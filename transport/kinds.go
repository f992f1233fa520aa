package transport

// Kind is the single byte that leads every host↔radio message. Requests the
// host sends always have Kind < 0x80. The radio's replies set bit 7; bit 6
// additionally set marks an asynchronous event rather than a response to an
// outstanding request.
type Kind uint8

const (
	KindOK         Kind = 0x80
	KindErr        Kind = 0x81
	KindEvOnPacket Kind = 0xC0
	KindEvOnButton Kind = 0xC1
)

func (k Kind) isEvent() bool    { return k&0xC0 == 0xC0 }
func (k Kind) isResponse() bool { return k&0xC0 == 0x80 }

// EventKind distinguishes the two asynchronous event types the radio can
// push unsolicited.
type EventKind uint8

const (
	EventOnPacket EventKind = EventKind(KindEvOnPacket)
	EventOnButton EventKind = EventKind(KindEvOnButton)
)

// Event is one asynchronous notification from the radio, demultiplexed from
// response traffic by the reader goroutine and delivered in arrival order.
type Event struct {
	Kind EventKind

	// Valid when Kind == EventOnPacket: the raw MAC frame with the
	// trailing rssi/link-quality bytes already stripped, and the RSSI in
	// dBm those trailing bytes carried.
	Packet []byte
	RSSI   int8

	// Valid when Kind == EventOnButton.
	Button uint8
}
