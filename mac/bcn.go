package mac

import (
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// vendorMagic introduces the optional SSID/services extension appended to a
// beacon payload by this stack; it is not part of 802.15.4 itself.
var vendorMagic = [4]byte{'Z', 'a', 'g', '!'}

// Superframe bit offsets within BCN.Superframe.
const (
	sfBcnOrderShift          = 0
	sfSuperframeOrderShift   = 4
	sfFinalCapSlotShift      = 8
	sfBLEShift               = 12
	sfPanCoordinatorShift    = 14
	sfAssociationPermitShift = 15
)

// GTSDescriptor is one guaranteed-time-slot descriptor: a short address, a
// start slot and a slot length, packed on the wire as gts_info<<16|short_addr.
// Decoded but never scheduled, per spec.md's GTS Non-goal.
type GTSDescriptor struct {
	ShortAddr uint16
	StartSlot uint8
	Length    uint8
}

// BCN is the decoded beacon payload that follows the MHR in a beacon frame.
type BCN struct {
	Superframe  uint16
	GTSPermit   bool
	GTSMask     uint8
	GTSDesc     []GTSDescriptor
	PendShort   []uint16
	PendLong    [][8]byte
	HasVendor   bool
	SSID        string
	Services    []uint16
}

func (b *BCN) PanCoordinator() bool    { return b.Superframe&(1<<sfPanCoordinatorShift) != 0 }
func (b *BCN) AssociationPermit() bool { return b.Superframe&(1<<sfAssociationPermitShift) != 0 }

func (b *BCN) SetPanCoordinator(v bool)    { b.setSFBit(sfPanCoordinatorShift, v) }
func (b *BCN) SetAssociationPermit(v bool) { b.setSFBit(sfAssociationPermitShift, v) }

func (b *BCN) setSFBit(shift uint, v bool) {
	if v {
		b.Superframe |= 1 << shift
	} else {
		b.Superframe &^= 1 << shift
	}
}

// DecodeBCN parses a beacon payload: superframe spec, GTS descriptors,
// pending-address list, and an optional vendor extension introduced by the
// 4-byte magic "Zag!" carrying a UTF-8 SSID and a sorted service list. A
// payload lacking the magic simply has no vendor fields, per spec.md §4.2.
func DecodeBCN(data []byte) (*BCN, []byte, error) {
	if len(data) < 3 {
		return nil, nil, fmt.Errorf("mac: bcn header short: %w", ErrMalformedFrame)
	}
	b := &BCN{Superframe: binary.BigEndian.Uint16(data[0:2])}
	gtsSpec := data[2]
	offset := 3

	numDesc := int(gtsSpec & 0x3)
	b.GTSPermit = gtsSpec&0x80 != 0
	if numDesc > 0 {
		if len(data) < offset+1 {
			return nil, nil, fmt.Errorf("mac: bcn gts mask short: %w", ErrMalformedFrame)
		}
		b.GTSMask = data[offset]
		offset++
		for i := 0; i < numDesc; i++ {
			if len(data) < offset+3 {
				return nil, nil, fmt.Errorf("mac: bcn gts descriptor short: %w", ErrMalformedFrame)
			}
			info := data[offset]
			short := binary.BigEndian.Uint16(data[offset+1:])
			b.GTSDesc = append(b.GTSDesc, GTSDescriptor{
				ShortAddr: short,
				StartSlot: info & 0xF,
				Length:    info >> 4,
			})
			offset += 3
		}
	}

	if len(data) < offset+1 {
		return nil, nil, fmt.Errorf("mac: bcn pend addr spec short: %w", ErrMalformedFrame)
	}
	pendAddrSpec := data[offset]
	offset++

	numShort := int(pendAddrSpec & 0xF)
	numLong := int(pendAddrSpec >> 4)
	if numShort > 7 || numLong > 7 {
		return nil, nil, fmt.Errorf("mac: bcn pend addr count out of range: %w", ErrMalformedFrame)
	}
	for i := 0; i < numShort; i++ {
		if len(data) < offset+2 {
			return nil, nil, fmt.Errorf("mac: bcn pend short addr short: %w", ErrMalformedFrame)
		}
		b.PendShort = append(b.PendShort, binary.BigEndian.Uint16(data[offset:]))
		offset += 2
	}
	for i := 0; i < numLong; i++ {
		if len(data) < offset+8 {
			return nil, nil, fmt.Errorf("mac: bcn pend long addr short: %w", ErrMalformedFrame)
		}
		var a [8]byte
		copy(a[:], data[offset:offset+8])
		b.PendLong = append(b.PendLong, a)
		offset += 8
	}

	if len(data) < offset+4 || [4]byte(data[offset:offset+4]) != vendorMagic {
		return b, data[offset:], nil
	}
	offset += 4
	b.HasVendor = true

	if len(data) < offset+1 {
		return nil, nil, fmt.Errorf("mac: bcn vendor ssid len short: %w", ErrMalformedFrame)
	}
	ssidLen := int(data[offset])
	offset++
	if len(data) < offset+ssidLen {
		return nil, nil, fmt.Errorf("mac: bcn vendor ssid short: %w", ErrMalformedFrame)
	}
	ssid := data[offset : offset+ssidLen]
	if !utf8.Valid(ssid) {
		return nil, nil, fmt.Errorf("mac: bcn vendor ssid not utf8: %w", ErrMalformedFrame)
	}
	b.SSID = string(ssid)
	offset += ssidLen

	if len(data) < offset+1 {
		return nil, nil, fmt.Errorf("mac: bcn vendor service count short: %w", ErrMalformedFrame)
	}
	numServices := int(data[offset])
	offset++
	for i := 0; i < numServices; i++ {
		if len(data) < offset+2 {
			return nil, nil, fmt.Errorf("mac: bcn vendor service short: %w", ErrMalformedFrame)
		}
		b.Services = append(b.Services, binary.BigEndian.Uint16(data[offset:]))
		offset += 2
	}

	return b, data[offset:], nil
}

// Encode serialises the beacon payload. Pending long addresses are emitted
// one descriptor at a time, per spec.md §9's resolution of the original's
// whole-list-serialisation bug.
func (b *BCN) Encode() []byte {
	buf := make([]byte, 0, 32)
	var hdr [3]byte
	binary.BigEndian.PutUint16(hdr[0:2], b.Superframe)
	gtsSpec := uint8(len(b.GTSDesc)) & 0x3
	if b.GTSPermit {
		gtsSpec |= 0x80
	}
	hdr[2] = gtsSpec
	buf = append(buf, hdr[:]...)

	if len(b.GTSDesc) > 0 {
		buf = append(buf, b.GTSMask)
		for _, d := range b.GTSDesc {
			var e [3]byte
			e[0] = (d.Length << 4) | (d.StartSlot & 0xF)
			binary.BigEndian.PutUint16(e[1:3], d.ShortAddr)
			buf = append(buf, e[:]...)
		}
	}

	buf = append(buf, (uint8(len(b.PendLong))<<4)|uint8(len(b.PendShort)))
	for _, a := range b.PendShort {
		var e [2]byte
		binary.BigEndian.PutUint16(e[:], a)
		buf = append(buf, e[:]...)
	}
	for _, a := range b.PendLong {
		buf = append(buf, a[:]...)
	}

	if !b.HasVendor {
		return buf
	}
	buf = append(buf, vendorMagic[:]...)

	ssid := []byte(b.SSID)
	buf = append(buf, uint8(len(ssid)))
	buf = append(buf, ssid...)

	buf = append(buf, uint8(len(b.Services)))
	for _, s := range b.Services {
		var e [2]byte
		binary.BigEndian.PutUint16(e[:], s)
		buf = append(buf, e[:]...)
	}

	return buf
}
