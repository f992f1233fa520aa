package mac

import (
	"encoding/binary"
	"fmt"
)

// MHR is the decoded MAC header. Each PAN-ID is held in its own field next
// to the matching Addr; DstPANID/SrcPANID are meaningful only when the
// corresponding Addr.Mode is AddrShort or AddrLong.
type MHR struct {
	FrameControl FrameControl
	SeqNum       uint8
	DstPANID     uint16
	DstAddr      Addr
	SrcPANID     uint16
	SrcAddr      Addr
}

// DecodeMHR parses a MAC header from the front of data and returns the
// decoded header along with the remaining, not-yet-consumed bytes (the BCN
// or CMD payload, or nothing for a bare ack frame).
//
// Frames with a reserved address mode (1) or a version newer than 2006 are
// rejected with ErrMalformedFrame, per spec.md's version/addressing
// boundaries; IEEE 802.15.4-2015 framing and the security sublayer are out
// of scope (spec.md Non-goals).
func DecodeMHR(data []byte) (*MHR, []byte, error) {
	if len(data) < 3 {
		return nil, nil, fmt.Errorf("mac: mhr header short: %w", ErrMalformedFrame)
	}
	m := &MHR{
		FrameControl: FrameControl(binary.BigEndian.Uint16(data[0:2])),
		SeqNum:       data[2],
	}
	offset := 3

	if v := m.FrameControl.Version(); v > Version2006 {
		return nil, nil, fmt.Errorf("mac: unsupported frame version %d: %w", v, ErrMalformedFrame)
	}

	dstMode := m.FrameControl.DstMode()
	srcMode := m.FrameControl.SrcMode()
	if !validAddrMode(dstMode) || !validAddrMode(srcMode) {
		return nil, nil, fmt.Errorf("mac: reserved address mode: %w", ErrMalformedFrame)
	}

	if addressed(dstMode) {
		if len(data) < offset+2 {
			return nil, nil, fmt.Errorf("mac: mhr dst panid short: %w", ErrMalformedFrame)
		}
		m.DstPANID = binary.BigEndian.Uint16(data[offset:])
		offset += 2
	}
	switch dstMode {
	case AddrShort:
		if len(data) < offset+2 {
			return nil, nil, fmt.Errorf("mac: mhr dst addr short: %w", ErrMalformedFrame)
		}
		m.DstAddr = ShortAddr(binary.BigEndian.Uint16(data[offset:]))
		offset += 2
	case AddrLong:
		if len(data) < offset+8 {
			return nil, nil, fmt.Errorf("mac: mhr dst addr short: %w", ErrMalformedFrame)
		}
		var a [8]byte
		copy(a[:], data[offset:offset+8])
		m.DstAddr = LongAddr(a)
		offset += 8
	default:
		m.DstAddr = NoAddr()
	}

	panCompressed := m.FrameControl.PANIDCompression()
	if addressed(srcMode) {
		if panCompressed && addressed(dstMode) {
			m.SrcPANID = m.DstPANID
		} else {
			if len(data) < offset+2 {
				return nil, nil, fmt.Errorf("mac: mhr src panid short: %w", ErrMalformedFrame)
			}
			m.SrcPANID = binary.BigEndian.Uint16(data[offset:])
			offset += 2
		}
	}
	switch srcMode {
	case AddrShort:
		if len(data) < offset+2 {
			return nil, nil, fmt.Errorf("mac: mhr src addr short: %w", ErrMalformedFrame)
		}
		m.SrcAddr = ShortAddr(binary.BigEndian.Uint16(data[offset:]))
		offset += 2
	case AddrLong:
		if len(data) < offset+8 {
			return nil, nil, fmt.Errorf("mac: mhr src addr short: %w", ErrMalformedFrame)
		}
		var a [8]byte
		copy(a[:], data[offset:offset+8])
		m.SrcAddr = LongAddr(a)
		offset += 8
	default:
		m.SrcAddr = NoAddr()
	}

	return m, data[offset:], nil
}

// Encode serialises the MHR per the Frame Control field's addressing modes
// and PAN-ID compression bit. Callers are responsible for setting
// FrameControl's mode bits consistently with the Addr values they provide.
func (m *MHR) Encode() []byte {
	buf := make([]byte, 0, 23)
	var hdr [3]byte
	binary.BigEndian.PutUint16(hdr[0:2], uint16(m.FrameControl))
	hdr[2] = m.SeqNum
	buf = append(buf, hdr[:]...)

	dstMode := m.FrameControl.DstMode()
	if addressed(dstMode) {
		var p [2]byte
		binary.BigEndian.PutUint16(p[:], m.DstPANID)
		buf = append(buf, p[:]...)
	}
	switch dstMode {
	case AddrShort:
		var a [2]byte
		binary.BigEndian.PutUint16(a[:], m.DstAddr.Short)
		buf = append(buf, a[:]...)
	case AddrLong:
		buf = append(buf, m.DstAddr.Long[:]...)
	}

	srcMode := m.FrameControl.SrcMode()
	panCompressed := m.FrameControl.PANIDCompression()
	if addressed(srcMode) && !(panCompressed && addressed(dstMode)) {
		var p [2]byte
		binary.BigEndian.PutUint16(p[:], m.SrcPANID)
		buf = append(buf, p[:]...)
	}
	switch srcMode {
	case AddrShort:
		var a [2]byte
		binary.BigEndian.PutUint16(a[:], m.SrcAddr.Short)
		buf = append(buf, a[:]...)
	case AddrLong:
		buf = append(buf, m.SrcAddr.Long[:]...)
	}

	return buf
}
