// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package mac implements the IEEE-802.15.4-style MAC frame codec shared by
// the coordinator and device roles: the MAC header (MHR), the beacon
// payload (BCN) and the MAC command payload (CMD). Field layout and bit
// offsets are driven by the Frame Control word and vary with the addressing
// modes and PAN-ID compression bit present in each frame.
package mac

import "errors"

// ErrMalformedFrame is returned (possibly wrapped) whenever a decoder runs
// out of bytes, finds an invalid enumerated value, or finds non-UTF-8 text
// where a string is expected. Per spec the response at the role layer is
// always to drop the packet silently; this sentinel lets callers recognize
// that case with errors.Is without parsing error strings.
var ErrMalformedFrame = errors.New("mac: malformed frame")

// FrameType occupies bits [0..2] of the Frame Control word.
type FrameType uint8

const (
	FrameBeacon       FrameType = 0
	FrameData         FrameType = 1
	FrameAck          FrameType = 2
	FrameCmd          FrameType = 3
	FrameMultipurpose FrameType = 5
	FrameFragment     FrameType = 6
	FrameExtended     FrameType = 7
)

// AddrMode occupies the dst_mode (bits [10..11]) and src_mode (bits
// [14..15]) fields of the Frame Control word. Value 1 is reserved by
// 802.15.4-2006 and always rejected by the decoder.
type AddrMode uint8

const (
	AddrNone  AddrMode = 0
	addrRsvd  AddrMode = 1
	AddrShort AddrMode = 2
	AddrLong  AddrMode = 3
)

// Version occupies bits [12..13] of the Frame Control word. Only
// Version2003 and Version2006 are accepted by this codec; Version2015 and
// VersionReserved decode as malformed, per spec.md's frame-version boundary.
type Version uint8

const (
	Version2003    Version = 0
	Version2006    Version = 1
	Version2015    Version = 2
	VersionReserved Version = 3
)

// bit shifts within the 16-bit Frame Control word.
const (
	fcTypeShift      = 0
	fcSecurityShift  = 3
	fcPendingShift   = 4
	fcReqAckShift    = 5
	fcPANIDCompShift = 6
	fcDstModeShift   = 10
	fcVersionShift   = 12
	fcSrcModeShift   = 14
)

// FrameControl is the 16-bit bit-packed Frame Control field that drives the
// layout of the rest of the MHR.
type FrameControl uint16

func (fc FrameControl) Type() FrameType { return FrameType((fc >> fcTypeShift) & 0x7) }
func (fc FrameControl) Security() bool  { return fc&(1<<fcSecurityShift) != 0 }
func (fc FrameControl) Pending() bool   { return fc&(1<<fcPendingShift) != 0 }
func (fc FrameControl) ReqAck() bool    { return fc&(1<<fcReqAckShift) != 0 }
func (fc FrameControl) PANIDCompression() bool {
	return fc&(1<<fcPANIDCompShift) != 0
}
func (fc FrameControl) DstMode() AddrMode { return AddrMode((fc >> fcDstModeShift) & 0x3) }
func (fc FrameControl) Version() Version  { return Version((fc >> fcVersionShift) & 0x3) }
func (fc FrameControl) SrcMode() AddrMode { return AddrMode((fc >> fcSrcModeShift) & 0x3) }

func (fc *FrameControl) SetType(t FrameType) {
	*fc = (*fc &^ (0x7 << fcTypeShift)) | FrameControl(t)<<fcTypeShift
}
func (fc *FrameControl) SetSecurity(v bool)  { fc.setBit(fcSecurityShift, v) }
func (fc *FrameControl) SetPending(v bool)   { fc.setBit(fcPendingShift, v) }
func (fc *FrameControl) SetReqAck(v bool)    { fc.setBit(fcReqAckShift, v) }
func (fc *FrameControl) SetPANIDCompression(v bool) {
	fc.setBit(fcPANIDCompShift, v)
}
func (fc *FrameControl) SetDstMode(m AddrMode) {
	*fc = (*fc &^ (0x3 << fcDstModeShift)) | FrameControl(m)<<fcDstModeShift
}
func (fc *FrameControl) SetVersion(v Version) {
	*fc = (*fc &^ (0x3 << fcVersionShift)) | FrameControl(v)<<fcVersionShift
}
func (fc *FrameControl) SetSrcMode(m AddrMode) {
	*fc = (*fc &^ (0x3 << fcSrcModeShift)) | FrameControl(m)<<fcSrcModeShift
}

func (fc *FrameControl) setBit(shift uint, v bool) {
	if v {
		*fc |= 1 << shift
	} else {
		*fc &^= 1 << shift
	}
}

// addressed reports whether mode carries an address+PAN-ID pair on the wire.
func addressed(m AddrMode) bool { return m == AddrShort || m == AddrLong }

// validAddrMode rejects the reserved value 1, per spec.md's addressing-mode
// boundary ("A frame with src_mode=1 or dst_mode=1 decodes as rejected").
func validAddrMode(m AddrMode) bool { return m == AddrNone || m == AddrShort || m == AddrLong }

// Addr is a tagged union over the three addressing modes a MAC frame field
// can carry: absent, a 16-bit short address, or a 64-bit long address.
type Addr struct {
	Mode  AddrMode
	Short uint16
	Long  [8]byte
}

// NoAddr returns the absent address.
func NoAddr() Addr { return Addr{Mode: AddrNone} }

// ShortAddr wraps a 16-bit short address.
func ShortAddr(a uint16) Addr { return Addr{Mode: AddrShort, Short: a} }

// LongAddr wraps a 64-bit long address, stored byte-for-byte in the order
// the radio reports it (MSB-first) and transmitted unchanged.
func LongAddr(a [8]byte) Addr { return Addr{Mode: AddrLong, Long: a} }
