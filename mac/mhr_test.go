package mac

import (
	"bytes"
	"errors"
	"testing"
)

func longAddr(b byte) [8]byte {
	var a [8]byte
	for i := range a {
		a[i] = b + byte(i)
	}
	return a
}

func TestMHRRoundTrip(t *testing.T) {
	cases := map[string]*MHR{
		"none-none": {SeqNum: 7},
		"short-short-no-compression": func() *MHR {
			m := &MHR{SeqNum: 1, DstPANID: 0xBEEF, DstAddr: ShortAddr(0x1234), SrcPANID: 0xCAFE, SrcAddr: ShortAddr(0x5678)}
			m.FrameControl.SetDstMode(AddrShort)
			m.FrameControl.SetSrcMode(AddrShort)
			return m
		}(),
		"long-long-compressed": func() *MHR {
			m := &MHR{SeqNum: 42, DstPANID: 0xBEEF, DstAddr: LongAddr(longAddr(1)), SrcPANID: 0xBEEF, SrcAddr: LongAddr(longAddr(0x10))}
			m.FrameControl.SetDstMode(AddrLong)
			m.FrameControl.SetSrcMode(AddrLong)
			m.FrameControl.SetPANIDCompression(true)
			return m
		}(),
		"short-dst-only": func() *MHR {
			m := &MHR{SeqNum: 9, DstPANID: 0xFFFF, DstAddr: ShortAddr(0xFFFF)}
			m.FrameControl.SetDstMode(AddrShort)
			return m
		}(),
		"long-src-only": func() *MHR {
			m := &MHR{SeqNum: 200, SrcPANID: 0xFFFF, SrcAddr: LongAddr(longAddr(0x20))}
			m.FrameControl.SetSrcMode(AddrLong)
			return m
		}(),
	}

	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			enc := m.Encode()
			got, rest, err := DecodeMHR(enc)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(rest) != 0 {
				t.Fatalf("leftover bytes: %x", rest)
			}
			if *got != *m {
				t.Fatalf("round trip mismatch: got %+v want %+v", got, m)
			}
		})
	}
}

func TestMHRPANIDCompressionLength(t *testing.T) {
	uncompressed := &MHR{SeqNum: 1, DstPANID: 0xBEEF, DstAddr: LongAddr(longAddr(1)),
		SrcPANID: 0xBEEF, SrcAddr: LongAddr(longAddr(2))}
	uncompressed.FrameControl.SetDstMode(AddrLong)
	uncompressed.FrameControl.SetSrcMode(AddrLong)

	compressed := *uncompressed
	compressed.FrameControl.SetPANIDCompression(true)

	encU := uncompressed.Encode()
	encC := compressed.Encode()
	if len(encU)-len(encC) != 2 {
		t.Fatalf("expected compressed encoding 2 bytes shorter, got %d vs %d", len(encU), len(encC))
	}

	decoded, _, err := DecodeMHR(encC)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.SrcPANID != decoded.DstPANID {
		t.Fatalf("src_panid %x != dst_panid %x", decoded.SrcPANID, decoded.DstPANID)
	}
}

func TestMHRRejectsReservedVersion(t *testing.T) {
	m := &MHR{SeqNum: 1}
	m.FrameControl.SetVersion(VersionReserved)
	_, _, err := DecodeMHR(m.Encode())
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}

	m.FrameControl.SetVersion(Version2015)
	_, _, err = DecodeMHR(m.Encode())
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestMHRRejectsReservedAddrMode(t *testing.T) {
	// dst_mode occupies bits [10..11]; value 1 (reserved) is bit 10 set alone.
	raw := []byte{0x04, 0x00, 5}
	_, _, err := DecodeMHR(raw)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame for reserved dst_mode, got %v", err)
	}

	// src_mode occupies bits [14..15]; value 1 (reserved) is bit 14 set alone.
	raw = []byte{0x40, 0x00, 5}
	_, _, err = DecodeMHR(raw)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame for reserved src_mode, got %v", err)
	}
}

func TestMHRShortBufferMalformed(t *testing.T) {
	_, _, err := DecodeMHR([]byte{0x00})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestLongAddrByteOrderPreserved(t *testing.T) {
	a := LongAddr([8]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01, 0x02, 0x03})
	m := &MHR{SeqNum: 1, SrcAddr: a}
	m.FrameControl.SetSrcMode(AddrLong)
	enc := m.Encode()
	// fc(2)+seq(1)+src_panid(2) precede the source address.
	if !bytes.Equal(enc[5:13], a.Long[:]) {
		t.Fatalf("long address not emitted byte-for-byte: %x", enc[5:13])
	}
}
