package mac

import "testing"

func TestBCNRoundTrip(t *testing.T) {
	cases := map[string]*BCN{
		"bare": {Superframe: 0xF0FF, GTSMask: 0},
		"with-gts": {
			Superframe: 0x1234,
			GTSPermit:  true,
			GTSMask:    0x07,
			GTSDesc: []GTSDescriptor{
				{ShortAddr: 0x0001, StartSlot: 3, Length: 5},
				{ShortAddr: 0x0002, StartSlot: 1, Length: 2},
				{ShortAddr: 0x0003, StartSlot: 0, Length: 1},
			},
		},
		"pending-addrs": {
			Superframe: 0x0000,
			PendShort:  []uint16{1, 2, 3, 4, 5, 6, 7},
			PendLong: [][8]byte{
				{0, 1, 2, 3, 4, 5, 6, 7},
				{1, 1, 2, 3, 4, 5, 6, 7},
			},
		},
		"vendor-extension": {
			Superframe: 0xBEEF,
			PendShort:  []uint16{0x10},
			HasVendor:  true,
			SSID:       "Sample",
			Services:   []uint16{0, 4, 99},
		},
		"vendor-empty-ssid": {
			Superframe: 0,
			HasVendor:  true,
			SSID:       "",
			Services:   nil,
		},
	}

	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			enc := b.Encode()
			got, rest, err := DecodeBCN(enc)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(rest) != 0 {
				t.Fatalf("leftover bytes: %x", rest)
			}
			if got.Superframe != b.Superframe {
				t.Fatalf("superframe mismatch: got %x want %x", got.Superframe, b.Superframe)
			}
			if got.SSID != b.SSID || got.HasVendor != b.HasVendor {
				t.Fatalf("vendor mismatch: got %+v want %+v", got, b)
			}
			if len(got.Services) != len(b.Services) {
				t.Fatalf("services mismatch: got %v want %v", got.Services, b.Services)
			}
			if len(got.PendShort) != len(b.PendShort) || len(got.PendLong) != len(b.PendLong) {
				t.Fatalf("pending addr count mismatch: got short=%d long=%d want short=%d long=%d",
					len(got.PendShort), len(got.PendLong), len(b.PendShort), len(b.PendLong))
			}
		})
	}
}

func TestBCNPendingAddrCapRejected(t *testing.T) {
	// pend_addr_spec byte: high nibble (long count) = 8, exceeds the 7 cap.
	raw := []byte{0x00, 0x00, 0x00, 0x80}
	_, _, err := DecodeBCN(raw)
	if err == nil {
		t.Fatalf("expected malformed frame for over-capacity pending address list")
	}
}

func TestBCNNonUTF8SSIDRejected(t *testing.T) {
	// superframe(2)+gts_spec(1)+pend_addr_spec(1)+magic(4)+ssid_len(1)+ssid(1 invalid byte)+n_services(1)
	raw := []byte{0, 0, 0, 0, 'Z', 'a', 'g', '!', 1, 0xFF, 0}
	_, _, err := DecodeBCN(raw)
	if err == nil {
		t.Fatalf("expected malformed frame for non-utf8 ssid")
	}
}
