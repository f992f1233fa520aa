package mac

import (
	"encoding/binary"
	"fmt"
)

// Identifier is the single-byte discriminant of a MAC command payload.
type Identifier uint8

const (
	AssociationRequest         Identifier = 1
	AssociationResponse        Identifier = 2
	DisassociationNotification Identifier = 3
	DataRequest                Identifier = 4
	PANIDConflict              Identifier = 5
	OrphanNotification         Identifier = 6
	BeaconRequest              Identifier = 7
	CoordinatorRealignment     Identifier = 8
	GTSRequest                 Identifier = 9
)

// AssocCapability bit offsets within an association-request capability byte.
const (
	CapAltCoordinator = 0
	CapDevType        = 1
	CapPowerSource    = 2
	CapIdleRecv       = 3
	CapSecurity       = 6
	CapAllocAddr      = 7
)

// AssocStatus is the outcome byte of an association response.
type AssocStatus uint8

const (
	AssocSuccess  AssocStatus = 0
	PANAtCapacity AssocStatus = 1
	AccessDenied  AssocStatus = 2
)

func (s AssocStatus) String() string {
	switch s {
	case AssocSuccess:
		return "assoc_success"
	case PANAtCapacity:
		return "pan_at_capacity"
	case AccessDenied:
		return "access_denied"
	default:
		return fmt.Sprintf("assoc_status(%d)", uint8(s))
	}
}

// DisassocReason is the reason byte of a disassociation notification.
type DisassocReason uint8

const (
	ReasonCoordLeave DisassocReason = 1
	ReasonDevLeave   DisassocReason = 2
)

// GTS characteristics bit offsets, decoded but never scheduled.
const (
	GTSCharLengthShift    = 0
	GTSCharDirectionShift = 4
	GTSCharTypeShift      = 5
)

// CMD is the decoded MAC command payload. Only the fields relevant to
// Identifier are meaningful; the rest are zero.
type CMD struct {
	Identifier Identifier

	// AssociationRequest
	Capability uint8

	// AssociationResponse
	ShortAddr uint16
	Status    AssocStatus

	// DisassociationNotification
	Reason DisassocReason

	// CoordinatorRealignment
	PANID     uint16
	CoordAddr uint16
	Channel   uint8
	// ShortAddr shared with AssociationResponse

	// GTSRequest
	Characteristics uint8
}

// DecodeCMD parses a MAC command payload. Unknown identifiers decode with
// only Identifier populated, the remaining bytes handed back unconsumed, per
// spec.md §4.2.
func DecodeCMD(data []byte) (*CMD, []byte, error) {
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("mac: cmd identifier short: %w", ErrMalformedFrame)
	}
	c := &CMD{Identifier: Identifier(data[0])}
	offset := 1

	switch c.Identifier {
	case AssociationRequest:
		if len(data) < offset+1 {
			return nil, nil, fmt.Errorf("mac: cmd assoc request short: %w", ErrMalformedFrame)
		}
		c.Capability = data[offset]
		offset++
	case AssociationResponse:
		if len(data) < offset+3 {
			return nil, nil, fmt.Errorf("mac: cmd assoc response short: %w", ErrMalformedFrame)
		}
		c.ShortAddr = binary.BigEndian.Uint16(data[offset:])
		c.Status = AssocStatus(data[offset+2])
		offset += 3
	case DisassociationNotification:
		if len(data) < offset+1 {
			return nil, nil, fmt.Errorf("mac: cmd disassoc short: %w", ErrMalformedFrame)
		}
		c.Reason = DisassocReason(data[offset])
		offset++
	case CoordinatorRealignment:
		if len(data) < offset+7 {
			return nil, nil, fmt.Errorf("mac: cmd realignment short: %w", ErrMalformedFrame)
		}
		c.PANID = binary.BigEndian.Uint16(data[offset:])
		c.CoordAddr = binary.BigEndian.Uint16(data[offset+2:])
		c.Channel = data[offset+4]
		c.ShortAddr = binary.BigEndian.Uint16(data[offset+5:])
		offset += 7
	case GTSRequest:
		if len(data) < offset+1 {
			return nil, nil, fmt.Errorf("mac: cmd gts request short: %w", ErrMalformedFrame)
		}
		c.Characteristics = data[offset]
		offset++
	}

	return c, data[offset:], nil
}

// Encode serialises the command payload per Identifier.
func (c *CMD) Encode() []byte {
	buf := []byte{byte(c.Identifier)}
	switch c.Identifier {
	case AssociationRequest:
		buf = append(buf, c.Capability)
	case AssociationResponse:
		var e [3]byte
		binary.BigEndian.PutUint16(e[0:2], c.ShortAddr)
		e[2] = byte(c.Status)
		buf = append(buf, e[:]...)
	case DisassociationNotification:
		buf = append(buf, byte(c.Reason))
	case CoordinatorRealignment:
		var e [7]byte
		binary.BigEndian.PutUint16(e[0:2], c.PANID)
		binary.BigEndian.PutUint16(e[2:4], c.CoordAddr)
		e[4] = c.Channel
		binary.BigEndian.PutUint16(e[5:7], c.ShortAddr)
		buf = append(buf, e[:]...)
	case GTSRequest:
		buf = append(buf, c.Characteristics)
	}
	return buf
}
