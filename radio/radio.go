// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package radio provides typed wrappers over the host↔radio request API
// (spec.md §4.1's table), turning the raw Transport.Request byte protocol
// into the operations roles actually call: send a MAC frame, read/write a
// device parameter, read/write an arbitrary object, peek/poke memory, and
// drive the LEDs.
package radio

import (
	"encoding/binary"
	"fmt"

	"github.com/srhg/zag-bridge/transport"
)

// Request kinds, one per Radio API operation (spec.md §6's Response kinds
// table only fixes ok/err/events; the request-side kind values mirror
// zag.py's DEV.Request enum, which this protocol's radio firmware expects).
const (
	kindSendPacket transport.Kind = 0
	kindGetMem     transport.Kind = 1
	kindSetMem     transport.Kind = 2
	kindGetMemRev  transport.Kind = 3
	kindSetMemRev  transport.Kind = 4
	kindGetValue   transport.Kind = 5
	kindSetValue   transport.Kind = 6
	kindGetObject  transport.Kind = 7
	kindSetObject  transport.Kind = 8
	kindGetLEDs    transport.Kind = 9
	kindSetLEDs    transport.Kind = 10
)

// Param is a radio parameter code (spec.md §6).
type Param uint16

const (
	ParamPowerMode           Param = 0
	ParamChannel             Param = 1
	ParamPANID               Param = 2
	ParamShortAddr           Param = 3
	ParamRxMode              Param = 4
	ParamTxMode              Param = 5
	ParamTxPower             Param = 6
	ParamCCAThreshold        Param = 7
	ParamRSSI                Param = 8
	ParamLastRSSI            Param = 9
	ParamLastLinkQuality     Param = 10
	ParamLongAddr            Param = 11
	ParamLastPacketTimestamp Param = 12
	ParamChannelMin          Param = 13
	ParamChannelMax          Param = 14
	ParamTxPowerMin          Param = 15
	ParamTxPowerMax          Param = 16
)

// Result is the outcome code carried by most Radio API responses.
type Result uint16

const (
	ResultOK           Result = 0
	ResultNotSupported Result = 1
	ResultInvalidValue Result = 2
	ResultError        Result = 3
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultNotSupported:
		return "not_supported"
	case ResultInvalidValue:
		return "invalid_value"
	case ResultError:
		return "error"
	default:
		return fmt.Sprintf("result(%d)", uint16(r))
	}
}

// TransmitResult is the outcome of a send_packet call.
type TransmitResult uint16

const (
	TransmitOK        TransmitResult = 0
	TransmitDRR       TransmitResult = 1
	TransmitCollision TransmitResult = 2
	TransmitNoAck     TransmitResult = 3
)

func (r TransmitResult) String() string {
	switch r {
	case TransmitOK:
		return "ok"
	case TransmitDRR:
		return "drr"
	case TransmitCollision:
		return "collision"
	case TransmitNoAck:
		return "no_ack"
	default:
		return fmt.Sprintf("transmit_result(%d)", uint16(r))
	}
}

// RxMode is a bitmask; rx_mode=0 disables both address filtering and
// auto-ack.
type RxMode uint16

const (
	RxAddressFilter RxMode = 1
	RxAutoAck       RxMode = 2
	RxPollMode      RxMode = 4
)

// TxMode is a bitmask controlling transmit behaviour.
type TxMode uint16

const (
	TxSendOnCCA TxMode = 1
)

// Radio wraps a Transport with the typed request/response shapes of the
// host↔radio protocol.
type Radio struct {
	t *transport.Transport
}

// New wraps t.
func New(t *transport.Transport) *Radio {
	return &Radio{t: t}
}

// SendPacket hands a raw MAC frame to the radio for transmission.
func (r *Radio) SendPacket(frame []byte) (TransmitResult, error) {
	data, err := r.t.Request(kindSendPacket, frame)
	if err != nil {
		return 0, err
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("radio: send_packet: short response")
	}
	return TransmitResult(binary.BigEndian.Uint16(data)), nil
}

// GetValue reads a scalar parameter.
func (r *Radio) GetValue(param Param) (Result, uint16, error) {
	req := make([]byte, 2)
	binary.BigEndian.PutUint16(req, uint16(param))
	data, err := r.t.Request(kindGetValue, req)
	if err != nil {
		return 0, 0, err
	}
	if len(data) < 4 {
		return 0, 0, fmt.Errorf("radio: get_value: short response")
	}
	result := Result(binary.BigEndian.Uint16(data[0:2]))
	value := binary.BigEndian.Uint16(data[2:4])
	return result, value, nil
}

// SetValue writes a scalar parameter.
func (r *Radio) SetValue(param Param, value uint16) (Result, error) {
	req := make([]byte, 4)
	binary.BigEndian.PutUint16(req[0:2], uint16(param))
	binary.BigEndian.PutUint16(req[2:4], value)
	data, err := r.t.Request(kindSetValue, req)
	if err != nil {
		return 0, err
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("radio: set_value: short response")
	}
	return Result(binary.BigEndian.Uint16(data)), nil
}

// GetObject reads a variable-length parameter of the given expected length.
func (r *Radio) GetObject(param Param, n uint8) (Result, []byte, error) {
	req := []byte{byte(param >> 8), byte(param), n}
	data, err := r.t.Request(kindGetObject, req)
	if err != nil {
		return 0, nil, err
	}
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("radio: get_object: short response")
	}
	result := Result(binary.BigEndian.Uint16(data[0:2]))
	return result, data[2:], nil
}

// SetObject writes a variable-length parameter.
func (r *Radio) SetObject(param Param, value []byte) (Result, error) {
	req := make([]byte, 4+len(value))
	binary.BigEndian.PutUint16(req[0:2], uint16(param))
	binary.BigEndian.PutUint16(req[2:4], uint16(len(value)))
	copy(req[4:], value)
	data, err := r.t.Request(kindSetObject, req)
	if err != nil {
		return 0, err
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("radio: set_object: short response")
	}
	return Result(binary.BigEndian.Uint16(data)), nil
}

// GetMem reads n bytes of radio-local memory at addr.
func (r *Radio) GetMem(addr uint16, n uint8, reverse bool) ([]byte, error) {
	req := []byte{byte(addr >> 8), byte(addr), n}
	kind := kindGetMem
	if reverse {
		kind = kindGetMemRev
	}
	return r.t.Request(kind, req)
}

// SetMem writes bytes of radio-local memory starting at addr.
func (r *Radio) SetMem(addr uint16, value []byte, reverse bool) error {
	req := make([]byte, 2+len(value))
	binary.BigEndian.PutUint16(req[0:2], addr)
	copy(req[2:], value)
	kind := kindSetMem
	if reverse {
		kind = kindSetMemRev
	}
	_, err := r.t.Request(kind, req)
	return err
}

// GetLEDs reads the current LED mask.
func (r *Radio) GetLEDs() (uint8, error) {
	data, err := r.t.Request(kindGetLEDs, nil)
	if err != nil {
		return 0, err
	}
	if len(data) < 1 {
		return 0, fmt.Errorf("radio: get_leds: short response")
	}
	return data[0], nil
}

// SetLEDs writes mask,value — only bits set in mask are affected, to the
// value given in the corresponding bit of value.
func (r *Radio) SetLEDs(mask, value uint8) error {
	_, err := r.t.Request(kindSetLEDs, []byte{mask, value})
	return err
}
