// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package coordinator implements the PAN coordinator role: it beacons on
// request, admits devices through an operator-gated association handshake,
// and allocates short addresses, per spec.md §4.3.
package coordinator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srhg/zag-bridge/config"
	"github.com/srhg/zag-bridge/mac"
	"github.com/srhg/zag-bridge/mqttlog"
	"github.com/srhg/zag-bridge/radio"
	"github.com/srhg/zag-bridge/retry"
	"github.com/srhg/zag-bridge/transport"
)

// AssociationTimeout bounds how long a PendingApproval waits for the
// operator to press the approval button before it's refused.
const AssociationTimeout = 30 * time.Second

// blinkPeriod is the toggle cadence for the green "pending approval" LED.
const blinkPeriod = 250 * time.Millisecond

const ledGreen = 0x02

// pendingApproval is the coordinator's single outstanding association
// request awaiting a button press.
type pendingApproval struct {
	longAddr  [8]byte
	startedAt time.Time
}

// Coordinator is the PAN coordinator role state machine.
type Coordinator struct {
	radio *radio.Radio
	log   logrus.FieldLogger

	configPath string
	cfg        *config.Coordinator

	longAddr  [8]byte
	shortAddr uint16
	bsn       uint8
	dsn       uint8

	pending   *pendingApproval
	ack       retry.Tracker
	blinkOn   bool
	blinkLast time.Time

	// Telemetry, if set, receives a JSON summary of each association
	// outcome. Nil by default; cmd/zag-coordinator wires it up only when
	// started with -mqtt-broker.
	Telemetry *mqttlog.Logger
}

// New boots a Coordinator against r, loading (and if necessary allocating
// and persisting) configuration at configPath.
func New(r *radio.Radio, log logrus.FieldLogger, configPath string) (*Coordinator, error) {
	cfg, err := config.LoadCoordinator(configPath)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		radio:      r,
		log:        log,
		configPath: configPath,
		cfg:        cfg,
		shortAddr:  0x0000,
		bsn:        uint8(rand.Intn(256)),
		dsn:        uint8(rand.Intn(256)),
	}

	_, long, err := r.GetObject(radio.ParamLongAddr, 8)
	if err != nil {
		return nil, err
	}
	copy(c.longAddr[:], long)
	log.Infof("coordinator: long address %X", c.longAddr)

	if cfg.PANID == 0xFFFF {
		cfg.PANID = uint16(rand.Intn(0xFFFE))
		if err := config.SaveCoordinator(configPath, cfg); err != nil {
			return nil, err
		}
	}

	if _, err := r.SetValue(radio.ParamChannel, uint16(cfg.Channel)); err != nil {
		return nil, err
	}
	if _, err := r.SetValue(radio.ParamRxMode, 0); err != nil {
		return nil, err
	}
	if _, err := r.SetValue(radio.ParamTxMode, uint16(radio.TxSendOnCCA)); err != nil {
		return nil, err
	}
	if err := r.SetLEDs(0xFF, 0); err != nil {
		return nil, err
	}

	return c, nil
}

// Run drains events and wall-clock deadlines until shutdown is closed.
func (c *Coordinator) Run(t *transport.Transport, shutdown <-chan struct{}) {
	for {
		select {
		case <-shutdown:
			return
		default:
		}

		ev, ok := t.Dequeue(retry.Cadence)
		if ok {
			switch ev.Kind {
			case transport.EventOnPacket:
				c.handlePacket(ev.Packet)
			case transport.EventOnButton:
				c.handleButton(ev.Button)
			}
		}

		c.tick(time.Now())
	}
}

func (c *Coordinator) tick(now time.Time) {
	if c.pending != nil && now.Sub(c.pending.startedAt) >= AssociationTimeout {
		c.log.Warn("coordinator: association approval timed out")
		c.sendAssociationResponse(c.pending.longAddr, true)
		c.pending = nil
		c.endBlink()
	}

	if c.blinkOn && now.Sub(c.blinkLast) >= blinkPeriod {
		c.blinkLast = now
		mask, err := c.radio.GetLEDs()
		if err != nil {
			c.log.Warnf("coordinator: get_leds: %v", err)
		} else if err := c.radio.SetLEDs(ledGreen, mask^ledGreen); err != nil {
			c.log.Warnf("coordinator: set_leds: %v", err)
		}
	}

	if err := c.ack.Tick(now, c.sendFrame); err == retry.ErrExhausted {
		c.log.Warn("coordinator: association response retries exhausted")
	}
}

func (c *Coordinator) startBlink() {
	c.blinkOn = true
	c.blinkLast = time.Now()
	if err := c.radio.SetLEDs(ledGreen, ledGreen); err != nil {
		c.log.Warnf("coordinator: set_leds: %v", err)
	}
}

func (c *Coordinator) endBlink() {
	c.blinkOn = false
	if err := c.radio.SetLEDs(ledGreen, 0); err != nil {
		c.log.Warnf("coordinator: set_leds: %v", err)
	}
}

func (c *Coordinator) sendFrame(frame []byte) error {
	_, err := c.radio.SendPacket(frame)
	return err
}

func (c *Coordinator) handlePacket(packet []byte) {
	c.log.Debugf("coordinator: rx %s", mac.Describe(packet))

	mhr, payload, err := mac.DecodeMHR(packet)
	if err != nil {
		c.log.Debugf("coordinator: malformed frame dropped: %v", err)
		return
	}

	switch mhr.FrameControl.Type() {
	case mac.FrameAck:
		c.ack.Ack(mhr.SeqNum)
	case mac.FrameCmd:
		cmd, _, err := mac.DecodeCMD(payload)
		if err != nil {
			c.log.Debugf("coordinator: malformed cmd dropped: %v", err)
			return
		}
		c.handleCmd(mhr, cmd)
	}
}

func (c *Coordinator) handleCmd(mhr *mac.MHR, cmd *mac.CMD) {
	switch cmd.Identifier {
	case mac.BeaconRequest:
		c.handleBeaconRequest(mhr)
	case mac.AssociationRequest:
		c.handleAssociationRequest(mhr, cmd)
	}
}

func (c *Coordinator) handleBeaconRequest(mhr *mac.MHR) {
	if mhr.FrameControl.SrcMode() != mac.AddrNone {
		return
	}
	if mhr.FrameControl.DstMode() != mac.AddrShort {
		return
	}
	if mhr.DstPANID != 0xFFFF || mhr.DstAddr.Short != 0xFFFF {
		return
	}
	c.sendBeacon()
}

func (c *Coordinator) sendBeacon() {
	fc := mac.FrameControl(0)
	fc.SetType(mac.FrameBeacon)
	fc.SetSrcMode(mac.AddrShort)

	m := &mac.MHR{
		FrameControl: fc,
		SeqNum:       c.bsn,
		SrcPANID:     c.cfg.PANID,
		SrcAddr:      mac.ShortAddr(c.shortAddr),
	}

	bcn := &mac.BCN{
		HasVendor: true,
		SSID:      c.cfg.SSID,
		Services:  append([]uint16(nil), c.cfg.Services...),
	}
	bcn.Superframe |= 15 // bcn_order
	bcn.Superframe |= 15 << 4
	bcn.SetPanCoordinator(true)
	bcn.SetAssociationPermit(true)

	frame := append(m.Encode(), bcn.Encode()...)
	if err := c.sendFrame(frame); err != nil {
		c.log.Warnf("coordinator: send_bcn: %v", err)
	}
	c.bsn++
}

func (c *Coordinator) handleAssociationRequest(mhr *mac.MHR, cmd *mac.CMD) {
	if !mhr.FrameControl.ReqAck() {
		return
	}
	if mhr.FrameControl.DstMode() != mac.AddrShort {
		return
	}
	if mhr.FrameControl.SrcMode() != mac.AddrLong {
		return
	}
	if mhr.DstPANID != c.cfg.PANID {
		return
	}
	if mhr.DstAddr.Short != c.shortAddr {
		return
	}
	if mhr.SrcPANID != 0xFFFF {
		return
	}

	c.sendAck(mhr.SeqNum)

	if c.pending != nil && c.pending.longAddr != mhr.SrcAddr.Long {
		c.sendAssociationResponse(mhr.SrcAddr.Long, true)
		return
	}

	if _, ok := c.lookupDevice(mhr.SrcAddr.Long); ok {
		c.sendAssociationResponse(mhr.SrcAddr.Long, false)
		return
	}

	c.pending = &pendingApproval{longAddr: mhr.SrcAddr.Long, startedAt: time.Now()}
	c.startBlink()
}

func (c *Coordinator) lookupDevice(long [8]byte) (uint16, bool) {
	for short, l := range c.cfg.Devices {
		if l == long {
			return short, true
		}
	}
	return 0, false
}

func (c *Coordinator) sendAck(seqNum uint8) {
	fc := mac.FrameControl(0)
	fc.SetType(mac.FrameAck)
	m := &mac.MHR{FrameControl: fc, SeqNum: seqNum}
	if err := c.sendFrame(m.Encode()); err != nil {
		c.log.Warnf("coordinator: send_ack: %v", err)
	}
}

// sendAssociationResponse allocates a short address (if needed) and sends
// an association_response, using the retry layer since it requires an ack
// (spec.md §4.3, §4.5).
func (c *Coordinator) sendAssociationResponse(longAddr [8]byte, accessDenied bool) {
	shortAddr := uint16(0xFFFF)
	status := mac.AssocSuccess

	if accessDenied {
		status = mac.AccessDenied
	} else {
		short, ok := c.lookupDevice(longAddr)
		if ok {
			shortAddr = short
		} else if len(c.cfg.Devices) >= 0xFFFD {
			status = mac.PANAtCapacity
		} else {
			shortAddr = c.allocateShortAddr()
			c.cfg.Devices[shortAddr] = longAddr
			if err := config.SaveCoordinator(c.configPath, c.cfg); err != nil {
				c.log.Errorf("coordinator: save config: %v", err)
			}
		}
	}

	fc := mac.FrameControl(0)
	fc.SetType(mac.FrameCmd)
	fc.SetReqAck(true)
	fc.SetPANIDCompression(true)
	fc.SetDstMode(mac.AddrLong)
	fc.SetSrcMode(mac.AddrLong)

	m := &mac.MHR{
		FrameControl: fc,
		SeqNum:       c.dsn,
		DstPANID:     c.cfg.PANID,
		DstAddr:      mac.LongAddr(longAddr),
		SrcPANID:     c.cfg.PANID,
		SrcAddr:      mac.LongAddr(c.longAddr),
	}

	cmd := &mac.CMD{
		Identifier: mac.AssociationResponse,
		ShortAddr:  shortAddr,
		Status:     status,
	}

	frame := append(m.Encode(), cmd.Encode()...)
	seq := c.dsn
	c.dsn++
	if err := c.ack.Submit(seq, frame, time.Now(), c.sendFrame); err != nil {
		c.log.Warnf("coordinator: send_association_response: %v", err)
	}

	if c.Telemetry != nil {
		c.Telemetry.Publish("association", map[string]interface{}{
			"long_addr":  fmt.Sprintf("%X", longAddr),
			"short_addr": shortAddr,
			"status":     status.String(),
		})
	}
}

// allocateShortAddr picks a fresh short address, excluding this
// coordinator's own address and every address already assigned.
func (c *Coordinator) allocateShortAddr() uint16 {
	for {
		candidate := uint16(rand.Intn(0xFFFE))
		if candidate == c.shortAddr {
			continue
		}
		if _, taken := c.cfg.Devices[candidate]; taken {
			continue
		}
		return candidate
	}
}

func (c *Coordinator) handleButton(button uint8) {
	if button != 1 {
		return
	}
	if c.pending == nil {
		return
	}
	c.sendAssociationResponse(c.pending.longAddr, false)
	c.pending = nil
	c.endBlink()
}
