// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package device implements the PAN device role: it scans beacons for a
// matching PAN, requests association, and persists the assigned short
// address once granted, per spec.md §4.4.
package device

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

// AssociationTimeout bounds how long WaitResponse waits for an association
// response before returning to Idle.
const AssociationTimeout = 35 * time.Second

// assocState is the device's association progress.
type assocState int

const (
	stateIdle assocState = iota
	stateWaitResponse
)

// Device is the PAN device role state machine.
type Device struct {
	radio *radio.Radio
	log   logrus.FieldLogger

	configPath string
	cfg        *config.Device

	longAddr [8]byte
	dsn      uint8

	state       assocState
	waitStarted time.Time
	ack         retry.Tracker

	// Telemetry, if set, receives a JSON summary of each association
	// outcome. Nil by default; cmd/zag-device wires it up only when
	// started with -mqtt-broker.
	Telemetry *mqttlog.Logger
}

// New boots a Device against r, loading persisted settings at configPath.
func New(r *radio.Radio, log logrus.FieldLogger, configPath string) (*Device, error) {
	cfg, err := config.LoadDevice(configPath)
	if err != nil {
		return nil, err
	}

	d := &Device{
		radio:      r,
		log:        log,
		configPath: configPath,
		cfg:        cfg,
		dsn:        uint8(rand.Intn(256)),
	}

	_, long, err := r.GetObject(radio.ParamLongAddr, 8)
	if err != nil {
		return nil, err
	}
	copy(d.longAddr[:], long)
	log.Infof("device: long address %X", d.longAddr)

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

	return d, nil
}

// Run drains events and wall-clock deadlines until shutdown is closed.
func (d *Device) Run(t *transport.Transport, shutdown <-chan struct{}) {
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
				d.handlePacket(ev.Packet)
			case transport.EventOnButton:
				d.handleButton(ev.Button)
			}
		}

		d.tick(time.Now())
	}
}

func (d *Device) tick(now time.Time) {
	if d.state == stateWaitResponse && now.Sub(d.waitStarted) >= AssociationTimeout {
		d.log.Warn("device: association response timed out")
		d.state = stateIdle
	}

	if err := d.ack.Tick(now, d.sendFrame); err == retry.ErrExhausted {
		d.log.Warn("device: association request retries exhausted")
		d.state = stateIdle
	}
}

func (d *Device) sendFrame(frame []byte) error {
	_, err := d.radio.SendPacket(frame)
	return err
}

func (d *Device) handlePacket(packet []byte) {
	d.log.Debugf("device: rx %s", mac.Describe(packet))

	mhr, payload, err := mac.DecodeMHR(packet)
	if err != nil {
		d.log.Debugf("device: malformed frame dropped: %v", err)
		return
	}

	switch mhr.FrameControl.Type() {
	case mac.FrameAck:
		d.ack.Ack(mhr.SeqNum)
	case mac.FrameBeacon:
		bcn, _, err := mac.DecodeBCN(payload)
		if err != nil {
			d.log.Debugf("device: malformed bcn dropped: %v", err)
			return
		}
		d.handleBeacon(mhr, bcn)
	case mac.FrameCmd:
		cmd, _, err := mac.DecodeCMD(payload)
		if err != nil {
			d.log.Debugf("device: malformed cmd dropped: %v", err)
			return
		}
		d.handleCmd(mhr, cmd)
	}
}

func (d *Device) handleBeacon(mhr *mac.MHR, bcn *mac.BCN) {
	if d.cfg.PANID != 0xFFFF {
		return // already associated
	}
	if mhr.FrameControl.SrcMode() != mac.AddrShort {
		return
	}
	if mhr.FrameControl.DstMode() != mac.AddrNone {
		return
	}
	if mhr.SrcPANID > 0xFFFD || mhr.SrcAddr.Short > 0xFFFD {
		return
	}
	if !bcn.PanCoordinator() || !bcn.AssociationPermit() {
		return
	}
	if d.cfg.HasSSID && d.cfg.SSID != bcn.SSID {
		return
	}
	if !containsService(bcn.Services, d.cfg.Service) {
		return
	}
	d.sendAssociationRequest(mhr.SrcPANID, mhr.SrcAddr.Short)
}

func containsService(services []uint16, want int) bool {
	for _, s := range services {
		if int(s) == want {
			return true
		}
	}
	return false
}

func (d *Device) handleCmd(mhr *mac.MHR, cmd *mac.CMD) {
	if cmd.Identifier == mac.AssociationResponse {
		d.handleAssociationResponse(mhr, cmd)
	}
}

func (d *Device) sendBeaconRequest() {
	fc := mac.FrameControl(0)
	fc.SetType(mac.FrameCmd)
	fc.SetDstMode(mac.AddrShort)

	m := &mac.MHR{
		FrameControl: fc,
		SeqNum:       d.dsn,
		DstPANID:     0xFFFF,
		DstAddr:      mac.ShortAddr(0xFFFF),
	}
	cmd := &mac.CMD{Identifier: mac.BeaconRequest}

	frame := append(m.Encode(), cmd.Encode()...)
	if err := d.sendFrame(frame); err != nil {
		d.log.Warnf("device: send_beacon_request: %v", err)
	}
	d.dsn++
}

func (d *Device) sendAssociationRequest(panid uint16, coordShort uint16) {
	d.state = stateWaitResponse
	d.waitStarted = time.Now()

	fc := mac.FrameControl(0)
	fc.SetType(mac.FrameCmd)
	fc.SetReqAck(true)
	fc.SetDstMode(mac.AddrShort)
	fc.SetSrcMode(mac.AddrLong)

	m := &mac.MHR{
		FrameControl: fc,
		SeqNum:       d.dsn,
		DstPANID:     panid,
		DstAddr:      mac.ShortAddr(coordShort),
		SrcPANID:     0xFFFF,
		SrcAddr:      mac.LongAddr(d.longAddr),
	}

	cmd := &mac.CMD{
		Identifier: mac.AssociationRequest,
		Capability: 1<<mac.CapPowerSource | 1<<mac.CapIdleRecv | 1<<mac.CapAllocAddr,
	}

	frame := append(m.Encode(), cmd.Encode()...)
	seq := d.dsn
	d.dsn++
	if err := d.ack.Submit(seq, frame, time.Now(), d.sendFrame); err != nil {
		d.log.Warnf("device: send_assoc_request: %v", err)
	}
}

func (d *Device) sendAck(seqNum uint8) {
	fc := mac.FrameControl(0)
	fc.SetType(mac.FrameAck)
	m := &mac.MHR{FrameControl: fc, SeqNum: seqNum}
	if err := d.sendFrame(m.Encode()); err != nil {
		d.log.Warnf("device: send_ack: %v", err)
	}
}

func (d *Device) handleAssociationResponse(mhr *mac.MHR, cmd *mac.CMD) {
	if d.state != stateWaitResponse {
		return
	}
	if !mhr.FrameControl.ReqAck() {
		return
	}
	if mhr.FrameControl.DstMode() != mac.AddrLong {
		return
	}
	if mhr.FrameControl.SrcMode() != mac.AddrLong {
		return
	}
	if mhr.DstAddr.Long != d.longAddr {
		return
	}

	d.sendAck(mhr.SeqNum)
	d.state = stateIdle

	if d.Telemetry != nil {
		d.Telemetry.Publish("association", map[string]interface{}{
			"coordinator": fmt.Sprintf("%X", mhr.SrcAddr.Long),
			"short_addr":  cmd.ShortAddr,
			"status":      cmd.Status.String(),
		})
	}

	if cmd.Status != mac.AssocSuccess {
		d.log.Warnf("device: association refused: %v", cmd.Status)
		return
	}

	d.cfg.PANID = mhr.DstPANID
	d.cfg.Coordinator = mhr.SrcAddr.Long
	d.cfg.ShortAddr = cmd.ShortAddr
	d.cfg.HasShortAddr = true
	if err := config.SaveDevice(d.configPath, d.cfg); err != nil {
		d.log.Errorf("device: save config: %v", err)
	}
}

func (d *Device) handleButton(button uint8) {
	if button == 1 {
		d.sendBeaconRequest()
	}
}
