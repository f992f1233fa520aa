// Copyright 2016 by Thorsten von Eicken, see LICENSE file

// Package config persists the coordinator's and the device's settings in
// the INI-shaped files spec.md §6 specifies, loaded at boot and rewritten
// atomically (write to a temp file, then rename) whenever the role mutates
// persisted state.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Coordinator is the coordinator role's persisted settings (spec.md §6).
type Coordinator struct {
	Channel  int
	PANID    uint16
	Services []uint16
	SSID     string
	Devices  map[uint16][8]byte
}

// Device is the device role's persisted settings (spec.md §6).
type Device struct {
	Channel      int
	PANID        uint16
	Coordinator  [8]byte
	Service      int
	SSID         string
	HasSSID      bool
	ShortAddr    uint16
	HasShortAddr bool
}

// LoadCoordinator reads path, defaulting every field the file omits the way
// coordinator.py's load_config does (channel=11, panid=0xFFFF unallocated,
// services=[0], ssid="Sample").
func LoadCoordinator(path string) (*Coordinator, error) {
	cfg, err := loadOrEmpty(path)
	if err != nil {
		return nil, err
	}

	sec := cfg.Section("coordinator")
	c := &Coordinator{
		Channel: sec.Key("channel").MustInt(11),
		SSID:    sec.Key("ssid").MustString("Sample"),
		Devices: map[uint16][8]byte{},
	}

	panid, err := parseHexOrInt(sec.Key("panid").MustString("0xFFFF"))
	if err != nil {
		return nil, fmt.Errorf("config: %s: panid: %w", path, err)
	}
	c.PANID = uint16(panid)

	c.Services, err = parseServiceList(sec.Key("services").MustString("0"))
	if err != nil {
		return nil, fmt.Errorf("config: %s: services: %w", path, err)
	}

	if devSec, err := cfg.GetSection("devices"); err == nil {
		for _, key := range devSec.Keys() {
			short, err := parseHexOrInt(key.Name())
			if err != nil {
				return nil, fmt.Errorf("config: %s: devices: bad short addr %q: %w", path, key.Name(), err)
			}
			long, err := parseLongAddr(key.Value())
			if err != nil {
				return nil, fmt.Errorf("config: %s: devices: %w", path, err)
			}
			c.Devices[uint16(short)] = long
		}
	}

	return c, nil
}

// SaveCoordinator rewrites path atomically with every field of c: channel,
// panid, services and ssid in the coordinator section, and the device table
// (replacing any devices already in the file).
func SaveCoordinator(path string, c *Coordinator) error {
	cfg, err := loadOrEmpty(path)
	if err != nil {
		return err
	}

	sec := cfg.Section("coordinator")
	sec.Key("channel").SetValue(strconv.Itoa(c.Channel))
	sec.Key("panid").SetValue(fmt.Sprintf("0x%04X", c.PANID))
	sec.Key("services").SetValue(formatServiceList(c.Services))
	sec.Key("ssid").SetValue(c.SSID)

	devSec := cfg.Section("devices")
	for _, k := range devSec.Keys() {
		devSec.DeleteKey(k.Name())
	}
	shorts := make([]uint16, 0, len(c.Devices))
	for s := range c.Devices {
		shorts = append(shorts, s)
	}
	sort.Slice(shorts, func(i, j int) bool { return shorts[i] < shorts[j] })
	for _, s := range shorts {
		long := c.Devices[s]
		devSec.Key(fmt.Sprintf("0x%04X", s)).SetValue(strings.ToUpper(hex.EncodeToString(long[:])))
	}

	return atomicSave(cfg, path)
}

// LoadDevice reads path, defaulting fields device.py's load_config
// defaults (channel=11, panid=0xFFFF, service=-1, ssid unset).
func LoadDevice(path string) (*Device, error) {
	cfg, err := loadOrEmpty(path)
	if err != nil {
		return nil, err
	}

	sec := cfg.Section("device")
	d := &Device{
		Channel: sec.Key("channel").MustInt(11),
		Service: sec.Key("service").MustInt(-1),
	}

	panid, err := parseHexOrInt(sec.Key("panid").MustString("0xFFFF"))
	if err != nil {
		return nil, fmt.Errorf("config: %s: panid: %w", path, err)
	}
	d.PANID = uint16(panid)

	if coord := sec.Key("coordinator").String(); coord != "" {
		long, err := parseLongAddr(coord)
		if err != nil {
			return nil, fmt.Errorf("config: %s: coordinator: %w", path, err)
		}
		d.Coordinator = long
	}

	if ssid := sec.Key("ssid").String(); ssid != "" {
		d.SSID = ssid
		d.HasSSID = true
	}

	if short := sec.Key("short_addr").String(); short != "" {
		v, err := parseHexOrInt(short)
		if err != nil {
			return nil, fmt.Errorf("config: %s: short_addr: %w", path, err)
		}
		d.ShortAddr = uint16(v)
		d.HasShortAddr = true
	}

	return d, nil
}

// SaveDevice rewrites path atomically with the fields the device role sets
// post-association (coordinator, panid, short_addr), per device.py's
// save_config.
func SaveDevice(path string, d *Device) error {
	cfg, err := loadOrEmpty(path)
	if err != nil {
		return err
	}

	sec := cfg.Section("device")
	sec.Key("coordinator").SetValue(strings.ToUpper(hex.EncodeToString(d.Coordinator[:])))
	sec.Key("panid").SetValue(fmt.Sprintf("0x%04X", d.PANID))
	sec.Key("short_addr").SetValue(fmt.Sprintf("0x%04X", d.ShortAddr))

	return atomicSave(cfg, path)
}

func loadOrEmpty(path string) (*ini.File, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ini.Empty(), nil
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// atomicSave writes cfg to a sibling temp file and renames it over path, so
// a crash mid-write never leaves a truncated config behind.
func atomicSave(cfg *ini.File, path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-config-*")
	if err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := cfg.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("config: %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

func parseHexOrInt(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	return strconv.ParseUint(s, 0, 64)
}

func parseLongAddr(s string) ([8]byte, error) {
	var out [8]byte
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return out, fmt.Errorf("malformed long address %q: %w", s, err)
	}
	if len(b) != 8 {
		return out, fmt.Errorf("malformed long address %q: want 8 bytes, got %d", s, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func parseServiceList(s string) ([]uint16, error) {
	parts := strings.Split(s, ",")
	out := make([]uint16, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("malformed service %q: %w", p, err)
		}
		out = append(out, uint16(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func formatServiceList(services []uint16) string {
	parts := make([]string, len(services))
	for i, s := range services {
		parts[i] = strconv.Itoa(int(s))
	}
	return strings.Join(parts, ",")
}
