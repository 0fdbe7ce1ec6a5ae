// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xo2

import (
	"fmt"
	"strings"
)

// DeviceID is the JTAG IDCODE of a device.
type DeviceID uint32

var deviceNames = map[DeviceID]string{
	0x012b0043: "LCMXO2-256ZE",
	0x012b1043: "LCMXO2-640ZE",
	0x012b2043: "LCMXO2-1200ZE",
	0x012b3043: "LCMXO2-2000ZE",
	0x012b4043: "LCMXO2-4000ZE",
	0x012b5043: "LCMXO2-7000ZE",
	0x012b8043: "LCMXO2-256HC",
	0x012b9043: "LCMXO2-640HC",
	0x012ba043: "LCMXO2-1200HC",
	0x012bb043: "LCMXO2-2000HC",
	0x012bc043: "LCMXO2-4000HC",
	0x012bd043: "LCMXO2-7000HC",
}

// Name returns the part name, or an empty string for unknown parts.
func (id DeviceID) Name() string { return deviceNames[id] }

func (id DeviceID) String() string {
	if name := id.Name(); name != "" {
		return fmt.Sprintf("0x%08x (%s)", uint32(id), name)
	}
	return fmt.Sprintf("0x%08x", uint32(id))
}

// Status is the 32-bit configuration status register.
type Status uint32

const (
	StatusDone    Status = 1 << 8
	StatusEnabled Status = 1 << 9
	StatusBusy    Status = 1 << 12
	StatusFail    Status = 1 << 13
)

func (st Status) Done() bool    { return st&StatusDone != 0 }
func (st Status) Enabled() bool { return st&StatusEnabled != 0 }
func (st Status) Busy() bool    { return st&StatusBusy != 0 }
func (st Status) Fail() bool    { return st&StatusFail != 0 }

// ErrorCode returns the configuration error code, bits 23 to 25.
func (st Status) ErrorCode() uint8 { return uint8(st>>23) & 0x7 }

var errorCodes = [8]string{
	"ok", "ID error", "illegal command", "CRC error",
	"preamble error", "abort", "overflow", "SDM EOF",
}

func (st Status) String() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "0x%08x", uint32(st))
	for _, v := range []struct {
		ok   bool
		name string
	}{
		{st.Done(), "done"},
		{st.Enabled(), "enabled"},
		{st.Busy(), "busy"},
		{st.Fail(), "fail"},
	} {
		if v.ok {
			fmt.Fprintf(o, " %s", v.name)
		}
	}
	if code := st.ErrorCode(); code != 0 {
		fmt.Fprintf(o, " err=%q", errorCodes[code])
	}
	return o.String()
}

// EraseFlags selects the memories cleared by an erase command.
// Only bits 16 to 19 are sent to the device.
type EraseFlags uint32

const (
	EraseSRAM        EraseFlags = 1 << 16
	EraseFeatureRow  EraseFlags = 1 << 17
	EraseConfigFlash EraseFlags = 1 << 18
	EraseUFM         EraseFlags = 1 << 19
)

func (f EraseFlags) operand() byte { return byte(f>>16) & 0x0f }

func (f EraseFlags) String() string {
	var names []string
	for _, v := range []struct {
		flag EraseFlags
		name string
	}{
		{EraseSRAM, "sram"},
		{EraseFeatureRow, "feature"},
		{EraseConfigFlash, "flash"},
		{EraseUFM, "ufm"},
	} {
		if f&v.flag != 0 {
			names = append(names, v.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParseEraseFlags parses erase target names (sram, feature, flash, ufm).
func ParseEraseFlags(names ...string) (EraseFlags, error) {
	var f EraseFlags
	for _, name := range names {
		for _, v := range strings.Split(name, "|") {
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "sram":
				f |= EraseSRAM
			case "feature", "feature-row":
				f |= EraseFeatureRow
			case "flash", "cfg", "config":
				f |= EraseConfigFlash
			case "ufm":
				f |= EraseUFM
			default:
				return 0, fmt.Errorf("xo2: unknown erase target %q", v)
			}
		}
	}
	return f, nil
}
