// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xo2

import (
	"context"
	"encoding/binary"
	"fmt"
)

const (
	opReadID       = 0xe0
	opReadUserCode = 0xc0
	opReadStatus   = 0x3c
	opReadFeatures = 0xfb
	opReadFeatRow  = 0xe7
	opReadOTP      = 0xfa
	opReadFlash    = 0x73
	opReadUFM      = 0xca
	opEraseUFM     = 0xcb
	opErase        = 0x0e
	opEnableTransp = 0x74
	opEnableOff    = 0xc6
	opDisable      = 0x26
	opCheckBusy    = 0xf0
	opResetAddr    = 0x46
	opResetUFMAddr = 0x47
	opSetAddr      = 0xb4
	opProgPage     = 0x70
	opProgUFMPage  = 0xc9
	opProgDone     = 0x5e
	opRefresh      = 0x79
	opWake         = 0xff
)

// ReadDeviceID reads the JTAG IDCODE.
func (dev *Device) ReadDeviceID() (DeviceID, error) {
	r, err := dev.read("read device ID", []byte{opReadID, 0, 0, 0}, 4)
	if err != nil {
		return 0, err
	}
	return DeviceID(binary.BigEndian.Uint32(r)), nil
}

// ReadUserCode reads the 32-bit user code.
func (dev *Device) ReadUserCode() (uint32, error) {
	r, err := dev.read("read user code", []byte{opReadUserCode, 0, 0, 0}, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(r), nil
}

// ReadStatus reads the configuration status register.
func (dev *Device) ReadStatus() (Status, error) {
	r, err := dev.read("read status", []byte{opReadStatus, 0, 0, 0}, 4)
	if err != nil {
		return 0, err
	}
	return Status(binary.BigEndian.Uint32(r)), nil
}

// ReadFeatureBits reads the 2-byte feature bits.
func (dev *Device) ReadFeatureBits() ([2]byte, error) {
	var o [2]byte
	r, err := dev.read("read feature bits", []byte{opReadFeatures, 0, 0, 0}, len(o))
	if err != nil {
		return o, err
	}
	copy(o[:], r)
	return o, nil
}

// ReadFeatureRow reads the 8-byte feature row.
func (dev *Device) ReadFeatureRow() ([8]byte, error) {
	var o [8]byte
	r, err := dev.read("read feature row", []byte{opReadFeatRow, 0, 0, 0}, len(o))
	if err != nil {
		return o, err
	}
	copy(o[:], r)
	return o, nil
}

// ReadOTP reads the one-time-programmable fuses.
func (dev *Device) ReadOTP() (byte, error) {
	r, err := dev.read("read OTP fuses", []byte{opReadOTP, 0, 0, 0}, 1)
	if err != nil {
		return 0, err
	}
	return r[0], nil
}

// pageOperand is the first operand byte of the page read commands.
func (dev *Device) pageOperand() byte {
	if dev.bus.Kind().Serial() {
		return 0x10
	}
	return 0x00
}

// ReadFlash reads the configuration flash page at the current
// address, and advances the address.
func (dev *Device) ReadFlash() ([PageSize]byte, error) {
	var o [PageSize]byte
	r, err := dev.read("read flash page", []byte{opReadFlash, dev.pageOperand(), 0, 0}, PageSize)
	if err != nil {
		return o, err
	}
	copy(o[:], r)
	return o, nil
}

// ReadUFM reads the UFM page at the current UFM address, and advances
// the address.
func (dev *Device) ReadUFM() ([PageSize]byte, error) {
	var o [PageSize]byte
	r, err := dev.read("read UFM page", []byte{opReadUFM, dev.pageOperand(), 0, 0}, PageSize)
	if err != nil {
		return o, err
	}
	copy(o[:], r)
	return o, nil
}

// EraseUFM clears the user flash memory.
func (dev *Device) EraseUFM() error {
	return dev.cmd("erase UFM", Erasing, []byte{opEraseUFM, 0, 0, 0})
}

// Erase clears the memories selected by flags.
func (dev *Device) Erase(flags EraseFlags) error {
	return dev.cmd("erase "+flags.String(), Erasing, []byte{opErase, flags.operand(), 0, 0})
}

// enable frames carry one operand byte less on I2C.
func (dev *Device) enable(op string, code byte) error {
	w := []byte{code, 0x08, 0, 0}
	if !dev.bus.Kind().Serial() {
		w = w[:3]
	}
	return dev.cmd(op, ConfigEnabled, w)
}

// EnableConfigTransparent enters configuration mode while the user
// logic keeps running.
func (dev *Device) EnableConfigTransparent() error {
	return dev.enable("enable transparent config", opEnableTransp)
}

// EnableConfigOffline enters configuration mode with the user logic
// held in reset.
func (dev *Device) EnableConfigOffline() error {
	return dev.enable("enable offline config", opEnableOff)
}

// DisableConfig leaves configuration mode.
func (dev *Device) DisableConfig() error {
	return dev.cmd("disable config", ConfigDisabled, []byte{opDisable, 0, 0})
}

// ResetConfigAddress moves the configuration address to page 0.
func (dev *Device) ResetConfigAddress() error {
	return dev.cmd("reset config address", AddressReset, []byte{opResetAddr, 0, 0, 0})
}

// ResetUFMAddress moves the UFM address to page 0.
func (dev *Device) ResetUFMAddress() error {
	return dev.cmd("reset UFM address", AddressReset, []byte{opResetUFMAddr, 0, 0, 0})
}

func setAddr(ufm byte, page uint16) []byte {
	return []byte{opSetAddr, 0, 0, 0, ufm, 0, byte(page >> 8), byte(page)}
}

// SetConfigAddress moves the configuration address to page.
func (dev *Device) SetConfigAddress(page uint16) error {
	return dev.cmd(
		fmt.Sprintf("set config address %d", page), AddressReset,
		setAddr(0x00, page),
	)
}

// SetUFMAddress moves the UFM address to page.
func (dev *Device) SetUFMAddress(page uint16) error {
	return dev.cmd(
		fmt.Sprintf("set UFM address %d", page), AddressReset,
		setAddr(0x40, page),
	)
}

// ProgramPage programs the 16 bytes of p at the current configuration
// address, and waits for the device to complete.
func (dev *Device) ProgramPage(ctx context.Context, p []byte) error {
	return dev.program(ctx, "program page", opProgPage, p)
}

// ProgramUFMPage programs the 16 bytes of p at the current UFM
// address, and waits for the device to complete.
func (dev *Device) ProgramUFMPage(ctx context.Context, p []byte) error {
	return dev.program(ctx, "program UFM page", opProgUFMPage, p)
}

func (dev *Device) program(ctx context.Context, op string, code byte, p []byte) error {
	if len(p) != PageSize {
		return fmt.Errorf("xo2: could not %s: %w (got=%d, want=%d)", op, ErrPageSize, len(p), PageSize)
	}
	dev.page = [4 + PageSize]byte{code, 0x00, 0x00, 0x01}
	copy(dev.page[4:], p)

	err := dev.cmd(op, Programming, dev.page[:])
	if err != nil {
		return err
	}
	_, err = dev.WaitBusy(ctx)
	if err != nil {
		return fmt.Errorf("xo2: could not %s: %w", op, err)
	}
	return nil
}

// ProgramDone marks the configuration flash as programmed.
func (dev *Device) ProgramDone() error {
	return dev.cmd("program done", Done, []byte{opProgDone, 0, 0, 0})
}

// Refresh reloads the configuration flash into the user logic.
func (dev *Device) Refresh() error {
	return dev.cmd("refresh", Refreshed, []byte{opRefresh, 0, 0})
}

// Wake sends the no-op frame taking the port out of its idle condition.
func (dev *Device) Wake() error {
	return dev.cmd("wake", noState, []byte{opWake, opWake, opWake, opWake})
}
