// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"fmt"
	"io"
)

// I2C is the packetized transport.
//
// A frame with a reply is sent as a write followed by a repeated-start
// read, without releasing the bus in between. A frame without reply
// is a plain write terminated by a stop condition.
type I2C struct {
	bus  I2CBus
	addr uint16
	rsc  []io.Closer
}

// NewI2C returns a packetized transport talking to the device at addr.
func NewI2C(bus I2CBus, addr uint16) *I2C {
	return &I2C{bus: bus, addr: addr}
}

func (*I2C) Kind() Kind { return Packetized }

// Addr returns the device address.
func (dev *I2C) Addr() uint16 { return dev.addr }

func (dev *I2C) Exchange(w []byte, n int) ([]byte, error) {
	err := checkArgs(w, n)
	if err != nil {
		return nil, err
	}

	var r []byte
	if n > 0 {
		r = make([]byte, n)
	}

	err = dev.bus.Tx(dev.addr, w, r)
	if err != nil {
		return nil, fmt.Errorf(
			"bus: could not exchange %d/%d bytes with i2c device 0x%x: %w",
			len(w), n, dev.addr, err,
		)
	}
	return r, nil
}

// Close releases the host resources opened for this transport.
func (dev *I2C) Close() error {
	rsc := dev.rsc
	dev.rsc = nil
	return closeAll(rsc)
}
