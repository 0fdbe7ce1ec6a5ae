// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"fmt"
	"io"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// DefaultFreq is the SPI clock used by the host openers.
//
// Above 20MHz, reading the flash needs a 240ns (or 360ns) gap between
// the opcode and the end of the first operand byte, which a plain
// transfer does not insert.
const DefaultFreq = 8 * physic.MegaHertz

// maxFreq is the fastest clock that needs no gap after a flash read opcode.
const maxFreq = 20 * physic.MegaHertz

// SPI is the hardware serial transport.
//
// The connection is expected to be configured for mode 0, 8 bits per
// word, most significant bit first. Chip-select is driven by the
// transport around the whole exchange.
type SPI struct {
	conn SPIConn
	cs   PinOut
	lock sync.Locker
	buf  []byte
	rsc  []io.Closer
}

// NewSPI returns a hardware serial transport and releases chip-select.
func NewSPI(conn SPIConn, cs PinOut) (*SPI, error) {
	err := cs.Out(gpio.High)
	if err != nil {
		return nil, fmt.Errorf("bus: could not release chip-select: %w", err)
	}
	return &SPI{conn: conn, cs: cs}, nil
}

func (*SPI) Kind() Kind { return HardwareSerial }

// Exchange shifts out w followed by n zero bytes within a single
// chip-select window, and returns the n bytes shifted in during the
// zero bytes.
func (dev *SPI) Exchange(w []byte, n int) ([]byte, error) {
	err := checkArgs(w, n)
	if err != nil {
		return nil, err
	}

	sz := len(w) + n
	if cap(dev.buf) < 2*sz {
		dev.buf = make([]byte, 2*sz)
	}
	var (
		tx = dev.buf[:sz]
		rx = dev.buf[sz : 2*sz]
	)
	copy(tx, w)
	for i := len(w); i < sz; i++ {
		tx[i] = 0
	}

	err = exclusive(dev.lock, func() error {
		return selected(dev.cs, func() error {
			return dev.conn.Tx(tx, rx)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bus: could not exchange %d/%d bytes over spi: %w", len(w), n, err)
	}

	if n == 0 {
		return nil, nil
	}
	r := make([]byte, n)
	copy(r, rx[len(w):])
	return r, nil
}

// Close releases the host resources opened for this transport.
func (dev *SPI) Close() error {
	rsc := dev.rsc
	dev.rsc = nil
	return closeAll(rsc)
}
