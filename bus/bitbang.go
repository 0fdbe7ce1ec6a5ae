// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"fmt"
	"io"
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// BitBang is the software-clocked serial transport.
// Every clock edge is generated by the transport from GPIO lines.
type BitBang struct {
	cs   PinOut
	sck  PinOut
	mosi PinOut
	miso PinIn
	lock sync.Locker
	rsc  []io.Closer
}

// NewBitBang returns a bit-banged SPI transport, with chip-select
// released and the clock idle low.
func NewBitBang(cs, sck, mosi PinOut, miso PinIn) (*BitBang, error) {
	err := cs.Out(gpio.High)
	if err != nil {
		return nil, fmt.Errorf("bus: could not release chip-select: %w", err)
	}
	err = sck.Out(gpio.Low)
	if err != nil {
		return nil, fmt.Errorf("bus: could not drive clock low: %w", err)
	}
	return &BitBang{cs: cs, sck: sck, mosi: mosi, miso: miso}, nil
}

func (*BitBang) Kind() Kind { return BitBangSerial }

func (dev *BitBang) Exchange(w []byte, n int) ([]byte, error) {
	err := checkArgs(w, n)
	if err != nil {
		return nil, err
	}

	var r []byte
	if n > 0 {
		r = make([]byte, n)
	}
	err = exclusive(dev.lock, func() error {
		return selected(dev.cs, func() error {
			return dev.shiftAll(w, r)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bus: could not exchange %d/%d bytes over bit-bang spi: %w", len(w), n, err)
	}
	return r, nil
}

// shiftAll shifts out w, then fills r with the bytes shifted in
// against zeros.
func (dev *BitBang) shiftAll(w, r []byte) error {
	for _, v := range w {
		_, err := dev.shift(v)
		if err != nil {
			return err
		}
	}
	for i := range r {
		v, err := dev.shift(0)
		if err != nil {
			return err
		}
		r[i] = v
	}
	return nil
}

// shift exchanges one byte, most significant bit first.
// For each bit: clock low, present the bit on MOSI, clock high, sample MISO.
func (dev *BitBang) shift(v byte) (byte, error) {
	var reply byte
	for i := 7; i >= 0; i-- {
		reply <<= 1
		err := dev.sck.Out(gpio.Low)
		if err != nil {
			return reply, fmt.Errorf("bus: could not drive clock low: %w", err)
		}
		err = dev.mosi.Out(gpio.Level(v&(1<<i) != 0))
		if err != nil {
			return reply, fmt.Errorf("bus: could not drive MOSI: %w", err)
		}
		err = dev.sck.Out(gpio.High)
		if err != nil {
			return reply, fmt.Errorf("bus: could not drive clock high: %w", err)
		}
		if dev.miso.Read() {
			reply |= 1
		}
	}
	return reply, nil
}

// Close releases the host resources opened for this transport.
func (dev *BitBang) Close() error {
	rsc := dev.rsc
	dev.rsc = nil
	return closeAll(rsc)
}
