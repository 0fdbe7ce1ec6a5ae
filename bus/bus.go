// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bus exchanges command frames with a MachXO configuration
// interface over I2C, hardware SPI or bit-banged SPI.
//
// A transport is selected once, when it is created, and never changes
// afterwards. All three transports implement the same Exchanger
// contract: write a command frame, then read a fixed number of reply
// bytes.
package bus // import "github.com/go-lpc/machxo/bus"

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// MaxRead is the largest reply the configuration interface returns.
const MaxRead = 16

var (
	ErrNoBus      = errors.New("bus: missing bus collaborator")
	ErrReadSize   = errors.New("bus: invalid read size")
	ErrEmptyFrame = errors.New("bus: empty command frame")
)

// Kind describes the binding of a transport.
type Kind int

const (
	Packetized     Kind = iota // I2C
	HardwareSerial             // SPI peripheral
	BitBangSerial              // SPI clocked from GPIO lines
)

// Serial returns whether the binding is one of the SPI flavours.
func (k Kind) Serial() bool {
	return k == HardwareSerial || k == BitBangSerial
}

func (k Kind) String() string {
	switch k {
	case Packetized:
		return "i2c"
	case HardwareSerial:
		return "spi"
	case BitBangSerial:
		return "bitbang"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Exchanger writes a command frame and reads back its reply.
//
// Exchange writes all of w and then reads exactly n bytes. The
// returned slice has length n, or an error is returned.
type Exchanger interface {
	Exchange(w []byte, n int) ([]byte, error)
	Kind() Kind
}

// I2CBus is the packetized bus collaborator.
// periph.io/x/conn/v3/i2c.Bus implements it.
type I2CBus interface {
	Tx(addr uint16, w, r []byte) error
}

// SPIConn is the hardware serial bus collaborator.
// periph.io/x/conn/v3/spi.Conn implements it.
type SPIConn interface {
	Tx(w, r []byte) error
}

// PinOut is a digital output line.
type PinOut interface {
	Out(l gpio.Level) error
}

// PinIn is a digital input line.
type PinIn interface {
	Read() gpio.Level
}

// Config holds the collaborators of a transport.
//
// The transport is chosen from which fields are set:
//   - no chip-select: packetized (I2C, Addr),
//   - chip-select without clock: hardware serial (SPI),
//   - chip-select and clock: bit-banged serial (MOSI, MISO).
type Config struct {
	I2C  I2CBus
	Addr uint16

	SPI SPIConn

	CS   PinOut
	SCK  PinOut
	MOSI PinOut
	MISO PinIn

	// Lock, when set, is held across each chip-select window of a
	// serial transport. Transports sharing clock and data lines must
	// share it.
	Lock sync.Locker
}

// Kind returns the binding selected by cfg.
func (cfg Config) Kind() Kind {
	switch {
	case cfg.CS == nil:
		return Packetized
	case cfg.SCK == nil:
		return HardwareSerial
	default:
		return BitBangSerial
	}
}

// New creates the transport selected by cfg.
func New(cfg Config) (Exchanger, error) {
	switch cfg.Kind() {
	case Packetized:
		if cfg.I2C == nil {
			return nil, fmt.Errorf("bus: no I2C bus for device 0x%x: %w", cfg.Addr, ErrNoBus)
		}
		return NewI2C(cfg.I2C, cfg.Addr), nil
	case HardwareSerial:
		if cfg.SPI == nil {
			return nil, fmt.Errorf("bus: no SPI connection: %w", ErrNoBus)
		}
		spi, err := NewSPI(cfg.SPI, cfg.CS)
		if err != nil {
			return nil, err
		}
		spi.lock = cfg.Lock
		return spi, nil
	default:
		if cfg.MOSI == nil || cfg.MISO == nil {
			return nil, fmt.Errorf("bus: bit-bang SPI needs MOSI and MISO lines: %w", ErrNoBus)
		}
		bb, err := NewBitBang(cfg.CS, cfg.SCK, cfg.MOSI, cfg.MISO)
		if err != nil {
			return nil, err
		}
		bb.lock = cfg.Lock
		return bb, nil
	}
}

func checkArgs(w []byte, n int) error {
	if len(w) == 0 {
		return ErrEmptyFrame
	}
	if n < 0 || n > MaxRead {
		return fmt.Errorf("%w %d (max=%d)", ErrReadSize, n, MaxRead)
	}
	return nil
}

// exclusive runs tx under lock, if any.
func exclusive(lock sync.Locker, tx func() error) error {
	if lock == nil {
		return tx()
	}
	lock.Lock()
	defer lock.Unlock()
	return tx()
}

// selected runs tx with the chip-select line driven low.
// The line is released even if tx fails; the error of tx wins.
func selected(cs PinOut, tx func() error) (err error) {
	err = cs.Out(gpio.Low)
	if err != nil {
		return fmt.Errorf("bus: could not assert chip-select: %w", err)
	}
	defer func() {
		e := cs.Out(gpio.High)
		if e != nil && err == nil {
			err = fmt.Errorf("bus: could not release chip-select: %w", e)
		}
	}()
	return tx()
}

func closeAll(rsc []io.Closer) error {
	var err error
	for _, c := range rsc {
		if e := c.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

var (
	_ Exchanger = (*I2C)(nil)
	_ Exchanger = (*SPI)(nil)
	_ Exchanger = (*BitBang)(nil)
)
