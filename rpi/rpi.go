// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpi drives the BCM283x GPIO block of a Raspberry Pi directly
// through /dev/gpiomem.
//
// Toggling a line is a single register write, which makes these pins
// suitable as clock and data lines of a bit-banged serial bus.
package rpi // import "github.com/go-lpc/machxo/rpi"

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-lpc/machxo/internal/mmap"
	"periph.io/x/conn/v3/gpio"
)

// GPIOMem is the default device exposing the GPIO registers.
const GPIOMem = "/dev/gpiomem"

// NumPins is the number of GPIO lines of the BCM283x.
const NumPins = 54

const (
	regFSEL = 0x00 // function select, 10 pins per register
	regSET  = 0x1c // output set, 32 pins per register
	regCLR  = 0x28 // output clear
	regLEV  = 0x34 // pin level

	span = 0xb4

	fselInput  = 0b000
	fselOutput = 0b001
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

// GPIO is a mapped GPIO register window.
type GPIO struct {
	mem rwer
	buf [4]byte
	err error
}

// Open maps the GPIO register window exposed by the named device.
// An empty name selects GPIOMem.
func Open(fname string) (*GPIO, error) {
	if fname == "" {
		fname = GPIOMem
	}
	h, err := mmap.Open(fname, 0, span)
	if err != nil {
		return nil, fmt.Errorf("rpi: could not map GPIO registers: %w", err)
	}
	return newGPIO(h), nil
}

func newGPIO(mem rwer) *GPIO {
	return &GPIO{mem: mem}
}

// Close unmaps the register window.
func (g *GPIO) Close() error {
	c, ok := g.mem.(io.Closer)
	if !ok {
		return nil
	}
	err := c.Close()
	if err != nil {
		return fmt.Errorf("rpi: could not unmap GPIO registers: %w", err)
	}
	return nil
}

// Err returns the first register access error, if any.
func (g *GPIO) Err() error { return g.err }

// Pin returns the GPIO line n.
func (g *GPIO) Pin(n int) (*Pin, error) {
	if n < 0 || n >= NumPins {
		return nil, fmt.Errorf("rpi: invalid GPIO line %d", n)
	}
	return &Pin{gpio: g, n: n}, nil
}

func (g *GPIO) readU32(off int64) uint32 {
	if g.err != nil {
		return 0
	}
	_, g.err = g.mem.ReadAt(g.buf[:], off)
	if g.err != nil {
		g.err = fmt.Errorf("rpi: could not read register 0x%x: %w", off, g.err)
		return 0
	}
	return binary.LittleEndian.Uint32(g.buf[:])
}

func (g *GPIO) writeU32(off int64, v uint32) {
	if g.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(g.buf[:], v)
	_, g.err = g.mem.WriteAt(g.buf[:], off)
	if g.err != nil {
		g.err = fmt.Errorf("rpi: could not write register 0x%x: %w", off, g.err)
	}
}

// Pin is a single GPIO line.
type Pin struct {
	gpio *GPIO
	n    int
}

func (p *Pin) String() string { return fmt.Sprintf("GPIO%d", p.n) }

// Number returns the BCM number of the line.
func (p *Pin) Number() int { return p.n }

// Output configures the line as an output.
func (p *Pin) Output() error { return p.fsel(fselOutput) }

// Input configures the line as an input.
func (p *Pin) Input() error { return p.fsel(fselInput) }

func (p *Pin) fsel(mode uint32) error {
	var (
		off   = int64(regFSEL + 4*(p.n/10))
		shift = uint(3 * (p.n % 10))
	)
	v := p.gpio.readU32(off)
	v &^= 0b111 << shift
	v |= mode << shift
	p.gpio.writeU32(off, v)
	return p.gpio.err
}

// Out drives the line to l.
func (p *Pin) Out(l gpio.Level) error {
	reg := int64(regCLR)
	if l {
		reg = regSET
	}
	p.gpio.writeU32(reg+p.bank(), p.mask())
	return p.gpio.err
}

// Read returns the level of the line.
// A failed register access reads as gpio.Low and is reported by GPIO.Err.
func (p *Pin) Read() gpio.Level {
	v := p.gpio.readU32(regLEV + p.bank())
	return gpio.Level(v&p.mask() != 0)
}

func (p *Pin) bank() int64  { return int64(4 * (p.n / 32)) }
func (p *Pin) mask() uint32 { return 1 << uint(p.n%32) }
