// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakexo provides an in-memory MachXO2 configuration interface.
//
// A Device answers the configuration command set over a periph-shaped
// I2C bus, a hardware SPI connection, or a set of pins clocked by a
// bit-banged transport. All frames it receives are recorded.
package fakexo // import "github.com/go-lpc/machxo/internal/fakexo"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/go-lpc/machxo/bus"
	"periph.io/x/conn/v3/gpio"
)

// PageSize is the size of a flash or UFM page.
const PageSize = 16

const (
	StatusDone    = 1 << 8
	StatusEnabled = 1 << 9
)

// ErrNack is returned on an I2C transaction to a foreign address.
var ErrNack = errors.New("fakexo: address not acknowledged")

// Frame is one command frame received by the device.
type Frame struct {
	Cmd  []byte
	Read int
}

// Device is a simulated configuration interface.
type Device struct {
	mu sync.Mutex

	Addr       uint16
	ID         uint32
	UserCode   uint32
	Status     uint32
	Features   [2]byte
	FeatureRow [8]byte
	OTP        byte

	// Busy is the number of polls answered busy after each program
	// or erase command.
	Busy int

	Flash map[uint16][PageSize]byte
	UFM   map[uint16][PageSize]byte

	Frames []Frame

	Refreshes int
	Wakes     int
	Erased    []byte // erase flag bytes, in order

	// Err, when set, fails every bus transaction.
	Err error

	addr    uint16
	ufmAddr uint16
	busy    int

	// serial window
	selected bool
	in       []byte
	reply    []byte
	cur      byte
	nbit     int
	sck      gpio.Level
	mosi     gpio.Level
	miso     gpio.Level
	edges    int
}

// New returns a blank MachXO2-2000HC answering at the default I2C address.
func New() *Device {
	return &Device{
		Addr:  bus.DefaultAddr,
		ID:    0x012bb043,
		Flash: make(map[uint16][PageSize]byte),
		UFM:   make(map[uint16][PageSize]byte),
	}
}

// Config returns a transport configuration wired to the device.
func (d *Device) Config(k bus.Kind) bus.Config {
	switch k {
	case bus.Packetized:
		return bus.Config{I2C: d, Addr: d.Addr}
	case bus.HardwareSerial:
		return bus.Config{SPI: spiConn{d}, CS: csPin{d}}
	default:
		return bus.Config{
			CS:   csPin{d},
			SCK:  sckPin{d},
			MOSI: mosiPin{d},
			MISO: misoPin{d},
		}
	}
}

// Addresses returns the current configuration and UFM page pointers.
func (d *Device) Addresses() (cfg, ufm uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr, d.ufmAddr
}

// Edges returns the number of rising clock edges seen while selected.
func (d *Device) Edges() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.edges
}

// Opcodes returns the first byte of every recorded frame.
func (d *Device) Opcodes() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	o := make([]byte, len(d.Frames))
	for i, f := range d.Frames {
		o[i] = f.Cmd[0]
	}
	return o
}

// Reset clears the recorded frames.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Frames = nil
}

// Tx implements the periph.io i2c.Bus transaction.
func (d *Device) Tx(addr uint16, w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Err != nil {
		return d.Err
	}
	if addr != d.Addr {
		return fmt.Errorf("fakexo: addr=0x%x: %w", addr, ErrNack)
	}
	if len(w) == 0 {
		return fmt.Errorf("fakexo: empty write")
	}
	copy(r, d.answer(w, len(r)))
	d.exec(w, len(r))
	return nil
}

// readSize returns the reply size of an opcode.
func readSize(op byte) int {
	switch op {
	case 0xe0, 0xc0, 0x3c:
		return 4
	case 0xfb:
		return 2
	case 0xe7:
		return 8
	case 0xfa, 0xf0:
		return 1
	case 0x73, 0xca:
		return PageSize
	}
	return 0
}

func u32(v uint32) []byte {
	o := make([]byte, 4)
	binary.BigEndian.PutUint32(o, v)
	return o
}

// answer returns the n reply bytes of cmd, without side effects.
func (d *Device) answer(cmd []byte, n int) []byte {
	var o []byte
	switch cmd[0] {
	case 0xe0:
		o = u32(d.ID)
	case 0xc0:
		o = u32(d.UserCode)
	case 0x3c:
		o = u32(d.Status)
	case 0xfb:
		o = d.Features[:]
	case 0xe7:
		o = d.FeatureRow[:]
	case 0xfa:
		o = []byte{d.OTP}
	case 0xf0:
		o = []byte{0x00}
		if d.busy > 0 {
			o[0] = 0x80
		}
	case 0x73:
		p := d.Flash[d.addr]
		o = p[:]
	case 0xca:
		p := d.UFM[d.ufmAddr]
		o = p[:]
	}
	r := make([]byte, n)
	copy(r, o)
	return r
}

func page(p []byte) [PageSize]byte {
	var o [PageSize]byte
	copy(o[:], p)
	return o
}

// exec applies the side effects of cmd and records it.
func (d *Device) exec(cmd []byte, n int) {
	d.Frames = append(d.Frames, Frame{Cmd: append([]byte(nil), cmd...), Read: n})

	arg := func(i int) byte {
		if i < len(cmd) {
			return cmd[i]
		}
		return 0
	}

	switch cmd[0] {
	case 0xf0:
		if d.busy > 0 {
			d.busy--
		}
	case 0x73:
		d.addr++
	case 0xca:
		d.ufmAddr++
	case 0x46:
		d.addr = 0
	case 0x47:
		d.ufmAddr = 0
	case 0xb4:
		pg := uint16(arg(6))<<8 | uint16(arg(7))
		if arg(4) == 0x40 {
			d.ufmAddr = pg
		} else {
			d.addr = pg
		}
	case 0x70:
		if len(cmd) == 4+PageSize {
			d.Flash[d.addr] = page(cmd[4:])
		}
		d.addr++
		d.busy = d.Busy
	case 0xc9:
		if len(cmd) == 4+PageSize {
			d.UFM[d.ufmAddr] = page(cmd[4:])
		}
		d.ufmAddr++
		d.busy = d.Busy
	case 0x0e:
		flags := arg(1)
		d.Erased = append(d.Erased, flags)
		if flags&0x04 != 0 {
			d.Flash = make(map[uint16][PageSize]byte)
			d.Status &^= StatusDone
		}
		if flags&0x08 != 0 {
			d.UFM = make(map[uint16][PageSize]byte)
		}
		d.busy = d.Busy
	case 0xcb:
		d.UFM = make(map[uint16][PageSize]byte)
		d.busy = d.Busy
	case 0x74, 0xc6:
		d.Status |= StatusEnabled
	case 0x26:
		d.Status &^= StatusEnabled
	case 0x5e:
		d.Status |= StatusDone
		d.busy = d.Busy
	case 0x79:
		d.Refreshes++
		d.Status &^= StatusEnabled
	case 0xff:
		d.Wakes++
	}
}

// next returns the byte the device shifts out at the current position
// of the serial window.
func (d *Device) next() byte {
	i := len(d.in) - 4
	if d.reply != nil && i >= 0 && i < len(d.reply) {
		return d.reply[i]
	}
	return 0xff
}

// push appends a byte shifted in during the serial window.
func (d *Device) push(v byte) {
	d.in = append(d.in, v)
	if len(d.in) == 4 {
		if n := readSize(d.in[0]); n > 0 {
			d.reply = d.answer(d.in, n)
		}
	}
}

func (d *Device) begin() {
	d.selected = true
	d.in = d.in[:0]
	d.reply = nil
	d.nbit = 0
}

func (d *Device) end() {
	if !d.selected {
		return
	}
	d.selected = false
	if d.nbit != 0 {
		d.in = d.in[:len(d.in)-1]
		d.nbit = 0
	}
	if len(d.in) == 0 {
		return
	}
	n := 0
	if d.reply != nil {
		n = len(d.in) - 4
		if n > len(d.reply) {
			n = len(d.reply)
		}
	}
	d.exec(d.in[:len(d.in)-n], n)
}

type spiConn struct{ d *Device }

func (c spiConn) Tx(w, r []byte) error {
	d := c.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.Err != nil {
		return d.Err
	}
	if !d.selected {
		return fmt.Errorf("fakexo: SPI transfer without chip-select")
	}
	for i, v := range w {
		o := d.next()
		if i < len(r) {
			r[i] = o
		}
		d.push(v)
	}
	return nil
}

type csPin struct{ d *Device }

func (p csPin) Out(l gpio.Level) error {
	d := p.d
	d.mu.Lock()
	defer d.mu.Unlock()

	if l == gpio.Low {
		d.begin()
		return nil
	}
	d.end()
	return nil
}

type sckPin struct{ d *Device }

func (p sckPin) Out(l gpio.Level) error {
	d := p.d
	d.mu.Lock()
	defer d.mu.Unlock()

	rising := l == gpio.High && d.sck == gpio.Low
	d.sck = l
	if !rising || !d.selected {
		return nil
	}
	d.edges++

	if d.nbit == 0 {
		d.cur = d.next()
	}
	d.miso = gpio.Level(d.cur&(0x80>>uint(d.nbit)) != 0)

	// the byte being shifted in sits at the end of d.in until complete.
	if d.nbit == 0 {
		d.in = append(d.in, 0)
	}
	last := len(d.in) - 1
	if d.mosi {
		d.in[last] |= 0x80 >> uint(d.nbit)
	}
	d.nbit++
	if d.nbit == 8 {
		v := d.in[last]
		d.in = d.in[:last]
		d.nbit = 0
		d.push(v)
	}
	return nil
}

type mosiPin struct{ d *Device }

func (p mosiPin) Out(l gpio.Level) error {
	p.d.mu.Lock()
	p.d.mosi = l
	p.d.mu.Unlock()
	return nil
}

type misoPin struct{ d *Device }

func (p misoPin) Read() gpio.Level {
	p.d.mu.Lock()
	defer p.d.mu.Unlock()
	return p.d.miso
}

var (
	_ bus.I2CBus  = (*Device)(nil)
	_ bus.SPIConn = spiConn{}
	_ bus.PinOut  = csPin{}
	_ bus.PinOut  = sckPin{}
	_ bus.PinOut  = mosiPin{}
	_ bus.PinIn   = misoPin{}
)
