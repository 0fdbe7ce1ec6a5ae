// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xocmd

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/machxo/bus"
	"github.com/go-lpc/machxo/xo2"
)

// Flags holds the command-line options selecting and configuring a device.
type Flags struct {
	Binding bus.Binding

	Addr    uint
	Verbose bool
	Timeout time.Duration
	Polls   int
	Erase   string
}

// NewFlags registers the device options on fs.
func NewFlags(fs *flag.FlagSet) *Flags {
	f := new(Flags)
	fs.StringVar(&f.Binding.Bus, "bus", "", "transport to use (i2c, spi, bitbang, ftdi)")
	fs.StringVar(&f.Binding.Dev, "dev", "", "periph.io I2C bus or SPI port name, or gpiomem device")
	fs.UintVar(&f.Addr, "addr", bus.DefaultAddr, "I2C address of the configuration port")
	fs.StringVar(&f.Binding.CS, "cs", "", "chip-select pin")
	fs.StringVar(&f.Binding.SCK, "sck", "", "bit-bang clock pin")
	fs.StringVar(&f.Binding.MOSI, "mosi", "", "bit-bang data out pin")
	fs.StringVar(&f.Binding.MISO, "miso", "", "bit-bang data in pin")
	fs.StringVar(&f.Binding.Freq, "freq", "", "SPI clock frequency (default 8MHz)")
	fs.BoolVar(&f.Binding.GPIOMem, "gpiomem", false, "drive bit-bang pins through /dev/gpiomem")
	fs.BoolVar(&f.Verbose, "v", false, "enable verbose mode")
	fs.DurationVar(&f.Timeout, "timeout", xo2.DefaultBusyTimeout, "busy-wait timeout (0 to disable)")
	fs.IntVar(&f.Polls, "polls", 0, "maximum number of busy polls (0 to disable)")
	fs.StringVar(&f.Erase, "erase", "flash", "memories erased by the program command")
	return f
}

var openBus = bus.Open

// Open opens the device described by the flags. Diagnostics are
// written to w.
func (f *Flags) Open(name string, w io.Writer) (*xo2.Device, error) {
	if f.Addr > 0x7f {
		return nil, fmt.Errorf("xocmd: invalid I2C address 0x%x", f.Addr)
	}
	erase, err := xo2.ParseEraseFlags(f.Erase)
	if err != nil {
		return nil, err
	}

	lvl := log.LvlInfo
	if f.Verbose {
		lvl = log.LvlDebug
	}
	msg := log.NewMsgStream(name, lvl, w)

	b := f.Binding
	b.Addr = uint16(f.Addr)
	x, err := openBus(b, msg)
	if err != nil {
		return nil, fmt.Errorf("xocmd: could not open %s bus: %w", b.BusName(), err)
	}

	dev, err := xo2.New(x,
		xo2.WithLogger(msg),
		xo2.WithVerbose(f.Verbose),
		xo2.WithBusyTimeout(f.Timeout),
		xo2.WithMaxPolls(f.Polls),
		xo2.WithEraseFlags(erase),
	)
	if err != nil {
		return nil, fmt.Errorf("xocmd: could not create device: %w", err)
	}
	return dev, nil
}
