// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/go-lpc/machxo/rpi"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// DefaultAddr is the factory I2C address of the primary configuration port.
const DefaultAddr = 0x40

// Binding names the host resources backing a transport.
//
// Bus is one of "i2c", "spi", "bitbang" or "ftdi". When empty, it is
// inferred like New does: no chip-select selects I2C, a chip-select
// without clock selects SPI, a chip-select and a clock select the
// bit-banged bus.
//
// For "i2c" and "spi", Dev is the periph.io bus or port name (empty
// for the first one). For "ftdi", pins are named after the FT232H
// lines (D4..D7, C0..C7) and Dev is unused.
// When GPIOMem is set, bit-bang pins are BCM line numbers driven
// through rpi.
type Binding struct {
	Name string `json:"name,omitempty"`
	Bus  string `json:"bus,omitempty"`
	Dev  string `json:"dev,omitempty"`
	Addr uint16 `json:"addr,omitempty"`

	CS   string `json:"cs,omitempty"`
	SCK  string `json:"sck,omitempty"`
	MOSI string `json:"mosi,omitempty"`
	MISO string `json:"miso,omitempty"`

	Freq    string `json:"freq,omitempty"` // e.g. "8MHz"
	GPIOMem bool   `json:"gpiomem,omitempty"`
}

// Warner receives non-fatal notices while opening a binding.
type Warner interface {
	Warnf(format string, args ...interface{})
}

// BusName returns the explicit or inferred bus name of b.
func (b Binding) BusName() string {
	if b.Bus != "" {
		return strings.ToLower(b.Bus)
	}
	switch {
	case b.CS == "":
		return "i2c"
	case b.SCK == "":
		return "spi"
	default:
		return "bitbang"
	}
}

// Port returns the name of the clock and data lines used by b.
// Serial transports opened with the same port exchange frames one
// chip-select window at a time.
func (b Binding) Port() string {
	switch name := b.BusName(); name {
	case "bitbang":
		if b.GPIOMem {
			return "gpiomem:" + b.Dev + ":" + strings.ToUpper(b.SCK)
		}
		return "bitbang:" + strings.ToUpper(b.SCK)
	case "ftdi":
		return name
	case "spi":
		// chip-selects of one controller share its clock.
		ctl := strings.ToUpper(b.Dev)
		if i := strings.LastIndex(ctl, "."); i >= 0 {
			ctl = ctl[:i]
		}
		return name + ":" + ctl
	default:
		return name + ":" + b.Dev
	}
}

var ports struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// portLock returns the lock shared by all transports opened on port.
func portLock(port string) *sync.Mutex {
	ports.mu.Lock()
	defer ports.mu.Unlock()
	if ports.locks == nil {
		ports.locks = make(map[string]*sync.Mutex)
	}
	mu, ok := ports.locks[port]
	if !ok {
		mu = new(sync.Mutex)
		ports.locks[port] = mu
	}
	return mu
}

// Frequency returns the SPI clock of b, DefaultFreq when unset.
func (b Binding) Frequency() (physic.Frequency, error) {
	if b.Freq == "" {
		return DefaultFreq, nil
	}
	var f physic.Frequency
	err := f.Set(b.Freq)
	if err != nil {
		return 0, fmt.Errorf("bus: invalid SPI frequency %q: %w", b.Freq, err)
	}
	if f <= 0 {
		return 0, fmt.Errorf("bus: invalid SPI frequency %q", b.Freq)
	}
	return f, nil
}

var (
	hostOnce sync.Once
	hostErr  error

	hostInit = func() error {
		hostOnce.Do(func() {
			_, hostErr = host.Init()
		})
		return hostErr
	}
)

// Open opens the host resources named by b and returns the matching
// transport. Closing the transport releases them.
func Open(b Binding, msg Warner) (Exchanger, error) {
	err := hostInit()
	if err != nil {
		return nil, fmt.Errorf("bus: could not initialize host drivers: %w", err)
	}

	var dev Exchanger
	switch name := b.BusName(); name {
	case "i2c":
		dev, err = openI2C(b)
	case "spi":
		dev, err = openSPI(b, msg)
	case "bitbang":
		dev, err = openBitBang(b)
	case "ftdi":
		dev, err = openFTDI(b, msg)
	default:
		return nil, fmt.Errorf("bus: unknown bus %q", name)
	}
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func openI2C(b Binding) (*I2C, error) {
	bc, err := i2creg.Open(b.Dev)
	if err != nil {
		return nil, fmt.Errorf("bus: could not open I2C bus %q: %w", b.Dev, err)
	}
	addr := b.Addr
	if addr == 0 {
		addr = DefaultAddr
	}
	dev := NewI2C(bc, addr)
	dev.rsc = []io.Closer{bc}
	return dev, nil
}

func connect(p spi.Port, b Binding, msg Warner) (spi.Conn, error) {
	freq, err := b.Frequency()
	if err != nil {
		return nil, err
	}
	if freq > maxFreq && msg != nil {
		msg.Warnf("SPI clock %v above %v: flash reads may be corrupted", freq, maxFreq)
	}
	c, err := p.Connect(freq, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("bus: could not connect to SPI port at %v: %w", freq, err)
	}
	return c, nil
}

func openSPI(b Binding, msg Warner) (*SPI, error) {
	cs, err := outPin(b.CS)
	if err != nil {
		return nil, err
	}

	p, err := spireg.Open(b.Dev)
	if err != nil {
		return nil, fmt.Errorf("bus: could not open SPI port %q: %w", b.Dev, err)
	}

	c, err := connect(p, b, msg)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	dev, err := NewSPI(c, cs)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	dev.lock = portLock(b.Port())
	dev.rsc = []io.Closer{p}
	return dev, nil
}

func openFTDI(b Binding, msg Warner) (*SPI, error) {
	ft, err := findFT232H()
	if err != nil {
		return nil, err
	}

	name := b.CS
	if name == "" {
		name = "D4"
	}
	cs, ok := ftdiPins(ft)[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("bus: unknown FT232H line %q", name)
	}

	p, err := ft.SPI()
	if err != nil {
		return nil, fmt.Errorf("bus: could not open FT232H SPI port: %w", err)
	}

	c, err := connect(p, b, msg)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	dev, err := NewSPI(c, cs)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	dev.lock = portLock(b.Port())
	dev.rsc = []io.Closer{p}
	return dev, nil
}

func findFT232H() (*ftdi.FT232H, error) {
	for _, dev := range ftdi.All() {
		if ft, ok := dev.(*ftdi.FT232H); ok {
			return ft, nil
		}
	}
	return nil, fmt.Errorf("bus: no FT232H device found: %w", ErrNoBus)
}

// ftdiPins maps the line names of an FT232H not claimed by its MPSSE
// SPI engine (D0-D3).
func ftdiPins(ft *ftdi.FT232H) map[string]gpio.PinIO {
	return map[string]gpio.PinIO{
		"D4": ft.D4, "D5": ft.D5, "D6": ft.D6, "D7": ft.D7,
		"C0": ft.C0, "C1": ft.C1, "C2": ft.C2, "C3": ft.C3,
		"C4": ft.C4, "C5": ft.C5, "C6": ft.C6, "C7": ft.C7,
	}
}

func openBitBang(b Binding) (*BitBang, error) {
	if b.GPIOMem {
		return openGPIOMem(b)
	}

	cs, err := outPin(b.CS)
	if err != nil {
		return nil, err
	}
	sck, err := outPin(b.SCK)
	if err != nil {
		return nil, err
	}
	mosi, err := outPin(b.MOSI)
	if err != nil {
		return nil, err
	}
	miso, err := inPin(b.MISO)
	if err != nil {
		return nil, err
	}
	dev, err := NewBitBang(cs, sck, mosi, miso)
	if err != nil {
		return nil, err
	}
	dev.lock = portLock(b.Port())
	return dev, nil
}

func openGPIOMem(b Binding) (*BitBang, error) {
	mem, err := rpi.Open(b.Dev)
	if err != nil {
		return nil, err
	}

	pin := func(name string, out bool) (*rpi.Pin, error) {
		n, e := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(name), "GPIO"))
		if e != nil {
			return nil, fmt.Errorf("bus: invalid BCM line %q: %w", name, e)
		}
		p, e := mem.Pin(n)
		if e != nil {
			return nil, e
		}
		if out {
			e = p.Output()
		} else {
			e = p.Input()
		}
		if e != nil {
			return nil, fmt.Errorf("bus: could not configure %v: %w", p, e)
		}
		return p, nil
	}

	var (
		names = []string{b.CS, b.SCK, b.MOSI, b.MISO}
		pins  = make([]*rpi.Pin, len(names))
	)
	for i, name := range names {
		pins[i], err = pin(name, i < 3)
		if err != nil {
			_ = mem.Close()
			return nil, err
		}
	}

	dev, err := NewBitBang(pins[0], pins[1], pins[2], pins[3])
	if err != nil {
		_ = mem.Close()
		return nil, err
	}
	dev.lock = portLock(b.Port())
	dev.rsc = []io.Closer{mem}
	return dev, nil
}

var errNoPin = errors.New("bus: missing GPIO line name")

func lookupPin(name string) (gpio.PinIO, error) {
	if name == "" {
		return nil, errNoPin
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("bus: unknown GPIO line %q", name)
	}
	return p, nil
}

func outPin(name string) (gpio.PinIO, error) {
	p, err := lookupPin(name)
	if err != nil {
		return nil, err
	}
	err = p.Out(gpio.High)
	if err != nil {
		return nil, fmt.Errorf("bus: could not configure %v as output: %w", p, err)
	}
	return p, nil
}

func inPin(name string) (gpio.PinIO, error) {
	p, err := lookupPin(name)
	if err != nil {
		return nil, err
	}
	err = p.In(gpio.PullNoChange, gpio.NoEdge)
	if err != nil {
		return nil, fmt.Errorf("bus: could not configure %v as input: %w", p, err)
	}
	return p, nil
}
