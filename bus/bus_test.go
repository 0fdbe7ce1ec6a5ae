// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bus

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

type event struct {
	pin   string
	level gpio.Level
}

type trace struct {
	evts []event
}

func (tr *trace) add(name string, l gpio.Level) {
	tr.evts = append(tr.evts, event{name, l})
}

type pin struct {
	name string
	tr   *trace
	err  error
}

func (p *pin) Out(l gpio.Level) error {
	if p.err != nil {
		return p.err
	}
	p.tr.add(p.name, l)
	return nil
}

type i2cBus struct {
	addr uint16
	w    []byte
	r    []byte
	err  error
}

func (b *i2cBus) Tx(addr uint16, w, r []byte) error {
	if b.err != nil {
		return b.err
	}
	b.addr = addr
	b.w = append([]byte(nil), w...)
	copy(r, b.r)
	return nil
}

type spiConn struct {
	tr  *trace
	w   []byte
	r   []byte
	err error
}

func (c *spiConn) Tx(w, r []byte) error {
	c.tr.add("tx", gpio.High)
	if c.err != nil {
		return c.err
	}
	c.w = append([]byte(nil), w...)
	copy(r, c.r)
	return nil
}

func TestKind(t *testing.T) {
	tr := new(trace)
	for _, tc := range []struct {
		cfg    Config
		want   Kind
		serial bool
		name   string
	}{
		{
			cfg:  Config{I2C: new(i2cBus)},
			want: Packetized, name: "i2c",
		},
		{
			cfg:  Config{SPI: &spiConn{tr: tr}, CS: &pin{tr: tr}},
			want: HardwareSerial, serial: true, name: "spi",
		},
		{
			cfg:  Config{CS: &pin{tr: tr}, SCK: &pin{tr: tr}},
			want: BitBangSerial, serial: true, name: "bitbang",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.cfg.Kind()
			if got != tc.want {
				t.Fatalf("invalid kind: got=%v, want=%v", got, tc.want)
			}
			if got, want := got.Serial(), tc.serial; got != want {
				t.Fatalf("invalid serial: got=%v, want=%v", got, want)
			}
			if got, want := got.String(), tc.name; got != want {
				t.Fatalf("invalid name: got=%q, want=%q", got, want)
			}
		})
	}

	if got, want := Kind(42).String(), "Kind(42)"; got != want {
		t.Fatalf("invalid name: got=%q, want=%q", got, want)
	}
}

func TestNewSelection(t *testing.T) {
	for _, tc := range []struct {
		name string
		kind Kind
		i2c  bool
		pins []string
	}{
		{name: "i2c", kind: Packetized, i2c: true},
		{name: "spi", kind: HardwareSerial, pins: []string{"cs", "tx"}},
		{name: "bitbang", kind: BitBangSerial, pins: []string{"cs", "mosi", "sck"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				tr   = new(trace)
				i2c  = &i2cBus{r: []byte{0xaa}}
				conn = &spiConn{tr: tr, r: []byte{0, 0xaa}}
				cfg  = Config{
					I2C:  i2c,
					Addr: 0x40,
					SPI:  conn,
					SCK:  &pin{name: "sck", tr: tr},
					MOSI: &pin{name: "mosi", tr: tr},
					MISO: &loopback{bits: bitsOf(0x00, 0xaa)},
				}
			)
			switch tc.kind {
			case HardwareSerial:
				cfg.CS = &pin{name: "cs", tr: tr}
				cfg.SCK = nil
			case BitBangSerial:
				cfg.CS = &pin{name: "cs", tr: tr}
			}

			dev, err := New(cfg)
			if err != nil {
				t.Fatalf("could not create transport: %+v", err)
			}
			if got, want := dev.Kind(), tc.kind; got != want {
				t.Fatalf("invalid kind: got=%v, want=%v", got, want)
			}
			_, err = dev.Exchange([]byte{0x01}, 1)
			if err != nil {
				t.Fatalf("could not exchange: %+v", err)
			}

			if got, want := i2c.w != nil, tc.i2c; got != want {
				t.Fatalf("invalid i2c use: got=%v, want=%v", got, want)
			}
			if got, want := conn.w != nil, tc.kind == HardwareSerial; got != want {
				t.Fatalf("invalid spi use: got=%v, want=%v", got, want)
			}
			seen := make(map[string]bool)
			for _, evt := range tr.evts {
				seen[evt.pin] = true
			}
			var got []string
			for _, name := range []string{"cs", "mosi", "sck", "tx"} {
				if seen[name] {
					got = append(got, name)
				}
			}
			if diff := cmp.Diff(tc.pins, got); diff != "" {
				t.Fatalf("invalid lines driven: (-want +got)\n%s", diff)
			}
		})
	}
}

func TestNewMissingBus(t *testing.T) {
	tr := new(trace)
	for _, tc := range []struct {
		name string
		cfg  Config
	}{
		{"i2c", Config{Addr: 0x40}},
		{"spi", Config{CS: &pin{tr: tr}}},
		{"bitbang", Config{CS: &pin{tr: tr}, SCK: &pin{tr: tr}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dev, err := New(tc.cfg)
			if !errors.Is(err, ErrNoBus) {
				t.Fatalf("invalid error: %+v", err)
			}
			if dev != nil {
				t.Fatalf("expected a nil transport")
			}
		})
	}
}

func TestExchangeArgs(t *testing.T) {
	tr := new(trace)
	devs := []Exchanger{
		NewI2C(new(i2cBus), 0x40),
		&SPI{conn: &spiConn{tr: tr}, cs: &pin{tr: tr}},
		&BitBang{cs: &pin{tr: tr}, sck: &pin{tr: tr}, mosi: &pin{tr: tr}, miso: gpio.INVALID},
	}
	for _, dev := range devs {
		t.Run(dev.Kind().String(), func(t *testing.T) {
			_, err := dev.Exchange(nil, 4)
			if !errors.Is(err, ErrEmptyFrame) {
				t.Fatalf("invalid empty-frame error: %+v", err)
			}
			for _, n := range []int{-1, MaxRead + 1} {
				_, err = dev.Exchange([]byte{0xe0, 0, 0, 0}, n)
				if !errors.Is(err, ErrReadSize) {
					t.Fatalf("invalid read-size error for n=%d: %+v", n, err)
				}
			}
		})
	}
	if len(tr.evts) != 0 {
		t.Fatalf("invalid exchanges touched the bus: %v", tr.evts)
	}
}

func TestI2C(t *testing.T) {
	bus := &i2cBus{r: []byte{0x01, 0x2b, 0x20, 0x43}}
	dev, err := New(Config{I2C: bus, Addr: 0x40})
	if err != nil {
		t.Fatalf("could not create i2c bus: %+v", err)
	}
	if got, want := dev.(*I2C).Addr(), uint16(0x40); got != want {
		t.Fatalf("invalid address: got=0x%x, want=0x%x", got, want)
	}

	got, err := dev.Exchange([]byte{0xe0, 0, 0, 0}, 4)
	if err != nil {
		t.Fatalf("could not exchange: %+v", err)
	}
	if diff := cmp.Diff(bus.r, got); diff != "" {
		t.Fatalf("invalid reply: (-want +got)\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0xe0, 0, 0, 0}, bus.w); diff != "" {
		t.Fatalf("invalid frame: (-want +got)\n%s", diff)
	}
	if bus.addr != 0x40 {
		t.Fatalf("invalid address: got=0x%x", bus.addr)
	}

	got, err = dev.Exchange([]byte{0x79, 0, 0}, 0)
	if err != nil {
		t.Fatalf("could not exchange: %+v", err)
	}
	if len(got) != 0 {
		t.Fatalf("invalid reply length: got=%d, want=0", len(got))
	}

	bus.err = io.ErrUnexpectedEOF
	_, err = dev.Exchange([]byte{0xe0, 0, 0, 0}, 4)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestSPI(t *testing.T) {
	tr := new(trace)
	var (
		cs   = &pin{name: "cs", tr: tr}
		conn = &spiConn{tr: tr, r: []byte{0xff, 0xff, 0xff, 0xff, 0x01, 0x2b, 0x20, 0x43}}
	)
	dev, err := New(Config{SPI: conn, CS: cs})
	if err != nil {
		t.Fatalf("could not create spi bus: %+v", err)
	}

	got, err := dev.Exchange([]byte{0xe0, 0, 0, 0}, 4)
	if err != nil {
		t.Fatalf("could not exchange: %+v", err)
	}
	if diff := cmp.Diff([]byte{0x01, 0x2b, 0x20, 0x43}, got); diff != "" {
		t.Fatalf("invalid reply: (-want +got)\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0xe0, 0, 0, 0, 0, 0, 0, 0}, conn.w); diff != "" {
		t.Fatalf("invalid frame: (-want +got)\n%s", diff)
	}

	want := []event{
		{"cs", gpio.High}, // released at creation
		{"cs", gpio.Low},
		{"tx", gpio.High},
		{"cs", gpio.High},
	}
	if diff := cmp.Diff(want, tr.evts, cmp.AllowUnexported(event{})); diff != "" {
		t.Fatalf("invalid chip-select sequence: (-want +got)\n%s", diff)
	}

	// reply buffer must not alias the transport scratch space.
	got2, err := dev.Exchange([]byte{0x3c, 0, 0, 0}, 4)
	if err != nil {
		t.Fatalf("could not exchange: %+v", err)
	}
	got2[0] = 0xaa
	if got[0] != 0x01 {
		t.Fatalf("replies alias each other")
	}
}

func TestSPIErrorReleasesChipSelect(t *testing.T) {
	tr := new(trace)
	var (
		cs   = &pin{name: "cs", tr: tr}
		conn = &spiConn{tr: tr, err: io.ErrClosedPipe}
	)
	dev, err := NewSPI(conn, cs)
	if err != nil {
		t.Fatalf("could not create spi bus: %+v", err)
	}
	_, err = dev.Exchange([]byte{0xe0, 0, 0, 0}, 4)
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("invalid error: %+v", err)
	}
	last := tr.evts[len(tr.evts)-1]
	if last != (event{"cs", gpio.High}) {
		t.Fatalf("chip-select not released: %v", tr.evts)
	}
}

func TestSelectedErrorPriority(t *testing.T) {
	tr := new(trace)
	cs := &pin{name: "cs", tr: tr}

	err := selected(cs, func() error {
		cs.err = io.ErrShortWrite
		return io.ErrClosedPipe
	})
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("transfer error should win: %+v", err)
	}

	cs.err = nil
	err = selected(cs, func() error {
		cs.err = io.ErrShortWrite
		return nil
	})
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("release error should be reported: %+v", err)
	}

	_, err = NewSPI(new(spiConn), cs)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("invalid creation error: %+v", err)
	}
}

// loopback is a MISO line replaying bits, most significant first.
type loopback struct {
	bits []gpio.Level
}

func (lb *loopback) Read() gpio.Level {
	if len(lb.bits) == 0 {
		return gpio.Low
	}
	v := lb.bits[0]
	lb.bits = lb.bits[1:]
	return v
}

func bitsOf(vs ...byte) []gpio.Level {
	var o []gpio.Level
	for _, v := range vs {
		for i := 7; i >= 0; i-- {
			o = append(o, gpio.Level(v&(1<<i) != 0))
		}
	}
	return o
}

func TestBitBang(t *testing.T) {
	tr := new(trace)
	var (
		cs   = &pin{name: "cs", tr: tr}
		sck  = &pin{name: "sck", tr: tr}
		mosi = &pin{name: "mosi", tr: tr}
		miso = &loopback{bits: bitsOf(0x00, 0xa5)}
	)
	dev, err := New(Config{CS: cs, SCK: sck, MOSI: mosi, MISO: miso})
	if err != nil {
		t.Fatalf("could not create bit-bang bus: %+v", err)
	}

	if diff := cmp.Diff(
		[]event{{"cs", gpio.High}, {"sck", gpio.Low}}, tr.evts,
		cmp.AllowUnexported(event{}),
	); diff != "" {
		t.Fatalf("invalid idle state: (-want +got)\n%s", diff)
	}
	tr.evts = tr.evts[:0]

	got, err := dev.Exchange([]byte{0x81}, 1)
	if err != nil {
		t.Fatalf("could not exchange: %+v", err)
	}
	if diff := cmp.Diff([]byte{0xa5}, got); diff != "" {
		t.Fatalf("invalid reply: (-want +got)\n%s", diff)
	}

	var (
		sent  []gpio.Level
		edges int
	)
	for i, evt := range tr.evts {
		switch evt.pin {
		case "mosi":
			sent = append(sent, evt.level)
			if prev := tr.evts[i-1]; prev != (event{"sck", gpio.Low}) {
				t.Fatalf("MOSI changed while clock high at event %d", i)
			}
		case "sck":
			if evt.level {
				edges++
			}
		}
	}
	if got, want := edges, 16; got != want {
		t.Fatalf("invalid number of rising edges: got=%d, want=%d", got, want)
	}
	if diff := cmp.Diff(bitsOf(0x81, 0x00), sent); diff != "" {
		t.Fatalf("invalid MOSI bits: (-want +got)\n%s", diff)
	}
	if first, last := tr.evts[0], tr.evts[len(tr.evts)-1]; first != (event{"cs", gpio.Low}) || last != (event{"cs", gpio.High}) {
		t.Fatalf("invalid chip-select framing: first=%v, last=%v", first, last)
	}
}

func TestBitBangPinError(t *testing.T) {
	tr := new(trace)
	var (
		cs   = &pin{name: "cs", tr: tr}
		sck  = &pin{name: "sck", tr: tr}
		mosi = &pin{name: "mosi", tr: tr}
	)
	dev, err := NewBitBang(cs, sck, mosi, new(loopback))
	if err != nil {
		t.Fatalf("could not create bit-bang bus: %+v", err)
	}
	mosi.err = io.ErrClosedPipe
	_, err = dev.Exchange([]byte{0xff}, 0)
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("invalid error: %+v", err)
	}
	if last := tr.evts[len(tr.evts)-1]; last != (event{"cs", gpio.High}) {
		t.Fatalf("chip-select not released: %v", tr.evts)
	}

	sck.err = io.ErrShortWrite
	_, err = NewBitBang(&pin{tr: tr}, sck, mosi, new(loopback))
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("invalid creation error: %+v", err)
	}
}

type closer struct{ n int }

func (c *closer) Close() error {
	c.n++
	return nil
}

func TestClose(t *testing.T) {
	c := new(closer)
	dev := NewI2C(new(i2cBus), 0x40)
	dev.rsc = []io.Closer{c}
	if err := dev.Close(); err != nil {
		t.Fatalf("could not close: %+v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("could not close twice: %+v", err)
	}
	if c.n != 1 {
		t.Fatalf("invalid number of close calls: got=%d, want=1", c.n)
	}
}

func TestBinding(t *testing.T) {
	for _, tc := range []struct {
		b    Binding
		want string
	}{
		{Binding{}, "i2c"},
		{Binding{Dev: "1", Addr: 0x40}, "i2c"},
		{Binding{CS: "GPIO8"}, "spi"},
		{Binding{CS: "8", SCK: "11", MOSI: "10", MISO: "9"}, "bitbang"},
		{Binding{Bus: "FTDI"}, "ftdi"},
		{Binding{Bus: "spi", CS: "GPIO8", SCK: "GPIO11"}, "spi"},
	} {
		if got := tc.b.BusName(); got != tc.want {
			t.Fatalf("invalid bus for %+v: got=%q, want=%q", tc.b, got, tc.want)
		}
	}
}

func TestBindingPort(t *testing.T) {
	for _, tc := range []struct {
		b    Binding
		want string
	}{
		{Binding{Dev: "1"}, "i2c:1"},
		{Binding{CS: "GPIO8"}, "spi:"},
		{Binding{Dev: "SPI0.0", CS: "GPIO8"}, "spi:SPI0"},
		{Binding{Dev: "spi0.1", CS: "GPIO7"}, "spi:SPI0"},
		{Binding{Dev: "SPI1.0", CS: "GPIO18"}, "spi:SPI1"},
		{Binding{Bus: "ftdi", CS: "D3"}, "ftdi"},
		{Binding{CS: "8", SCK: "gpio11", MOSI: "10", MISO: "9"}, "bitbang:GPIO11"},
		{Binding{CS: "7", SCK: "11", MOSI: "10", MISO: "9", GPIOMem: true}, "gpiomem::11"},
	} {
		if got := tc.b.Port(); got != tc.want {
			t.Fatalf("invalid port for %+v: got=%q, want=%q", tc.b, got, tc.want)
		}
	}
}

func TestPortLock(t *testing.T) {
	var (
		feb0 = Binding{Dev: "SPI0.0", CS: "GPIO8"}
		feb1 = Binding{Dev: "SPI0.1", CS: "GPIO7"}
		feb2 = Binding{Dev: "SPI1.0", CS: "GPIO18"}
	)
	if portLock(feb0.Port()) != portLock(feb1.Port()) {
		t.Fatalf("boards on one controller have distinct locks")
	}
	if portLock(feb0.Port()) == portLock(feb2.Port()) {
		t.Fatalf("boards on distinct controllers share a lock")
	}
}

// window counts chip-select lines asserted at once.
type window struct {
	mu       sync.Mutex
	active   int
	overlaps int
}

type csLine struct{ w *window }

func (cs csLine) Out(l gpio.Level) error {
	cs.w.mu.Lock()
	defer cs.w.mu.Unlock()
	switch l {
	case gpio.Low:
		cs.w.active++
		if cs.w.active > 1 {
			cs.w.overlaps++
		}
	default:
		if cs.w.active > 0 {
			cs.w.active--
		}
	}
	return nil
}

func TestSharedLock(t *testing.T) {
	var (
		win  = new(window)
		lock sync.Mutex
		conn = &spiConn{tr: new(trace)}
		devs = make([]Exchanger, 2)
	)
	for i := range devs {
		dev, err := New(Config{SPI: conn, CS: csLine{win}, Lock: &lock})
		if err != nil {
			t.Fatalf("could not create transport #%d: %+v", i, err)
		}
		devs[i] = dev
	}

	const n = 500
	var (
		wg   sync.WaitGroup
		errs = make([]error, len(devs))
	)
	for i, dev := range devs {
		wg.Add(1)
		go func(i int, dev Exchanger) {
			defer wg.Done()
			for j := 0; j < n; j++ {
				_, err := dev.Exchange([]byte{0x70, 0, 0, 0}, 4)
				if err != nil {
					errs[i] = err
					return
				}
			}
		}(i, dev)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("could not exchange over transport #%d: %+v", i, err)
		}
	}
	if got, want := win.overlaps, 0; got != want {
		t.Fatalf("invalid overlapping chip-select windows: got=%d, want=%d", got, want)
	}
	if got, want := len(conn.tr.evts), 2*n; got != want {
		t.Fatalf("invalid number of transfers: got=%d, want=%d", got, want)
	}
}

func TestBindingFrequency(t *testing.T) {
	for _, tc := range []struct {
		freq string
		want physic.Frequency
		err  bool
	}{
		{"", DefaultFreq, false},
		{"1MHz", physic.MegaHertz, false},
		{"24MHz", 24 * physic.MegaHertz, false},
		{"fast", 0, true},
	} {
		t.Run(tc.freq, func(t *testing.T) {
			got, err := Binding{Freq: tc.freq}.Frequency()
			switch {
			case err != nil && !tc.err:
				t.Fatalf("could not parse frequency: %+v", err)
			case err == nil && tc.err:
				t.Fatalf("expected an error")
			}
			if got != tc.want {
				t.Fatalf("invalid frequency: got=%v, want=%v", got, tc.want)
			}
		})
	}
}

func TestOpenUnknownBus(t *testing.T) {
	defer func(f func() error) { hostInit = f }(hostInit)
	hostInit = func() error { return nil }

	_, err := Open(Binding{Bus: "usb"}, nil)
	if err == nil {
		t.Fatalf("expected an error")
	}

	hostInit = func() error { return io.ErrUnexpectedEOF }
	_, err = Open(Binding{}, nil)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("invalid host init error: %+v", err)
	}
}
