// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xo2 drives the configuration interface of Lattice MachXO2
// and MachXO3 devices.
//
// A Device issues the fixed command frames of the configuration
// protocol over a bus.Exchanger, walks the device through its
// configuration sequence (enable, erase, program, done, refresh) and
// streams raw hex digits into 16-byte program pages.
//
// A Device is not safe for concurrent use.
package xo2 // import "github.com/go-lpc/machxo/xo2"

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-lpc/machxo/bus"
)

// PageSize is the size of a configuration flash or UFM page.
const PageSize = 16

var (
	ErrTimeout  = errors.New("xo2: busy-wait timeout")
	ErrPageSize = errors.New("xo2: invalid page size")
)

// Device is a MachXO configuration interface.
type Device struct {
	bus   bus.Exchanger
	cfg   config
	msg   Logger
	state State

	page  [4 + PageSize]byte
	start time.Time // of the running Program, if any
}

// New returns a device talking through x.
func New(x bus.Exchanger, opts ...Option) (*Device, error) {
	if x == nil {
		return nil, fmt.Errorf("xo2: no transport: %w", bus.ErrNoBus)
	}
	cfg := newConfig(opts)
	return &Device{
		bus: x,
		cfg: cfg,
		msg: cfg.msg,
	}, nil
}

// Close releases the transport, if it owns host resources.
func (dev *Device) Close() error {
	c, ok := dev.bus.(io.Closer)
	if !ok {
		return nil
	}
	err := c.Close()
	if err != nil {
		return fmt.Errorf("xo2: could not close transport: %w", err)
	}
	return nil
}

// Kind returns the binding of the underlying transport.
func (dev *Device) Kind() bus.Kind { return dev.bus.Kind() }

// State returns the last configuration step performed.
func (dev *Device) State() State { return dev.state }

func (dev *Device) debugf(format string, args ...interface{}) {
	if !dev.cfg.verbose {
		return
	}
	dev.msg.Debugf(format, args...)
}

func (dev *Device) xfer(op string, w []byte, n int) ([]byte, error) {
	r, err := dev.bus.Exchange(w, n)
	if err != nil {
		return nil, fmt.Errorf("xo2: could not %s: %w", op, err)
	}
	if len(r) != n {
		return nil, fmt.Errorf("xo2: could not %s: short reply (got=%d, want=%d)", op, len(r), n)
	}
	return r, nil
}

// cmd sends a frame without reply and records the resulting state.
func (dev *Device) cmd(op string, st State, w []byte) error {
	_, err := dev.xfer(op, w, 0)
	if err != nil {
		return err
	}
	dev.debugf("%s: [% x]", op, w)
	if st != noState {
		dev.state = st
	}
	return nil
}

func (dev *Device) read(op string, w []byte, n int) ([]byte, error) {
	r, err := dev.xfer(op, w, n)
	if err != nil {
		return nil, err
	}
	dev.debugf("%s: [% x] -> [% x]", op, w, r)
	return r, nil
}

// State is a step of the configuration sequence.
// Transitions are recorded as operations succeed, never enforced.
type State int

const (
	noState State = iota - 1

	Idle
	ConfigEnabled
	ConfigDisabled
	Erasing
	AddressReset
	Programming
	Done
	Refreshed
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case ConfigEnabled:
		return "config-enabled"
	case ConfigDisabled:
		return "config-disabled"
	case Erasing:
		return "erasing"
	case AddressReset:
		return "address-reset"
	case Programming:
		return "programming"
	case Done:
		return "done"
	case Refreshed:
		return "refreshed"
	}
	return fmt.Sprintf("State(%d)", int(st))
}
