// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xo2

import (
	"context"
	"fmt"
	"time"
)

// IsBusy reports whether the device is still executing a command.
func (dev *Device) IsBusy() (bool, error) {
	r, err := dev.xfer("check busy flag", []byte{opCheckBusy, 0, 0, 0}, 1)
	if err != nil {
		return false, err
	}
	return r[0]&0x80 != 0, nil
}

// WaitBusy polls the busy flag until it clears and returns the number
// of polls that found the device busy.
//
// The wait is bounded by WithMaxPolls and WithBusyTimeout, and by ctx.
// Cancellation is checked between polls.
func (dev *Device) WaitBusy(ctx context.Context) (int, error) {
	if dev.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dev.cfg.timeout)
		defer cancel()
	}

	var (
		n     int
		start = time.Now()
	)
	for {
		busy, err := dev.IsBusy()
		if err != nil {
			return n, err
		}
		if !busy {
			break
		}
		n++

		if max := dev.cfg.maxPolls; max > 0 && n >= max {
			return n, fmt.Errorf("xo2: device still busy after %d polls: %w", n, ErrTimeout)
		}

		if dev.cfg.interval > 0 {
			tick := time.NewTimer(dev.cfg.interval)
			select {
			case <-ctx.Done():
				tick.Stop()
				return n, dev.waitErr(ctx, n)
			case <-tick.C:
			}
			continue
		}
		if ctx.Err() != nil {
			return n, dev.waitErr(ctx, n)
		}
	}

	if n > 0 {
		dev.debugf("busy-wait: %d polls in %v", n, time.Since(start))
	}
	return n, nil
}

func (dev *Device) waitErr(ctx context.Context, n int) error {
	err := ctx.Err()
	if err == context.DeadlineExceeded {
		return fmt.Errorf("xo2: device still busy after %d polls: %w (%v)", n, ErrTimeout, err)
	}
	return fmt.Errorf("xo2: busy-wait interrupted after %d polls: %w", n, err)
}
