// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xo2

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Phase is a step of Program.
type Phase int

const (
	PhaseEnable Phase = iota
	PhaseErase
	PhaseLoad
	PhaseDone
	PhaseRefresh
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseEnable:
		return "enable"
	case PhaseErase:
		return "erase"
	case PhaseLoad:
		return "load"
	case PhaseDone:
		return "done"
	case PhaseRefresh:
		return "refresh"
	case PhaseComplete:
		return "complete"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Progress describes the advance of Program.
type Progress struct {
	Phase   Phase
	Pages   int           // pages programmed so far
	Polls   int           // busy polls of the last wait
	Elapsed time.Duration // since the start of Program
}

func (dev *Device) report(p Progress) {
	if dev.cfg.progress == nil {
		return
	}
	if !dev.start.IsZero() {
		p.Elapsed = time.Since(dev.start)
	}
	dev.cfg.progress(p)
}

// Program runs the full configuration sequence from a hex stream:
//  1. enable offline configuration,
//  2. erase the memories selected by WithEraseFlags and wait,
//  3. load the hex stream into the configuration flash,
//  4. mark programming as done and wait,
//  5. refresh the user logic from flash.
func (dev *Device) Program(ctx context.Context, r io.Reader) (LoadResult, error) {
	dev.start = time.Now()
	defer func() { dev.start = time.Time{} }()

	var res LoadResult

	dev.report(Progress{Phase: PhaseEnable})
	err := dev.EnableConfigOffline()
	if err != nil {
		return res, err
	}

	dev.report(Progress{Phase: PhaseErase})
	err = dev.Erase(dev.cfg.erase)
	if err != nil {
		return res, err
	}
	n, err := dev.WaitBusy(ctx)
	if err != nil {
		return res, fmt.Errorf("xo2: could not erase %v: %w", dev.cfg.erase, err)
	}
	dev.debugf("erased %v after %d polls", dev.cfg.erase, n)

	dev.report(Progress{Phase: PhaseLoad, Polls: n})
	res, err = dev.LoadHex(ctx, r)
	if err != nil {
		return res, err
	}

	dev.report(Progress{Phase: PhaseDone, Pages: res.Pages})
	err = dev.ProgramDone()
	if err != nil {
		return res, err
	}
	n, err = dev.WaitBusy(ctx)
	if err != nil {
		return res, fmt.Errorf("xo2: could not complete programming: %w", err)
	}

	dev.report(Progress{Phase: PhaseRefresh, Pages: res.Pages, Polls: n})
	err = dev.Refresh()
	if err != nil {
		return res, err
	}

	dev.report(Progress{Phase: PhaseComplete, Pages: res.Pages})
	return res, nil
}
