// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xo2

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// LoadResult summarizes a hex stream load.
type LoadResult struct {
	Pages     int // pages programmed
	Leftover  int // bytes of the incomplete page at the end of the stream
	Dropped   int // bytes of incomplete pages abandoned at a delimiter
	Excess    int // hex digits ignored past a full page
	Malformed int // unpaired hex digits
}

// LoadHex programs the configuration flash from a stream of hex digits.
//
// The configuration address is reset first. Any non-hex character is a
// delimiter: it closes the current run of digits, and an incomplete
// page within that run is abandoned. Each run of 32 digits fills one
// page, which is programmed immediately. Digits past that within the
// same run are ignored.
//
// A hex digit followed by a non-hex character is counted as malformed.
// That character then acts as a delimiter, so the lone digit is never
// stored as a byte of its own.
//
// The reader is not closed.
func (dev *Device) LoadHex(ctx context.Context, r io.Reader) (LoadResult, error) {
	err := dev.ResetConfigAddress()
	if err != nil {
		return LoadResult{}, err
	}
	return dev.load(ctx, r, dev.ProgramPage)
}

// LoadUFMHex programs the UFM from a stream of hex digits, with the
// same framing rules as LoadHex.
func (dev *Device) LoadUFMHex(ctx context.Context, r io.Reader) (LoadResult, error) {
	err := dev.ResetUFMAddress()
	if err != nil {
		return LoadResult{}, err
	}
	return dev.load(ctx, r, dev.ProgramUFMPage)
}

type progFunc func(ctx context.Context, p []byte) error

func (dev *Device) load(ctx context.Context, r io.Reader, prog progFunc) (LoadResult, error) {
	var (
		res LoadResult
		src = bufio.NewReader(r)
		buf [PageSize]byte
		cnt int // bytes in the current run, stays at PageSize until a delimiter

		excess bool
	)

	delim := func() {
		if cnt > 0 && cnt < PageSize {
			res.Dropped += cnt
			dev.debugf("dropping %d bytes of an incomplete page", cnt)
		}
		cnt = 0
		excess = false
	}

	for {
		c, err := src.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, fmt.Errorf("xo2: could not read hex stream: %w", err)
		}

		hi, ok := unhex(c)
		if !ok {
			delim()
			continue
		}

		if cnt >= PageSize {
			res.Excess++
			if !excess {
				dev.msg.Warnf("too many hex digits")
				excess = true
			}
			continue
		}

		c, err = src.ReadByte()
		if err == io.EOF {
			res.Malformed++
			dev.msg.Warnf("uneven number of hex digits")
			break
		}
		if err != nil {
			return res, fmt.Errorf("xo2: could not read hex stream: %w", err)
		}
		lo, ok := unhex(c)
		if !ok {
			res.Malformed++
			dev.msg.Warnf("uneven number of hex digits")
			delim()
			continue
		}

		buf[cnt] = hi<<4 | lo
		cnt++
		if cnt < PageSize {
			continue
		}

		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("xo2: load interrupted after %d pages: %w", res.Pages, err)
		}
		err = prog(ctx, buf[:])
		if err != nil {
			return res, fmt.Errorf("xo2: could not program page %d: %w", res.Pages, err)
		}
		res.Pages++
		dev.report(Progress{Phase: PhaseLoad, Pages: res.Pages})
	}

	if cnt < PageSize {
		res.Leftover = cnt
	}
	dev.msg.Infof("%d pages written", res.Pages)
	dev.msg.Infof("%d bytes left over", res.Leftover)
	return res, nil
}

func unhex(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
