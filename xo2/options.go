// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xo2

import (
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
)

// Logger is the diagnostics sink of a Device.
// github.com/go-daq/tdaq/log.MsgStream implements it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// DefaultBusyTimeout bounds a busy-wait when no other bound is given.
const DefaultBusyTimeout = 10 * time.Second

type config struct {
	msg      Logger
	verbose  bool
	timeout  time.Duration
	maxPolls int
	interval time.Duration
	progress func(Progress)
	erase    EraseFlags
}

// Option configures a Device.
type Option func(*config)

func newConfig(opts []Option) config {
	cfg := config{
		timeout: DefaultBusyTimeout,
		erase:   EraseConfigFlash,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.msg == nil {
		lvl := log.LvlInfo
		if cfg.verbose {
			lvl = log.LvlDebug
		}
		cfg.msg = log.NewMsgStream("xo2", lvl, os.Stdout)
	}
	return cfg
}

// WithLogger sets the diagnostics sink.
func WithLogger(msg Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithVerbose enables per-command debug messages.
func WithVerbose(v bool) Option {
	return func(cfg *config) {
		cfg.verbose = v
	}
}

// WithBusyTimeout bounds the wall-clock duration of a busy-wait.
// A zero duration disables the bound.
func WithBusyTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// WithMaxPolls bounds the number of busy checks of a busy-wait.
// Zero means no bound.
func WithMaxPolls(n int) Option {
	return func(cfg *config) {
		if n >= 0 {
			cfg.maxPolls = n
		}
	}
}

// WithPollInterval sets the pause between two busy checks.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *config) {
		cfg.interval = d
	}
}

// WithProgress sets a callback invoked at each phase of Program and
// after each programmed page.
func WithProgress(f func(Progress)) Option {
	return func(cfg *config) {
		cfg.progress = f
	}
}

// WithEraseFlags selects the memories erased by Program.
func WithEraseFlags(flags EraseFlags) Option {
	return func(cfg *config) {
		cfg.erase = flags
	}
}
