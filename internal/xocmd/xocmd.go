// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xocmd dispatches textual commands to a MachXO2 device.
package xocmd // import "github.com/go-lpc/machxo/internal/xocmd"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/machxo/xo2"
)

// ErrUnknown is returned for a command name not in the command set.
var ErrUnknown = errors.New("xocmd: unknown command")

type command struct {
	args string
	help string
	narg [2]int // min and max number of arguments
	run  func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error
}

var cmds map[string]command

func init() {
	cmds = map[string]command{
		"id": {
			help: "read the device ID",
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				id, err := dev.ReadDeviceID()
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "device: %v\n", id)
				return nil
			},
		},
		"usercode": {
			help: "read the user code",
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				v, err := dev.ReadUserCode()
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "usercode: 0x%08x\n", v)
				return nil
			},
		},
		"status": {
			help: "read the status register",
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				st, err := dev.ReadStatus()
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "status: %v\n", st)
				return nil
			},
		},
		"features": {
			help: "read the feature bits",
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				v, err := dev.ReadFeatureBits()
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "features: [% x]\n", v[:])
				return nil
			},
		},
		"feature-row": {
			help: "read the feature row",
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				v, err := dev.ReadFeatureRow()
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "feature-row: [% x]\n", v[:])
				return nil
			},
		},
		"otp": {
			help: "read the one-time-programmable fuses",
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				v, err := dev.ReadOTP()
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "otp: 0x%02x\n", v)
				return nil
			},
		},
		"read-flash": {
			args: "[PAGE]",
			help: "read a configuration flash page",
			narg: [2]int{0, 1},
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				if len(args) == 1 {
					page, err := parsePage(args[0])
					if err != nil {
						return err
					}
					err = dev.SetConfigAddress(page)
					if err != nil {
						return err
					}
				}
				p, err := dev.ReadFlash()
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "flash: [% x]\n", p[:])
				return nil
			},
		},
		"read-ufm": {
			args: "[PAGE]",
			help: "read a UFM page",
			narg: [2]int{0, 1},
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				if len(args) == 1 {
					page, err := parsePage(args[0])
					if err != nil {
						return err
					}
					err = dev.SetUFMAddress(page)
					if err != nil {
						return err
					}
				}
				p, err := dev.ReadUFM()
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "ufm: [% x]\n", p[:])
				return nil
			},
		},
		"erase": {
			args: "[sram|feature|flash|ufm...]",
			help: "erase memories (default: flash)",
			narg: [2]int{0, 4},
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				flags := xo2.EraseConfigFlash
				if len(args) > 0 {
					var err error
					flags, err = xo2.ParseEraseFlags(args...)
					if err != nil {
						return err
					}
				}
				return dev.Erase(flags)
			},
		},
		"erase-ufm": {
			help: "erase the UFM",
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				return dev.EraseUFM()
			},
		},
		"enable": {
			args: "[offline|transparent]",
			help: "enter configuration mode (default: offline)",
			narg: [2]int{0, 1},
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				mode := "offline"
				if len(args) == 1 {
					mode = args[0]
				}
				switch mode {
				case "offline":
					return dev.EnableConfigOffline()
				case "transparent":
					return dev.EnableConfigTransparent()
				}
				return fmt.Errorf("xocmd: invalid configuration mode %q", mode)
			},
		},
		"disable": {
			help: "leave configuration mode",
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				return dev.DisableConfig()
			},
		},
		"reset-addr": {
			help: "reset the configuration address",
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				return dev.ResetConfigAddress()
			},
		},
		"reset-ufm-addr": {
			help: "reset the UFM address",
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				return dev.ResetUFMAddress()
			},
		},
		"set-addr": {
			args: "PAGE",
			help: "set the configuration address",
			narg: [2]int{1, 1},
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				page, err := parsePage(args[0])
				if err != nil {
					return err
				}
				return dev.SetConfigAddress(page)
			},
		},
		"set-ufm-addr": {
			args: "PAGE",
			help: "set the UFM address",
			narg: [2]int{1, 1},
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				page, err := parsePage(args[0])
				if err != nil {
					return err
				}
				return dev.SetUFMAddress(page)
			},
		},
		"wait": {
			help: "wait for the busy flag to clear",
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				n, err := dev.WaitBusy(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "busy polls: %d\n", n)
				return nil
			},
		},
		"load": {
			args: "FILE",
			help: "load a hex file into the configuration flash",
			narg: [2]int{1, 1},
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				return load(ctx, w, args[0], dev.LoadHex)
			},
		},
		"load-ufm": {
			args: "FILE",
			help: "load a hex file into the UFM",
			narg: [2]int{1, 1},
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				return load(ctx, w, args[0], dev.LoadUFMHex)
			},
		},
		"program": {
			args: "FILE",
			help: "run the full programming sequence from a hex file",
			narg: [2]int{1, 1},
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				return load(ctx, w, args[0], dev.Program)
			},
		},
		"done": {
			help: "mark the configuration flash as programmed",
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				return dev.ProgramDone()
			},
		},
		"refresh": {
			help: "reload the user logic from flash",
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				return dev.Refresh()
			},
		},
		"wake": {
			help: "send the no-op wake frame",
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				return dev.Wake()
			},
		},
		"help": {
			help: "print this help message",
			narg: [2]int{0, 1},
			run: func(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
				Usage(w)
				return nil
			},
		},
	}
}

// Names returns the sorted list of command names.
func Names() []string {
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Usage writes a one-line description of each command to w.
func Usage(w io.Writer) {
	for _, name := range Names() {
		cmd := cmds[name]
		use := strings.TrimSpace(name + " " + cmd.args)
		fmt.Fprintf(w, "  %-36s %s\n", use, cmd.help)
	}
}

// Run executes the command args[0] with arguments args[1:].
func Run(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("xocmd: missing command name")
	}
	name := args[0]
	cmd, ok := cmds[name]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknown, name)
	}
	args = args[1:]
	if n := len(args); n < cmd.narg[0] || n > cmd.narg[1] {
		return fmt.Errorf("xocmd: invalid number of arguments for %q (got=%d)\nusage: %s %s",
			name, n, name, cmd.args,
		)
	}
	return cmd.run(ctx, dev, w, args)
}

func parsePage(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("xocmd: could not parse page %q: %w", s, err)
	}
	return uint16(v), nil
}

func load(ctx context.Context, w io.Writer, fname string, f func(context.Context, io.Reader) (xo2.LoadResult, error)) error {
	r, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("xocmd: could not open hex file: %w", err)
	}
	defer r.Close()

	res, err := f(ctx, r)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %d pages (leftover=%d dropped=%d excess=%d malformed=%d)\n",
		fname, res.Pages, res.Leftover, res.Dropped, res.Excess, res.Malformed,
	)
	return nil
}
