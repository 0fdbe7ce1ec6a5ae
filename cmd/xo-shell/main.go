// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xo-shell is an interactive console to a MachXO2 device.
//
// Example:
//
//	$> xo-shell -bus=i2c -dev=1
//	xo2> id
//	device: 0x012bb043 (LCMXO2-2000HC)
//	xo2> program ./bitstream.hex
//	xo2> quit
package main // import "github.com/go-lpc/machxo/cmd/xo-shell"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/go-lpc/machxo/internal/xocmd"
	"github.com/go-lpc/machxo/xo2"
	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("xo-shell: ")
	log.SetFlags(0)

	var (
		xf   = xocmd.NewFlags(flag.CommandLine)
		hist = flag.String("history", historyFile(), "path to the history file")
	)

	flag.Parse()

	dev, err := xf.Open("xo-shell", os.Stderr)
	if err != nil {
		log.Fatalf("could not open device: %+v", err)
	}
	defer dev.Close()

	err = run(dev, *hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func historyFile() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ".xo-shell_history")
}

func run(dev *xo2.Device, hist string) error {
	ln := liner.NewLiner()
	defer ln.Close()

	ln.SetCtrlCAborts(true)
	ln.SetCompleter(complete)

	if hist != "" {
		f, err := os.Open(hist)
		if err == nil {
			_, _ = ln.ReadHistory(f)
			f.Close()
		}
		defer func() {
			f, err := os.Create(hist)
			if err != nil {
				log.Printf("could not save history: %+v", err)
				return
			}
			defer f.Close()
			_, _ = ln.WriteHistory(f)
		}()
	}

	sh := newShell(dev, os.Stdout)
	for {
		line, err := ln.Prompt("xo2> ")
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println()
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)

		quit := sh.exec(line)
		if quit {
			return nil
		}
	}
}

// complete returns the command names starting with line.
func complete(line string) []string {
	if strings.ContainsAny(line, " \t") {
		return nil
	}
	var o []string
	for _, name := range append(xocmd.Names(), "quit") {
		if strings.HasPrefix(name, line) {
			o = append(o, name)
		}
	}
	return o
}

type shell struct {
	dev *xo2.Device
	w   io.Writer
}

func newShell(dev *xo2.Device, w io.Writer) *shell {
	return &shell{dev: dev, w: w}
}

// exec runs one command line and reports whether the shell should exit.
// Each command can be interrupted with Ctrl-C.
func (sh *shell) exec(line string) bool {
	args := strings.Fields(line)
	switch args[0] {
	case "quit", "exit":
		return true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := xocmd.Run(ctx, sh.dev, sh.w, args)
	if err != nil {
		fmt.Fprintf(sh.w, "error: %+v\n", err)
	}
	return false
}
