// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xo-srv starts a TDAQ server programming a set of MachXO2 boards.
//
// The boards are described by a JSON file, named by the first argument,
// the $XO2_BOARDS environment variable, or /etc/xo2/boards.json:
//
//	[
//	  {"name": "feb-0", "bus": "i2c", "dev": "1", "addr": 64},
//	  {"name": "feb-1", "bus": "spi", "dev": "SPI0.0", "cs": "GPIO8", "freq": "4MHz"}
//	]
package main // import "github.com/go-lpc/machxo/cmd/xo-srv"

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/machxo/bus"
	"github.com/go-lpc/machxo/xo2"
)

const defaultBoards = "/etc/xo2/boards.json"

func main() {
	cmd := flags.New()

	fname := boardsFile(cmd.Args)
	bindings, err := loadBoards(fname)
	if err != nil {
		log.Panicf("could not load boards from %q: %+v", fname, err)
	}

	boards, err := openBoards(bindings, os.Stdout)
	if err != nil {
		log.Panicf("could not open boards: %+v", err)
	}

	dev := xo2.NewServer(boards...)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func boardsFile(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	if v := os.Getenv("XO2_BOARDS"); v != "" {
		return v
	}
	return defaultBoards
}

func loadBoards(fname string) ([]bus.Binding, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("could not open boards file: %w", err)
	}
	defer f.Close()

	var bindings []bus.Binding
	err = json.NewDecoder(f).Decode(&bindings)
	if err != nil {
		return nil, fmt.Errorf("could not decode boards file: %w", err)
	}
	if len(bindings) == 0 {
		return nil, fmt.Errorf("no board in %q", fname)
	}

	names := make(map[string]int, len(bindings))
	for i, b := range bindings {
		if b.Name == "" {
			return nil, fmt.Errorf("board #%d has no name", i)
		}
		if j, dup := names[b.Name]; dup {
			return nil, fmt.Errorf("board #%d and #%d share name %q", j, i, b.Name)
		}
		names[b.Name] = i
	}
	return bindings, nil
}

var openBus = bus.Open

func openBoards(bindings []bus.Binding, w io.Writer) ([]xo2.Board, error) {
	boards := make([]xo2.Board, 0, len(bindings))
	for _, b := range bindings {
		msg := tlog.NewMsgStream("xo2-"+b.Name, tlog.LvlInfo, w)
		x, err := openBus(b, msg)
		if err != nil {
			for _, brd := range boards {
				_ = brd.Dev.Close()
			}
			return nil, fmt.Errorf("could not open board %q: %w", b.Name, err)
		}
		dev, err := xo2.New(x, xo2.WithLogger(msg))
		if err != nil {
			return nil, fmt.Errorf("could not create board %q: %w", b.Name, err)
		}
		boards = append(boards, xo2.Board{Name: b.Name, Dev: dev})
	}
	return boards, nil
}
