// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command xo-prog runs one configuration command on a MachXO2 device.
//
// Usage: xo-prog [options] <command> [args...]
//
// Example:
//
//	$> xo-prog -bus=i2c -dev=1 id
//	$> xo-prog -bus=spi -cs=GPIO8 -freq=4MHz program ./bitstream.hex
//	$> xo-prog -bus=bitbang -gpiomem -cs=8 -sck=11 -mosi=10 -miso=9 status
package main // import "github.com/go-lpc/machxo/cmd/xo-prog"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/go-lpc/machxo"
	"github.com/go-lpc/machxo/internal/xocmd"
	"github.com/go-lpc/machxo/xo2"
)

func main() {
	log.SetPrefix("xo-prog: ")
	log.SetFlags(0)

	var (
		xf   = xocmd.NewFlags(flag.CommandLine)
		vers = flag.Bool("version", false, "print version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: xo-prog [options] <command> [args...]\n\nCommands:\n")
		xocmd.Usage(os.Stderr)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *vers {
		v, sum := machxo.Version()
		fmt.Printf("xo-prog %s %s\n", v, sum)
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing command name")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dev, err := xf.Open("xo-prog", os.Stderr)
	if err != nil {
		log.Fatalf("could not open device: %+v", err)
	}

	err = run(ctx, dev, os.Stdout, flag.Args())
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(ctx context.Context, dev *xo2.Device, w io.Writer, args []string) error {
	err := xocmd.Run(ctx, dev, w, args)
	if err != nil {
		_ = dev.Close()
		return fmt.Errorf("could not run %q: %w", args[0], err)
	}

	err = dev.Close()
	if err != nil {
		return fmt.Errorf("could not close device: %w", err)
	}
	return nil
}
