// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package machxo holds code to configure Lattice MachXO2 and MachXO3 FPGAs
// through their I2C or SPI configuration port.
//
// The bus package provides the transports, the xo2 package the
// configuration command set, the programming sequence and a tdaq
// run-control server.
package machxo // import "github.com/go-lpc/machxo"

import (
	"fmt"
	"runtime/debug"
)

const root = "github.com/go-lpc/machxo"

// Version returns the version of machxo and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}
	if b.Main.Path == root {
		return b.Main.Version, b.Main.Sum
	}

	for _, m := range b.Deps {
		if m.Path != root {
			continue
		}
		if r := m.Replace; r != nil {
			switch {
			case r.Version != "" && r.Path != "":
				return fmt.Sprintf("%s %s", r.Path, r.Version), r.Sum
			case r.Version != "":
				return r.Version, r.Sum
			case r.Path != "":
				return r.Path, r.Sum
			}
			return m.Version + "*", ""
		}
		return m.Version, m.Sum
	}
	return "", ""
}
