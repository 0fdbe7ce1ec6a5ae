// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xo2

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-daq/tdaq"
	"golang.org/x/sync/errgroup"
)

// Board is a named device driven by a Server.
type Board struct {
	Name string
	Dev  *Device
}

// Server exposes a set of boards as a tdaq run-control node.
//
//   - /config programs every board from the hex file named in the request,
//   - /init reads the identity and status of every board,
//   - /reset wakes every configuration port,
//   - /start refreshes the user logic from flash,
//   - /stop leaves configuration mode,
//   - /quit releases the boards.
type Server struct {
	boards []Board
	pages  map[string]int
}

func NewServer(boards ...Board) *Server {
	return &Server{
		boards: boards,
		pages:  make(map[string]int, len(boards)),
	}
}

// Pages returns the number of pages programmed on the named board by
// the last /config command.
func (srv *Server) Pages(name string) int { return srv.pages[name] }

func (srv *Server) each(ctx tdaq.Context, op string, f func(brd Board) error) error {
	for _, brd := range srv.boards {
		err := f(brd)
		if err != nil {
			ctx.Msg.Errorf("could not %s board %q: %+v", op, brd.Name, err)
			return fmt.Errorf("could not %s board %q: %w", op, brd.Name, err)
		}
	}
	return nil
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
	fname := dec.ReadStr()
	if err := dec.Err(); err != nil {
		ctx.Msg.Errorf("could not decode /config request: %+v", err)
		return fmt.Errorf("could not decode /config request: %w", err)
	}

	res := make([]LoadResult, len(srv.boards))
	var grp errgroup.Group
	for i := range srv.boards {
		ii := i
		brd := srv.boards[ii]
		grp.Go(func() error {
			f, err := os.Open(fname)
			if err != nil {
				return fmt.Errorf("could not open hex file: %w", err)
			}
			defer f.Close()

			res[ii], err = brd.Dev.Program(ctx.Ctx, f)
			if err != nil {
				ctx.Msg.Errorf("could not program board %q: %+v", brd.Name, err)
				return fmt.Errorf("could not program board %q: %w", brd.Name, err)
			}
			return nil
		})
	}
	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not configure boards with %q: %w", fname, err)
	}

	buf := new(bytes.Buffer)
	enc := tdaq.NewEncoder(buf)
	enc.WriteU32(uint32(len(srv.boards)))
	for i, brd := range srv.boards {
		srv.pages[brd.Name] = res[i].Pages
		ctx.Msg.Infof("board %q: %d pages written, %d bytes left over", brd.Name, res[i].Pages, res[i].Leftover)
		enc.WriteStr(brd.Name)
		enc.WriteU32(uint32(res[i].Pages))
	}
	resp.Body = buf.Bytes()

	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	return srv.each(ctx, "initialize", func(brd Board) error {
		id, err := brd.Dev.ReadDeviceID()
		if err != nil {
			return err
		}
		st, err := brd.Dev.ReadStatus()
		if err != nil {
			return err
		}
		ctx.Msg.Infof("board %q: device=%v status=%v", brd.Name, id, st)
		if st.Fail() {
			return fmt.Errorf("device reports a configuration failure (status=%v)", st)
		}
		return nil
	})
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	return srv.each(ctx, "wake", func(brd Board) error {
		return brd.Dev.Wake()
	})
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	return srv.each(ctx, "refresh", func(brd Board) error {
		return brd.Dev.Refresh()
	})
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	return srv.each(ctx, "disable configuration of", func(brd Board) error {
		return brd.Dev.DisableConfig()
	})
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	var err error
	for _, brd := range srv.boards {
		e := brd.Dev.Close()
		if e != nil && err == nil {
			ctx.Msg.Errorf("could not close board %q: %+v", brd.Name, e)
			err = fmt.Errorf("could not close board %q: %w", brd.Name, e)
		}
	}
	return err
}
