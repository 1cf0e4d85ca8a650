// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/qlaiblab/qlaib/pkg/logging"
	"github.com/qlaiblab/qlaib/services/engine/live"
)

// Wire protocol kept compatible with the original instrument control
// clients. Commands are newline-terminated, one reply line per command:
//
//	GATHER DATA     reply with one report for the next processed chunk
//	STOP            stop acquisition and close the connection
//	EXPOSURE<sec>   set the chunk exposure, e.g. EXPOSURE2.5
//
// Clients wanting a continuous feed repeat GATHER DATA or use the
// websocket stream instead.
const (
	cmdGather   = "GATHER DATA"
	cmdStop     = "STOP"
	cmdExposure = "EXPOSURE"
)

const tcpWriteTimeout = 5 * time.Second

// TCPServer serves the line protocol on top of a live controller.
type TCPServer struct {
	ctrl *live.Controller
	log  *logging.Logger
}

// NewTCPServer returns a TCP control server over the controller.
func NewTCPServer(ctrl *live.Controller, log *logging.Logger) *TCPServer {
	return &TCPServer{ctrl: ctrl, log: log}
}

// Serve accepts connections until the listener closes or the context ends.
// Each connection is handled on its own goroutine.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *TCPServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := s.log.With("remote", conn.RemoteAddr().String())
	log.Info("control client connected")

	// A runaway client scripting commands in a tight loop gets throttled
	// rather than disconnected.
	lim := rate.NewLimiter(rate.Limit(20), 40)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				log.Info("control client disconnected")
				return
			}
			if err := lim.Wait(ctx); err != nil {
				return
			}
			switch {
			case line == cmdGather:
				if err := s.gather(ctx, conn, log); err != nil {
					return
				}
			case line == cmdStop:
				s.ctrl.Stop()
				log.Info("acquisition stopped by client")
				writeLine(conn, "Ending recording now.")
				return
			case strings.HasPrefix(line, cmdExposure):
				s.setExposure(conn, line, log)
			case line == "":
				// tolerate bare newlines
			default:
				log.Warn("unknown control command", "command", line)
				writeLine(conn, "Unknown command")
			}
		}
	}
}

// gather answers one GATHER DATA request with the report for the next
// processed chunk. Waiting for a fresh chunk rather than replaying the
// latest one preserves the request-then-measure shape of the original
// instrument protocol.
func (s *TCPServer) gather(ctx context.Context, conn net.Conn, log *logging.Logger) error {
	updates, cancel := s.ctrl.Subscribe()
	defer cancel()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case u, ok := <-updates:
		if !ok {
			writeLine(conn, "Ending recording now.")
			return errors.New("acquisition stopped")
		}
		return writeLine(conn, FormatReport(u.Result, s.ctrl.Pipeline().Labels()))
	}
}

func (s *TCPServer) setExposure(conn net.Conn, line string, log *logging.Logger) {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, cmdExposure)), 64)
	if err == nil {
		err = s.ctrl.SetExposure(seconds)
	}
	if err != nil {
		log.Warn("rejected exposure command", "command", line)
		writeLine(conn, "Invalid exposure time value.")
		return
	}
	log.Info("exposure updated", "seconds", seconds)
	writeLine(conn, fmt.Sprintf("Exposure time is %g s.", seconds))
}

func writeLine(conn net.Conn, line string) error {
	conn.SetWriteDeadline(time.Now().Add(tcpWriteTimeout))
	_, err := fmt.Fprintf(conn, "%s\n", line)
	return err
}
