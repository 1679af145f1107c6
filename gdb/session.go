// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gdb

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Stop replies.
const (
	stopBreakpoint = "S05" // SIGTRAP
	stopInterrupt  = "S02" // SIGINT
)

var errDetach = errors.New("gdb: client detached")

// A session serves a single client connection.
type session struct {
	server  *Server
	handler Handler
	log     *zap.Logger
	r       *bufio.Reader

	wmu sync.Mutex
	w   io.Writer

	noAck   atomic.Bool
	stops   chan stopEvent
	done    chan struct{}
	running bool // a continue is outstanding and awaits a stop reply
	exited  bool
	last    []byte // last packet sent, for retransmission on nak
}

func newSession(s *Server, rwc io.ReadWriter) *session {
	return &session{
		server:  s,
		handler: s.handler,
		log:     s.log,
		r:       bufio.NewReader(rwc),
		w:       rwc,
		stops:   make(chan stopEvent, 4),
		done:    make(chan struct{}),
	}
}

// A stopEvent carries an asynchronous stop reply to the session. If done is
// not nil, it is closed once the session has handled the reply.
type stopEvent struct {
	reply string
	done  chan struct{}
}

// notify queues an asynchronous stop reply. It never blocks, and returns
// false if the reply had to be dropped.
func (s *session) notify(ev stopEvent) bool {
	select {
	case s.stops <- ev:
		return true
	default:
		s.log.Warn("dropped stop notification", zap.String("reply", ev.reply))
		return false
	}
}

func (s *session) run(ctx context.Context) error {
	events := make(chan event)
	errc := make(chan error, 1)
	go s.readLoop(events, errc)
	defer close(s.done)

	s.handler.Connected()
	defer s.handler.Disconnected()

	for {
		select {
		case ev := <-events:
			if err := s.handleEvent(ctx, ev); err != nil {
				if err == errDetach {
					return nil
				}
				return err
			}

		case ev := <-s.stops:
			err := s.stopped(ev.reply)
			if ev.done != nil {
				close(ev.done)
			}
			if err != nil {
				return err
			}

		case err := <-errc:
			if err == io.EOF {
				return nil
			}
			return err

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// stopped delivers a stop reply to a client waiting on a continue.
func (s *session) stopped(reply string) error {
	if reply[0] == 'W' {
		s.exited = true
	}
	if !s.running {
		return nil
	}
	s.running = false
	return s.send(reply)
}

// readLoop decodes client events. Packets are acknowledged here, before
// they are handed to the session, so an ack always precedes the reply.
func (s *session) readLoop(events chan<- event, errc chan<- error) {
	for {
		ev, err := readEvent(s.r)
		if err != nil {
			errc <- err
			return
		}

		switch ev.kind {
		case eventAck:
			continue
		case eventPacket:
			if !s.noAck.Load() {
				if err := s.write([]byte{charAck}); err != nil {
					errc <- err
					return
				}
			}
		case eventBadPacket:
			s.log.Debug("bad checksum")
			if !s.noAck.Load() {
				if err := s.write([]byte{charNak}); err != nil {
					errc <- err
					return
				}
			}
			continue
		}

		select {
		case events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *session) handleEvent(ctx context.Context, ev event) error {
	switch ev.kind {
	case eventNak:
		if s.last != nil {
			return s.write(s.last)
		}
		return nil

	case eventInterrupt:
		if s.running {
			s.handler.Stop()
			s.running = false
			return s.send(stopInterrupt)
		}
		return nil

	case eventPacket:
		s.log.Debug("packet", zap.String("payload", ev.payload))
		return s.dispatch(ctx, ev.payload)
	}
	return nil
}

func (s *session) dispatch(ctx context.Context, p string) error {
	if p == "" {
		return s.send("")
	}

	switch p[0] {
	case 'q':
		return s.query(p)

	case 'Q':
		if p == "QStartNoAckMode" {
			s.noAck.Store(true)
			return s.send("OK")
		}
		return s.send("")

	case '?':
		if s.exited {
			return s.send(s.server.exitReply())
		}
		return s.send(stopBreakpoint)

	case 'H':
		return s.send("OK")

	case 'g':
		return s.send(s.handler.GetGeneralRegisters())

	case 'p':
		n, err := strconv.ParseUint(p[1:], 16, 32)
		if err != nil {
			return s.send("E01")
		}
		return s.send(s.handler.GetRegisterValue(int(n)))

	case 'm':
		addr, length, err := parseAddrLen(p[1:])
		if err != nil {
			return s.send("E01")
		}
		// Lengths too large for an int are unsupported, like any other
		// length the handler has no view for.
		if length > math.MaxInt32 {
			length = 0
		}
		return s.send(s.handler.GetMemory(addr, int(length)))

	case 'M':
		return s.writeMemory(p[1:])

	case 'Z', 'z':
		return s.breakpoint(p)

	case 'c':
		if s.exited {
			return s.send(s.server.exitReply())
		}
		s.handler.Start()
		s.running = true
		return nil

	case 's':
		if s.exited {
			return s.send(s.server.exitReply())
		}
		err := s.handler.Step(ctx)
		switch {
		case errors.Is(err, ErrTargetExited):
			s.exited = true
			return s.send(s.server.exitReply())
		case err != nil:
			return err
		}
		return s.send(stopBreakpoint)

	case 'D':
		if err := s.send("OK"); err != nil {
			return err
		}
		return errDetach

	case 'k':
		return errDetach

	default:
		return s.send("")
	}
}

func (s *session) query(p string) error {
	switch {
	case strings.HasPrefix(p, "qSupported"):
		return s.send(supportedFeatures)

	case p == "qAttached":
		return s.send("1")

	case p == "qC":
		return s.send("QC1")

	case strings.HasPrefix(p, "qXfer:features:read:"):
		annex, args, ok := strings.Cut(strings.TrimPrefix(p, "qXfer:features:read:"), ":")
		if !ok || annex != "target.xml" {
			return s.send("E00")
		}
		return s.xfer(s.server.targetXML, args)

	case strings.HasPrefix(p, "qXfer:memory-map:read:"):
		_, args, ok := strings.Cut(strings.TrimPrefix(p, "qXfer:memory-map:read:"), ":")
		if !ok {
			return s.send("E00")
		}
		return s.xfer(s.server.memMapXML, args)

	default:
		return s.send("")
	}
}

func (s *session) xfer(doc, args string) error {
	chunk, err := xferChunk(doc, args)
	if err != nil {
		return s.send("E01")
	}
	return s.send(chunk)
}

func (s *session) writeMemory(args string) error {
	head, data, ok := strings.Cut(args, ":")
	if !ok {
		return s.send("E01")
	}
	addr, length, err := parseAddrLen(head)
	if err != nil {
		return s.send("E01")
	}
	b, err := decodeHexBytes(data)
	if err != nil || uint64(len(b)) != length {
		return s.send("E01")
	}
	s.handler.SetMemory(addr, b)
	return s.send("OK")
}

func (s *session) breakpoint(p string) error {
	fields := strings.Split(p[1:], ",")
	if len(fields) < 2 {
		return s.send("E01")
	}

	// Only software breakpoints are supported.
	if fields[0] != "0" {
		return s.send("")
	}

	addr, err := parseHex(fields[1])
	if err != nil {
		return s.send("E01")
	}

	if p[0] == 'Z' {
		s.handler.SetBreakpoint(addr)
	} else {
		s.handler.ClearBreakpoint(addr)
	}
	return s.send("OK")
}

func (s *session) send(payload string) error {
	b := Encode(payload)
	s.last = b
	return s.write(b)
}

func (s *session) write(b []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.w.Write(b)
	return err
}
