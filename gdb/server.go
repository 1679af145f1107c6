// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gdb implements the target side of the GDB remote serial protocol.
//
// A Server accepts one debugger session at a time and translates protocol
// packets into calls on a Handler, which owns the actual target state. The
// server never touches memory or registers itself.
package gdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
)

// DefaultPort is the TCP port a server listens on when none is configured.
const DefaultPort = 1234

// Errors
var (
	// ErrTargetExited should be returned by Handler.Step when the target can
	// no longer execute.
	ErrTargetExited = errors.New("gdb: target exited")

	// ErrServerClosed is returned by Serve after Close has been called.
	ErrServerClosed = errors.New("gdb: server closed")
)

// The Handler interface is implemented by debug targets. Its methods are
// called from the session goroutine.
type Handler interface {
	// Connected is called when a session starts.
	Connected()

	// Disconnected is called when a session ends.
	Disconnected()

	// Start resumes continuous execution.
	Start()

	// Stop halts execution.
	Stop()

	// Step executes exactly one step and returns once it has completed.
	Step(ctx context.Context) error

	// SetBreakpoint adds a breakpoint. Setting an existing breakpoint does
	// nothing.
	SetBreakpoint(addr uint64)

	// ClearBreakpoint removes a breakpoint. Clearing an absent breakpoint
	// does nothing.
	ClearBreakpoint(addr uint64)

	// GetMemory returns length bytes of memory at addr as hex.
	GetMemory(addr uint64, length int) string

	// SetMemory stores bytes at addr.
	SetMemory(addr uint64, data []byte)

	// GetRegisterValue returns register n as hex.
	GetRegisterValue(n int) string

	// GetGeneralRegisters returns every register as hex, in order.
	GetGeneralRegisters() string
}

// Config holds a server's optional settings.
type Config struct {
	TargetXML    string      // target description; DefaultTargetXML if empty
	MemoryMapXML string      // memory map; DefaultMemoryMapXML if empty
	Logger       *zap.Logger // nil for no logging
}

// A Server serves the remote protocol for a single Handler.
type Server struct {
	handler   Handler
	targetXML string
	memMapXML string
	log       *zap.Logger

	slot chan struct{} // held by the active session

	mu      sync.Mutex
	ln      net.Listener
	active  *session
	closed  bool
	exited  bool
	exitSig string
}

// NewServer creates a server for the handler.
func NewServer(h Handler, cfg Config) *Server {
	s := &Server{
		handler:   h,
		targetXML: cfg.TargetXML,
		memMapXML: cfg.MemoryMapXML,
		log:       cfg.Logger,
		slot:      make(chan struct{}, 1),
	}
	if s.targetXML == "" {
		s.targetXML = DefaultTargetXML
	}
	if s.memMapXML == "" {
		s.memMapXML = DefaultMemoryMapXML
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Listen opens a TCP listener on addr. An error here means the server can't
// be initialized.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gdb: listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("listening", zap.Stringer("addr", ln.Addr()))
	return nil
}

// Addr returns the listener's address, or nil if the server isn't
// listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections on the listener opened by Listen and serves
// them one at a time until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("gdb: server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.isClosed() {
				return ErrServerClosed
			}
			return fmt.Errorf("gdb: accept: %w", err)
		}

		s.log.Info("connection accepted", zap.Stringer("remote", conn.RemoteAddr()))
		if err := s.ServeConn(ctx, conn); err != nil && ctx.Err() == nil {
			s.log.Warn("session ended", zap.Error(err))
		}
	}
}

// ServeConn runs a session over an established connection and returns when
// the session ends. If another session is active, ServeConn waits for it to
// finish first. The connection is closed on return.
func (s *Server) ServeConn(ctx context.Context, rwc io.ReadWriteCloser) error {
	defer rwc.Close()

	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.slot }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { rwc.Close() })
	defer stop()

	sess := newSession(s, rwc)

	s.mu.Lock()
	s.active = sess
	if s.exited {
		sess.exited = true
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
	}()

	return sess.run(ctx)
}

// BreakpointHit tells the active session's client that the target stopped
// at a breakpoint. It does nothing if no session is active.
func (s *Server) BreakpointHit() {
	s.notify(stopBreakpoint)
}

// Exited tells the active session's client that the target has exited with
// the status code. Sessions started afterwards see the exit as well. Exited
// returns once the active session has delivered the reply, so the caller
// may shut the server down right away.
func (s *Server) Exited(code int) {
	sig := fmt.Sprintf("W%02x", byte(code))
	s.mu.Lock()
	s.exited = true
	s.exitSig = sig
	sess := s.active
	s.mu.Unlock()

	if sess == nil {
		return
	}
	done := make(chan struct{})
	if !sess.notify(stopEvent{reply: sig, done: done}) {
		return
	}
	select {
	case <-done:
	case <-sess.done:
	}
}

func (s *Server) notify(reply string) {
	s.mu.Lock()
	sess := s.active
	s.mu.Unlock()
	if sess != nil {
		sess.notify(stopEvent{reply: reply})
	}
}

func (s *Server) exitReply() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exitSig == "" {
		return "W00"
	}
	return s.exitSig
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the listener. An active session is not interrupted; cancel
// the context passed to Serve to end it.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}
