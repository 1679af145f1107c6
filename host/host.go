// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package host allows you to create a "host" that runs a co-simulation: a
// clocked hardware model connected through a bus bridge to a sparse 64-bit
// memory, with a remote debug server and an optional interactive console
// attached to the same memory image.
//
// The host owns a single control loop goroutine, which is the only code
// that touches the bridge and the model. Remote sessions and the console
// reach the loop only through the debugger's run control.
package host

import (
	"bufio"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/beevik/cosim/bridge"
	"github.com/beevik/cosim/debugger"
	"github.com/beevik/cosim/gdb"
	"github.com/beevik/cosim/memory"
	"github.com/beevik/cosim/model"
	"github.com/beevik/cosim/status"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrQuit is returned by a console command that ends the console.
var ErrQuit = errors.New("quit")

// errFinished ends Serve once the target has exited.
var errFinished = errors.New("target finished")

// Config holds the host's startup configuration.
type Config struct {
	Addr      string      // remote debug TCP address; empty disables TCP
	Serial    string      // serial device for remote debugging, or empty
	Baud      int         // serial baud rate
	WebSocket string      // websocket listen address, or empty
	Health    string      // gRPC health listen address, or empty
	Steps     int         // step budget; zero or less means unlimited
	WarmUp    uint64      // reset half-cycles; zero selects bridge.DefaultWarmUp
	Boot      []uint64    // boot image loaded at BootAddr; nil selects DefaultBootImage
	Wait      bool        // hold the loop until a client attaches
	Linger    bool        // keep serving after the target exits
	Logger    *zap.Logger // nil selects a no-op logger
}

// A Host represents a co-simulation and the tools attached to it.
type Host struct {
	cfg      Config
	log      *zap.Logger
	mem      *memory.SparseMemory
	model    model.Model
	bridge   *bridge.Bridge
	debugger *debugger.Debugger
	server   *gdb.Server
	health   *status.Service
	stats    *busStats
	halted   chan struct{} // signaled when a console run stops
	running  atomic.Bool   // a console run is in progress

	// Console state
	ctx         context.Context
	outMu       sync.Mutex
	input       *bufio.Scanner
	output      *bufio.Writer
	interactive bool
	lastCmd     *selection
	exprParser  *exprParser
	settings    *settings
}

// New creates a host driving the model.
func New(cfg Config, m model.Model) *Host {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	h := &Host{
		cfg:        cfg,
		log:        log.Named("host"),
		model:      m,
		stats:      newBusStats(),
		halted:     make(chan struct{}, 1),
		ctx:        context.Background(),
		exprParser: newExprParser(),
		settings:   newSettings(),
	}

	// Create the memory and load the boot image.
	h.mem = memory.NewSparseMemory(log.Named("memory"))
	boot := cfg.Boot
	if boot == nil {
		boot = DefaultBootImage
	}
	h.mem.LoadWords(BootAddr, boot)

	// Connect the model to the memory.
	h.bridge = bridge.New(m, h.mem, log.Named("bridge"))
	if cfg.WarmUp != 0 {
		h.bridge.WarmUp = cfg.WarmUp
	}
	h.bridge.AttachObserver(h.stats)

	// Create the debugger and the remote debug server it answers for.
	h.debugger = debugger.New(h.mem, newDebugHandler(h), cfg.Wait, log.Named("debugger"))
	h.debugger.UpdateRegisters(model.Capture(m))
	h.server = gdb.NewServer(h.debugger, gdb.Config{Logger: log.Named("gdb")})

	if cfg.Health != "" {
		h.health = status.New(log.Named("status"))
	}
	return h
}

// Memory returns the host's memory engine.
func (h *Host) Memory() *memory.SparseMemory {
	return h.mem
}

// Debugger returns the host's debugger.
func (h *Host) Debugger() *debugger.Debugger {
	return h.debugger
}

// Server returns the host's remote debug server.
func (h *Host) Server() *gdb.Server {
	return h.server
}

// Health returns the host's health service, or nil if none was configured.
func (h *Host) Health() *status.Service {
	return h.health
}

// Listen opens the TCP listeners for the remote debug server and the
// health service. An error here means the host can't be initialized.
func (h *Host) Listen() error {
	if h.cfg.Addr != "" {
		if err := h.server.Listen(h.cfg.Addr); err != nil {
			return err
		}
	}
	if h.health != nil {
		if err := h.health.Listen(h.cfg.Health); err != nil {
			h.server.Close()
			return err
		}
	}
	return nil
}

// Serve runs the control loop and every configured server until ctx is
// cancelled or one of them fails. Once the target exits, Serve returns
// unless the host was configured to linger.
func (h *Host) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := h.run(ctx)
		if err == nil && !h.cfg.Linger {
			return errFinished
		}
		return err
	})
	if h.server.Addr() != nil {
		g.Go(func() error { return h.server.Serve(ctx) })
	}
	if h.cfg.Serial != "" {
		g.Go(func() error { return h.server.ServeSerial(ctx, h.cfg.Serial, h.cfg.Baud) })
	}
	if h.cfg.WebSocket != "" {
		g.Go(func() error { return h.server.ServeWebSocket(ctx, h.cfg.WebSocket) })
	}
	if h.health != nil && h.health.Addr() != nil {
		g.Go(func() error { return h.health.Serve(ctx) })
	}

	err := g.Wait()
	if errors.Is(err, errFinished) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// run is the control loop. It steps the bridge whenever the debugger allows
// it, until the model finishes, the step budget is spent, or ctx is
// cancelled.
func (h *Host) run(ctx context.Context) error {
	defer h.bridge.Close()

	for steps := 0; ; steps++ {
		if h.bridge.Done() || (h.cfg.Steps > 0 && steps >= h.cfg.Steps) {
			h.debugger.Exit(h.exitCode())
			return nil
		}

		g, err := h.debugger.Next(ctx)
		if err != nil {
			return err
		}

		h.bridge.Step()
		h.stats.update(h.bridge.Stats())
		h.debugger.Stepped(g, model.Capture(h.model))
	}
}

// exitCode returns 1 if the model reports a failure, otherwise 0.
func (h *Host) exitCode() int {
	if e, ok := h.model.(interface{ Err() error }); ok {
		if err := e.Err(); err != nil {
			h.log.Error("model failed", zap.Error(err))
			return 1
		}
	}
	return 0
}

// Close stops the remote debug server's listener.
func (h *Host) Close() error {
	return h.server.Close()
}

func (h *Host) onBreakpoint(b *debugger.Breakpoint) {
	h.server.BreakpointHit()
	if h.running.Load() {
		h.printf("Breakpoint hit at $%X.\n", b.Address)
		h.signalHalt()
	}
}

func (h *Host) onExit(code int) {
	h.server.Exited(code)
	if h.health != nil {
		h.health.SetServing(false)
	}
	h.printf("Target exited with code %d.\n", code)
	h.signalHalt()
}

func (h *Host) onStop() {
	if h.running.Load() {
		h.println("Execution stopped by a debugger session.")
		h.signalHalt()
	}
}

func (h *Host) signalHalt() {
	select {
	case h.halted <- struct{}{}:
	default:
	}
}
