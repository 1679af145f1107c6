// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package debugger implements the target side of a remote debug session:
// breakpoint bookkeeping, run control, and memory and register inspection.
//
// The Debugger is shared by two goroutines. The session goroutine calls the
// gdb.Handler methods. The control loop that owns the bus bridge calls Next
// before every step and Stepped after it, which is how run control requests
// reach the bridge without the session ever touching the model.
package debugger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/beevik/cosim/gdb"
	"github.com/beevik/cosim/model"
	"go.uber.org/zap"
)

// MemorySentinel is returned by GetMemory for unsupported lengths.
const MemorySentinel = "00000000"

// The Memory interface is the part of the memory engine the debugger uses.
type Memory interface {
	View(addr uint64, length int) (v uint64, ok bool)
	StoreBytes(addr uint64, b []byte)
}

// The Handler interface should be implemented by any object that wishes to
// receive debugger notifications.
type Handler interface {
	OnBreakpoint(d *Debugger, b *Breakpoint)
	OnExit(d *Debugger, code int)
	OnStop(d *Debugger) // a client attached or detached while running
}

// A Breakpoint represents an address that will cause the debugger to stop
// execution when the program counter reaches it.
type Breakpoint struct {
	Address  uint64 // address of execution breakpoint
	Disabled bool   // this breakpoint is currently disabled
}

// State describes the debugger's run state.
type State byte

// Run states
const (
	StateFree    State = iota // no session is attached; the loop runs freely
	StateStopped              // execution is halted
	StateRunning              // a session is attached and has resumed
	StateExited               // the target can no longer execute
)

var stateNames = []string{"free", "stopped", "running", "exited"}

func (s State) String() string {
	return stateNames[s]
}

// A Grant is handed to the control loop by Next. It tells the loop whether
// the next step was explicitly requested by a session.
type Grant struct {
	done chan struct{}
}

// Requested returns true if the step was requested by a session.
func (g Grant) Requested() bool {
	return g.done != nil
}

// Debugger implements gdb.Handler.
type Debugger struct {
	mem     Memory
	handler Handler
	log     *zap.Logger

	mu          sync.Mutex
	breakpoints map[uint64]*Breakpoint
	clients     int // attached sessions and consoles
	running     bool
	hold        bool // stay stopped until the first session attaches
	regs        model.Snapshot

	stepReq  chan chan struct{}
	wake     chan struct{}
	exited   chan struct{}
	exitOnce sync.Once
}

var _ gdb.Handler = (*Debugger)(nil)

// New creates a debugger inspecting mem. If waitForAttach is true, the
// control loop is held until a session attaches. If log is nil, a no-op
// logger is used.
func New(mem Memory, handler Handler, waitForAttach bool, log *zap.Logger) *Debugger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Debugger{
		mem:         mem,
		handler:     handler,
		log:         log,
		breakpoints: make(map[uint64]*Breakpoint),
		hold:        waitForAttach,
		stepReq:     make(chan chan struct{}),
		wake:        make(chan struct{}, 1),
		exited:      make(chan struct{}),
	}
}

// SetHandler replaces the notification handler.
func (d *Debugger) SetHandler(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

type byBPAddr []*Breakpoint

func (a byBPAddr) Len() int           { return len(a) }
func (a byBPAddr) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byBPAddr) Less(i, j int) bool { return a[i].Address < a[j].Address }

// GetBreakpoint looks up a breakpoint by address and returns it if found.
// Otherwise it returns nil.
func (d *Debugger) GetBreakpoint(addr uint64) *Breakpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.breakpoints[addr]
}

// GetBreakpoints returns all breakpoints currently set in the debugger,
// sorted by address.
func (d *Debugger) GetBreakpoints() []*Breakpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	var breakpoints []*Breakpoint
	for _, b := range d.breakpoints {
		breakpoints = append(breakpoints, b)
	}
	sort.Sort(byBPAddr(breakpoints))
	return breakpoints
}

// AddBreakpoint adds a breakpoint at the address. If a breakpoint already
// exists there, it is returned unchanged.
func (d *Debugger) AddBreakpoint(addr uint64) *Breakpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.breakpoints[addr]; ok {
		return b
	}
	b := &Breakpoint{Address: addr}
	d.breakpoints[addr] = b
	return b
}

// RemoveBreakpoint removes the breakpoint at the address, if any.
func (d *Debugger) RemoveBreakpoint(addr uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.breakpoints, addr)
}

// EnableBreakpoint enables or disables the breakpoint at the address. It
// returns false if no breakpoint exists there.
func (d *Debugger) EnableBreakpoint(addr uint64, enable bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.breakpoints[addr]
	if ok {
		b.Disabled = !enable
	}
	return ok
}

// State returns the current run state.
func (d *Debugger) State() State {
	select {
	case <-d.exited:
		return StateExited
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.running && d.clients > 0:
		return StateRunning
	case d.halted():
		return StateStopped
	default:
		return StateFree
	}
}

// halted returns true if the control loop must wait for a request. The
// caller must hold the lock.
func (d *Debugger) halted() bool {
	return !d.running && (d.clients > 0 || d.hold)
}

func (d *Debugger) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

//
// Control loop interface
//

// Next is called by the control loop before every step. It returns
// immediately while the target runs freely, and otherwise blocks until a
// session resumes execution or requests a single step.
func (d *Debugger) Next(ctx context.Context) (Grant, error) {
	for {
		d.mu.Lock()
		halted := d.halted()
		d.mu.Unlock()

		if !halted {
			select {
			case done := <-d.stepReq:
				return Grant{done: done}, nil
			default:
				return Grant{}, nil
			}
		}

		select {
		case done := <-d.stepReq:
			return Grant{done: done}, nil
		case <-d.wake:
		case <-ctx.Done():
			return Grant{}, ctx.Err()
		}
	}
}

// Stepped is called by the control loop after every step with a fresh
// register snapshot. It completes a requested step, or checks the program
// counter against the breakpoint set. It returns the breakpoint that was
// hit, if any.
func (d *Debugger) Stepped(g Grant, regs model.Snapshot) *Breakpoint {
	d.mu.Lock()
	d.regs = regs
	if g.done != nil {
		d.mu.Unlock()
		close(g.done)
		return nil
	}

	b, ok := d.breakpoints[regs.PC]
	if !ok || b.Disabled {
		d.mu.Unlock()
		return nil
	}

	notify := d.running && d.clients > 0
	if notify {
		d.running = false
	}
	handler := d.handler
	d.mu.Unlock()

	d.log.Info("breakpoint hit", zap.Uint64("pc", regs.PC))
	if notify && handler != nil {
		handler.OnBreakpoint(d, b)
	}
	return b
}

// Exit marks the target as exited. Pending and future step requests fail
// with gdb.ErrTargetExited.
func (d *Debugger) Exit(code int) {
	d.exitOnce.Do(func() {
		close(d.exited)
		d.mu.Lock()
		handler := d.handler
		d.mu.Unlock()
		d.log.Info("target exited", zap.Int("code", code))
		if handler != nil {
			handler.OnExit(d, code)
		}
	})
}

// Exited returns a channel that is closed once the target has exited.
func (d *Debugger) Exited() <-chan struct{} {
	return d.exited
}

// UpdateRegisters replaces the register snapshot without completing a step.
func (d *Debugger) UpdateRegisters(regs model.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs = regs
}

//
// gdb.Handler implementation
//

// Connected stops the target when a client attaches. The interactive
// console attaches through it as well.
func (d *Debugger) Connected() {
	d.mu.Lock()
	d.clients++
	wasRunning := d.running
	d.running = false
	d.hold = false
	handler := d.handler
	d.mu.Unlock()

	d.log.Info("session attached")
	if wasRunning && handler != nil {
		handler.OnStop(d)
	}
}

// Disconnected releases the control loop when the last client detaches.
// Clients that remain attached see the target stopped.
func (d *Debugger) Disconnected() {
	d.mu.Lock()
	if d.clients > 0 {
		d.clients--
	}
	wasRunning := d.running
	d.running = false
	handler := d.handler
	d.mu.Unlock()

	d.signal()
	d.log.Info("session detached")
	if wasRunning && handler != nil {
		handler.OnStop(d)
	}
}

// Start resumes continuous stepping.
func (d *Debugger) Start() {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	d.signal()
}

// Stop halts continuous stepping before the next step.
func (d *Debugger) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
}

// Step asks the control loop for exactly one step and waits for it to
// complete.
func (d *Debugger) Step(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case d.stepReq <- done:
	case <-d.exited:
		return gdb.ErrTargetExited
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetBreakpoint adds a breakpoint at addr.
func (d *Debugger) SetBreakpoint(addr uint64) {
	d.AddBreakpoint(addr)
}

// ClearBreakpoint removes the breakpoint at addr.
func (d *Debugger) ClearBreakpoint(addr uint64) {
	d.RemoveBreakpoint(addr)
}

// GetMemory returns the memory view at addr as 2*length hex digits. Lengths
// other than 1, 2, 4 and 8 return MemorySentinel.
func (d *Debugger) GetMemory(addr uint64, length int) string {
	v, ok := d.mem.View(addr, length)
	if !ok {
		return MemorySentinel
	}
	return fmt.Sprintf("%0*x", length*2, v)
}

// SetMemory stores bytes at addr.
func (d *Debugger) SetMemory(addr uint64, data []byte) {
	d.mem.StoreBytes(addr, data)
}

// GetRegisterValue returns register n as 32 hex digits.
func (d *Debugger) GetRegisterValue(n int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return model.Assemble(d.regs.Register(n)).String()
}

// GetGeneralRegisters returns every register as hex, in index order.
func (d *Debugger) GetGeneralRegisters() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	for i := 0; i < d.regs.RegisterCount(); i++ {
		b.WriteString(model.Assemble(d.regs.Register(i)).String())
	}
	return b.String()
}

// Registers returns a copy of the current register snapshot.
func (d *Debugger) Registers() model.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.regs
	s.Regs = append([][4]uint32(nil), d.regs.Regs...)
	return s
}
