// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package model defines the interface through which the bus bridge and the
// debugger see a clocked hardware model.
package model

import "fmt"

// Pins holds the hardware model's bus signals. The bridge drives Clk, Rst,
// Rdy and DataIn; the model drives the rest.
type Pins struct {
	Clk     bool   // clock input
	Rst     bool   // reset input
	CE      bool   // chip enable: a bus transaction is requested
	WE      bool   // write enable: the transaction includes a write
	Rdy     bool   // ready: the bridge completed the transaction
	AddrOut uint64 // write address
	DataOut uint64 // write data
	AddrIn  uint64 // read address
	DataIn  uint64 // read data
}

// The Model interface is implemented by hardware models that can be clocked
// by the bus bridge.
type Model interface {
	// Pins returns the model's signal block. The same pointer must be
	// returned for the lifetime of the model.
	Pins() *Pins

	// Eval advances the model's internal evaluation using the current pin
	// values.
	Eval()

	// Final tears the model down. It is called once, after the last Eval.
	Final()

	// Finished returns true once the model has signaled completion.
	Finished() bool

	Registers
}

// The Registers interface exposes the model's read-only register file.
type Registers interface {
	// RegisterCount returns the number of general purpose registers.
	RegisterCount() int

	// Register returns the four 32-bit sub-fields of register n, least
	// significant first.
	Register(n int) [4]uint32

	// PC returns the current program counter.
	PC() uint64
}

// A Value is a 128-bit register value.
type Value struct {
	Hi uint64
	Lo uint64
}

// Assemble packs four 32-bit sub-fields, least significant first, into a
// 128-bit value.
func Assemble(f [4]uint32) Value {
	return Value{
		Lo: uint64(f[0]) | uint64(f[1])<<32,
		Hi: uint64(f[2]) | uint64(f[3])<<32,
	}
}

// String returns the value as 32 lowercase hex digits, high half first.
func (v Value) String() string {
	return fmt.Sprintf("%016x%016x", v.Hi, v.Lo)
}

// Snapshot is a copy of a register file taken between two bus steps.
type Snapshot struct {
	PC   uint64
	Regs [][4]uint32
}

// Capture copies the register file of r.
func Capture(r Registers) Snapshot {
	n := r.RegisterCount()
	s := Snapshot{PC: r.PC(), Regs: make([][4]uint32, n)}
	for i := 0; i < n; i++ {
		s.Regs[i] = r.Register(i)
	}
	return s
}

// RegisterCount returns the number of registers in the snapshot.
func (s *Snapshot) RegisterCount() int {
	return len(s.Regs)
}

// Register returns register n. Out of range registers read as zero.
func (s *Snapshot) Register(n int) [4]uint32 {
	if n < 0 || n >= len(s.Regs) {
		return [4]uint32{}
	}
	return s.Regs[n]
}
