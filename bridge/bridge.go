// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bridge clocks a hardware model one half-cycle at a time and
// services its bus transactions against a memory.
package bridge

import (
	"context"

	"github.com/beevik/cosim/memory"
	"github.com/beevik/cosim/model"
	"go.uber.org/zap"
)

// DefaultWarmUp is the number of half-cycles reset is held asserted after
// the bridge is created.
const DefaultWarmUp = 10

// DefaultBudget is the default number of half-cycle steps taken by Run.
const DefaultBudget = 50

// A Transaction describes one serviced bus edge.
type Transaction struct {
	Time      uint64 // half-cycle on which the transaction was serviced
	Write     bool   // the transaction included a write
	WriteAddr uint64 // address written
	WriteData uint64 // data written
	ReadAddr  uint64 // address read
	ReadData  uint64 // data placed on the model's data input
}

// The Observer interface may be implemented by any object that wishes to be
// notified of serviced bus transactions.
type Observer interface {
	OnTransaction(b *Bridge, tx *Transaction)
}

// Stats holds the bridge's counters.
type Stats struct {
	Steps        uint64 // half-cycle steps taken
	Transactions uint64 // qualifying edges serviced
	Writes       uint64 // transactions that included a write
}

// Bridge drives a hardware model. It is not safe for concurrent use; a
// single control loop owns it.
type Bridge struct {
	Time     uint64      // elapsed half-cycles
	WarmUp   uint64      // reset is asserted while Time < WarmUp
	Model    model.Model // clocked hardware model
	Mem      memory.Memory
	stats    Stats
	observer Observer
	final    bool
	log      *zap.Logger
}

// New creates a bridge connecting the model to the memory. If log is nil, a
// no-op logger is used.
func New(m model.Model, mem memory.Memory, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{
		WarmUp: DefaultWarmUp,
		Model:  m,
		Mem:    mem,
		log:    log,
	}
}

// AttachObserver attaches an observer that is called whenever the bridge
// services a bus transaction.
func (b *Bridge) AttachObserver(o Observer) {
	b.observer = o
}

// Step advances the model by one half-cycle.
//
// Pins are sampled before the model is evaluated, so every transaction is
// serviced against the signals produced by the previous clock phase.
func (b *Bridge) Step() {
	p := b.Model.Pins()

	p.Rst = b.Time < b.WarmUp
	p.Clk = !p.Clk
	p.Rdy = false

	if p.CE && p.Clk {
		tx := Transaction{
			Time:      b.Time,
			Write:     p.WE,
			WriteAddr: p.AddrOut,
			WriteData: p.DataOut,
			ReadAddr:  p.AddrIn,
		}
		tx.ReadData = b.Mem.Transact(memory.Transaction{
			Write:     tx.Write,
			WriteAddr: tx.WriteAddr,
			WriteData: tx.WriteData,
			ReadAddr:  tx.ReadAddr,
		})

		if tx.Write {
			b.log.Debug("write",
				zap.Uint64("addr", tx.WriteAddr),
				zap.Uint64("data", tx.WriteData))
			b.stats.Writes++
		}
		b.log.Debug("read",
			zap.Uint64("addr", tx.ReadAddr),
			zap.Uint64("data", tx.ReadData))

		p.DataIn = tx.ReadData
		p.Rdy = true
		b.stats.Transactions++

		if b.observer != nil {
			b.observer.OnTransaction(b, &tx)
		}
	}

	b.Model.Eval()
	b.Time++
	b.stats.Steps++
}

// Done returns true once the model has signaled completion.
func (b *Bridge) Done() bool {
	return b.Model.Finished()
}

// Run steps the bridge until the model finishes, budget steps have been
// taken, or ctx is cancelled. It returns the number of steps taken.
func (b *Bridge) Run(ctx context.Context, budget int) int {
	n := 0
	for ; n < budget && !b.Done(); n++ {
		if ctx.Err() != nil {
			break
		}
		b.Step()
	}
	return n
}

// Stats returns the bridge's counters.
func (b *Bridge) Stats() Stats {
	return b.stats
}

// Close tears down the model. Subsequent calls do nothing.
func (b *Bridge) Close() {
	if b.final {
		return
	}
	b.final = true
	b.Model.Final()
}
