// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memory implements a sparse, demand-allocated 64-bit address space
// shared by the bus bridge and the remote debugger.
//
// The address space is divided into 64K blocks. A block is allocated and
// zero-filled the first time any address inside it is touched, so the cost
// of the address space is bounded by the number of blocks actually used.
package memory

import (
	"math/bits"
	"sync"

	"go.uber.org/zap"
)

// Block geometry.
const (
	BlockSize = 0x10000
	blockMask = BlockSize - 1
)

// WordSize is the size in bytes of the engine's canonical access unit.
const WordSize = 8

// The Memory interface presents the word-granular view of the address space
// used by the bus bridge.
type Memory interface {
	// Read loads the 8-byte word at the address. The returned value has its
	// byte order reversed relative to the little-endian layout in memory.
	Read(addr uint64) uint64

	// Write stores an 8-byte word at the address, least significant byte
	// first.
	Write(addr uint64, v uint64)

	// Transact applies a bus transaction atomically and returns the data
	// read by it.
	Transact(tx Transaction) uint64
}

// A Transaction is one serviced bus edge: an optional write followed by the
// paired read.
type Transaction struct {
	Write     bool   // the transaction includes a write
	WriteAddr uint64 // address of the write
	WriteData uint64 // data written
	ReadAddr  uint64 // address of the paired read
}

// Stats holds the engine's bookkeeping counters.
type Stats struct {
	Blocks int    // number of allocated blocks
	Bytes  uint64 // bytes reserved by allocated blocks
	Reads  uint64 // word reads served
	Writes uint64 // word writes served
}

type block [BlockSize]byte

// SparseMemory is a Memory whose blocks are allocated on first touch. All
// methods are safe for concurrent use.
type SparseMemory struct {
	mu     sync.Mutex
	blocks map[uint64]*block
	reads  uint64
	writes uint64
	log    *zap.Logger
}

// NewSparseMemory creates an empty address space. If log is nil, a no-op
// logger is used.
func NewSparseMemory(log *zap.Logger) *SparseMemory {
	if log == nil {
		log = zap.NewNop()
	}
	return &SparseMemory{
		blocks: make(map[uint64]*block),
		log:    log,
	}
}

// BlockID returns the id of the block owning the address.
func BlockID(addr uint64) uint64 {
	return addr &^ blockMask
}

// Return the block owning addr, allocating it if it doesn't exist yet. The
// caller must hold the lock.
func (m *SparseMemory) getBlock(addr uint64) *block {
	id := BlockID(addr)
	b, ok := m.blocks[id]
	if !ok {
		b = new(block)
		m.blocks[id] = b
		m.log.Debug("expanding",
			zap.Uint64("block", id),
			zap.Int("bytes", BlockSize))
	}
	return b
}

// Read loads the 8-byte word at addr. Each of the 8 byte lanes is read from
// offset (addr+i) mod BlockSize of the block owning addr, so a word near the
// end of a block wraps to the start of the same block. The lanes are
// assembled least significant first and the result is byte-reversed, which
// means the returned value, printed most significant byte first, lists the
// bytes in memory order.
func (m *SparseMemory) Read(addr uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read(addr)
}

func (m *SparseMemory) read(addr uint64) uint64 {
	b := m.getBlock(addr)
	var v uint64
	for i := uint64(0); i < WordSize; i++ {
		v |= uint64(b[(addr+i)&blockMask]) << (i * 8)
	}
	m.reads++
	v = bits.ReverseBytes64(v)
	m.log.Debug("read", zap.Uint64("addr", addr), zap.Uint64("data", v))
	return v
}

// Write stores v at addr, least significant byte first. Lanes wrap within
// the block owning addr, exactly as they do for Read.
func (m *SparseMemory) Write(addr uint64, v uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.write(addr, v)
}

func (m *SparseMemory) write(addr uint64, v uint64) {
	m.log.Debug("write", zap.Uint64("addr", addr), zap.Uint64("data", v))
	b := m.getBlock(addr)
	for i := uint64(0); i < WordSize; i++ {
		b[(addr+i)&blockMask] = byte(v >> (i * 8))
	}
	m.writes++
}

// Transact applies the optional write of tx and then its read while holding
// the lock, so no other reader observes the transaction half applied.
func (m *SparseMemory) Transact(tx Transaction) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.Write {
		m.write(tx.WriteAddr, tx.WriteData)
	}
	return m.read(tx.ReadAddr)
}

// View returns a narrow view of the word read at addr. The word is divided
// into 8/length slots numbered from its most significant end, and the slot
// selected by the low bits of addr is returned. Views of different lengths
// at nearby addresses therefore alias the same word instead of reading
// disjoint bytes. Length must be 1, 2, 4 or 8; any other length returns
// ok == false.
func (m *SparseMemory) View(addr uint64, length int) (v uint64, ok bool) {
	switch length {
	case 1, 2, 4, 8:
	default:
		return 0, false
	}

	w := m.Read(addr)
	if length == WordSize {
		return w, true
	}

	width := uint(length * 8)
	slots := uint64(WordSize / length)
	slot := uint(addr & (slots - 1))
	shift := 64 - width*(slot+1)
	return (w >> shift) & (1<<width - 1), true
}

// LoadByte loads a single byte from the address and returns it.
func (m *SparseMemory) LoadByte(addr uint64) byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getBlock(addr)[addr&blockMask]
}

// LoadBytes loads len(b) consecutive bytes starting at addr. Unlike Read,
// each byte is taken from its own block.
func (m *SparseMemory) LoadBytes(addr uint64, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range b {
		a := addr + uint64(i)
		b[i] = m.getBlock(a)[a&blockMask]
	}
}

// StoreByte stores a byte at the requested address.
func (m *SparseMemory) StoreByte(addr uint64, v byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getBlock(addr)[addr&blockMask] = v
}

// StoreBytes stores multiple bytes starting at the requested address.
func (m *SparseMemory) StoreBytes(addr uint64, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range b {
		a := addr + uint64(i)
		m.getBlock(a)[a&blockMask] = v
	}
}

// LoadWords writes consecutive 8-byte words starting at base. It is used to
// install a boot image.
func (m *SparseMemory) LoadWords(base uint64, words []uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range words {
		m.write(base+uint64(i)*WordSize, w)
	}
}

// Stats returns a snapshot of the engine's bookkeeping counters.
func (m *SparseMemory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Blocks: len(m.blocks),
		Bytes:  uint64(len(m.blocks)) * BlockSize,
		Reads:  m.reads,
		Writes: m.writes,
	}
}
