// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package luamodel implements a hardware model scripted in Lua.
//
// A script defines a global function eval(p) that is called once per bus
// bridge step with a table of pin values, and updates the output pins in
// place. Boolean pins (clk, rst, ce, we, rdy) are Lua booleans. Each 64-bit
// pin is split into two 32-bit numbers: <name> holds the low half and
// <name>_hi the high half.
//
// The script may also define:
//
//	finished()         returns true once the model is done
//	pc()               returns the program counter
//	register_count()   returns the number of registers
//	register(n)        returns up to four 32-bit sub-fields, least significant first
package luamodel

import (
	_ "embed"
	"fmt"
	"math"

	"github.com/beevik/cosim/model"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

//go:embed default.lua
var defaultScript string

// Model is a model.Model backed by a Lua script. It must only be used from
// a single goroutine.
type Model struct {
	state *lua.LState
	pins  model.Pins
	tbl   *lua.LTable
	err   error
	log   *zap.Logger
}

var _ model.Model = (*Model)(nil)

// Load creates a model from the script file at path. If path is empty, the
// built-in default script is used.
func Load(path string, log *zap.Logger) (*Model, error) {
	m := newModel(log)
	var err error
	if path == "" {
		err = m.state.DoString(defaultScript)
	} else {
		err = m.state.DoFile(path)
	}
	if err != nil {
		m.state.Close()
		return nil, fmt.Errorf("luamodel: load %q: %w", path, err)
	}
	if err := m.check(); err != nil {
		m.state.Close()
		return nil, err
	}
	return m, nil
}

// New creates a model from script source.
func New(src string, log *zap.Logger) (*Model, error) {
	m := newModel(log)
	if err := m.state.DoString(src); err != nil {
		m.state.Close()
		return nil, fmt.Errorf("luamodel: %w", err)
	}
	if err := m.check(); err != nil {
		m.state.Close()
		return nil, err
	}
	return m, nil
}

func newModel(log *zap.Logger) *Model {
	if log == nil {
		log = zap.NewNop()
	}
	L := lua.NewState()
	return &Model{state: L, tbl: L.NewTable(), log: log}
}

func (m *Model) check() error {
	if m.state.GetGlobal("eval").Type() != lua.LTFunction {
		return fmt.Errorf("luamodel: script does not define eval(p)")
	}
	return nil
}

// Err returns the first script error raised during evaluation.
func (m *Model) Err() error {
	return m.err
}

// Pins returns the model's signal block.
func (m *Model) Pins() *model.Pins {
	return &m.pins
}

// Eval copies the pins into the Lua pin table, calls eval, and copies the
// model-driven pins back. A script error stops the model: it is logged,
// recorded, and Finished reports true from then on.
func (m *Model) Eval() {
	if m.err != nil {
		return
	}

	t := m.tbl
	t.RawSetString("clk", lua.LBool(m.pins.Clk))
	t.RawSetString("rst", lua.LBool(m.pins.Rst))
	t.RawSetString("rdy", lua.LBool(m.pins.Rdy))
	t.RawSetString("ce", lua.LBool(m.pins.CE))
	t.RawSetString("we", lua.LBool(m.pins.WE))
	setWord(t, "data_in", m.pins.DataIn)
	setWord(t, "addr_in", m.pins.AddrIn)
	setWord(t, "addr_out", m.pins.AddrOut)
	setWord(t, "data_out", m.pins.DataOut)

	if err := m.call("eval", 0, t); err != nil {
		m.err = err
		m.log.Error("eval failed", zap.Error(err))
		return
	}

	m.pins.CE = lua.LVAsBool(t.RawGetString("ce"))
	m.pins.WE = lua.LVAsBool(t.RawGetString("we"))
	m.pins.AddrIn = getWord(t, "addr_in")
	m.pins.AddrOut = getWord(t, "addr_out")
	m.pins.DataOut = getWord(t, "data_out")
}

// Final closes the Lua state.
func (m *Model) Final() {
	m.state.Close()
}

// Finished returns true once the script's finished() returns true or the
// script has failed.
func (m *Model) Finished() bool {
	if m.err != nil {
		return true
	}
	if !m.defined("finished") {
		return false
	}
	if err := m.call("finished", 1); err != nil {
		m.err = err
		return true
	}
	v := m.state.Get(-1)
	m.state.Pop(1)
	return lua.LVAsBool(v)
}

// PC returns the value of the script's pc(), or zero.
func (m *Model) PC() uint64 {
	if m.err != nil || !m.defined("pc") {
		return 0
	}
	if err := m.call("pc", 1); err != nil {
		return 0
	}
	v := m.state.Get(-1)
	m.state.Pop(1)
	return toUint64(v)
}

// RegisterCount returns the value of the script's register_count(), or
// zero.
func (m *Model) RegisterCount() int {
	if m.err != nil || !m.defined("register_count") {
		return 0
	}
	if err := m.call("register_count", 1); err != nil {
		return 0
	}
	v := m.state.Get(-1)
	m.state.Pop(1)
	return int(toUint64(v))
}

// Register returns the sub-fields returned by the script's register(n).
func (m *Model) Register(n int) [4]uint32 {
	var f [4]uint32
	if m.err != nil || !m.defined("register") {
		return f
	}
	if err := m.call("register", 4, lua.LNumber(n)); err != nil {
		return f
	}
	for i := range f {
		f[i] = uint32(toUint64(m.state.Get(-4 + i)))
	}
	m.state.Pop(4)
	return f
}

func (m *Model) defined(name string) bool {
	return m.state.GetGlobal(name).Type() == lua.LTFunction
}

func (m *Model) call(name string, nret int, args ...lua.LValue) error {
	return m.state.CallByParam(lua.P{
		Fn:      m.state.GetGlobal(name),
		NRet:    nret,
		Protect: true,
	}, args...)
}

func setWord(t *lua.LTable, name string, v uint64) {
	t.RawSetString(name, lua.LNumber(v&0xffffffff))
	t.RawSetString(name+"_hi", lua.LNumber(v>>32))
}

func getWord(t *lua.LTable, name string) uint64 {
	lo := toUint64(t.RawGetString(name)) & 0xffffffff
	hi := toUint64(t.RawGetString(name+"_hi")) & 0xffffffff
	return hi<<32 | lo
}

// toUint64 converts a Lua number to an unsigned integer, truncating any
// fraction. Non-numbers and negative numbers convert to zero.
func toUint64(v lua.LValue) uint64 {
	n := float64(lua.LVAsNumber(v))
	if n <= 0 || math.IsNaN(n) {
		return 0
	}
	if n >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(n)
}
