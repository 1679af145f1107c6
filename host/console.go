// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/beevik/cmd"
	"github.com/beevik/cosim/gdb"
	"github.com/beevik/cosim/model"
)

// RunCommands accepts console commands from a reader and outputs the
// results to a writer. If the commands are interactive, a prompt is
// displayed while the host waits for the next command to be entered.
//
// The console attaches to the debugger while it runs, so the control loop
// only advances when a command asks it to.
func (h *Host) RunCommands(ctx context.Context, r io.Reader, w io.Writer, interactive bool) error {
	h.ctx = ctx
	h.input = bufio.NewScanner(r)
	h.outMu.Lock()
	h.output = bufio.NewWriter(w)
	h.outMu.Unlock()
	h.interactive = interactive

	h.debugger.Connected()
	defer h.debugger.Disconnected()

	if interactive {
		h.println()
	}
	h.displayPC()

	for {
		h.prompt()

		line, err := h.getLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		var c selection
		if line != "" {
			n, args, err := cmds.Lookup(line)
			switch {
			case err == cmd.ErrNotFound:
				h.println("Command not found.")
				continue
			case err == cmd.ErrAmbiguous:
				h.println("Command is ambiguous.")
				continue
			case err != nil:
				h.printf("ERROR: %v.\n", err)
				continue
			}

			// A command group on its own lists its commands.
			cc, ok := n.(*cmd.Command)
			if !ok {
				h.displayHelp(n)
				continue
			}
			c = selection{Command: cc, Args: args}
		} else if h.lastCmd != nil {
			c = *h.lastCmd
		}

		if c.Command == nil {
			continue
		}
		fn, ok := c.Command.Data.(handler)
		if !ok {
			continue
		}
		h.lastCmd = &c

		err = fn(h, c)
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Break interrupts a console run.
func (h *Host) Break() {
	if h.running.Load() {
		h.debugger.Stop()
		h.signalHalt()
		return
	}
	h.println()
	h.prompt()
}

func (h *Host) printf(format string, args ...any) {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	if h.output == nil {
		return
	}
	fmt.Fprintf(h.output, format, args...)
	h.output.Flush()
}

func (h *Host) println(args ...any) {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	if h.output == nil {
		return
	}
	fmt.Fprintln(h.output, args...)
	h.output.Flush()
}

func (h *Host) getLine() (string, error) {
	if h.input.Scan() {
		return strings.TrimSpace(h.input.Text()), nil
	}
	if h.input.Err() != nil {
		return "", h.input.Err()
	}
	return "", io.EOF
}

func (h *Host) prompt() {
	if h.interactive {
		h.printf("* ")
	}
}

func (h *Host) displayPC() {
	if h.interactive {
		r := h.debugger.Registers()
		h.printf("PC=$%016X  T=%d  %v\n", r.PC, h.stats.counters().Steps, h.debugger.State())
	}
}

func (h *Host) cmdHelp(c selection) error {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	if err := cmds.GetHelp(h.output, c.Args); err != nil {
		fmt.Fprintf(h.output, "%v.\n", err)
	}
	return h.output.Flush()
}

func (h *Host) displayHelp(n cmd.Node) {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	n.DisplayHelp(h.output)
	h.output.Flush()
}

func (h *Host) displayHelpText(c *cmd.Command) {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	if c.Usage == "" {
		fmt.Fprintln(h.output, "<no help text>")
	} else {
		c.DisplayUsage(h.output)
	}
	h.output.Flush()
}

func (h *Host) cmdBreakpointList(c selection) error {
	h.println("Addr              Enabled")
	h.println("----------------- -------")
	for _, b := range h.debugger.GetBreakpoints() {
		h.printf("$%016X %v\n", b.Address, !b.Disabled)
	}
	return nil
}

func (h *Host) cmdBreakpointAdd(c selection) error {
	if len(c.Args) < 1 {
		h.displayHelpText(c.Command)
		return nil
	}

	addr, err := h.parseExpr(c.Args[0])
	if err != nil {
		h.printf("%v\n", err)
		return nil
	}

	h.debugger.AddBreakpoint(addr)
	h.printf("Breakpoint added at $%X.\n", addr)
	return nil
}

func (h *Host) cmdBreakpointRemove(c selection) error {
	if len(c.Args) < 1 {
		h.displayHelpText(c.Command)
		return nil
	}

	addr, err := h.parseExpr(c.Args[0])
	if err != nil {
		h.printf("%v\n", err)
		return nil
	}

	if h.debugger.GetBreakpoint(addr) == nil {
		h.printf("No breakpoint was set on $%X.\n", addr)
		return nil
	}

	h.debugger.RemoveBreakpoint(addr)
	h.printf("Breakpoint at $%X removed.\n", addr)
	return nil
}

func (h *Host) cmdBreakpointEnable(c selection) error {
	return h.enableBreakpoint(c, true)
}

func (h *Host) cmdBreakpointDisable(c selection) error {
	return h.enableBreakpoint(c, false)
}

func (h *Host) enableBreakpoint(c selection, enable bool) error {
	if len(c.Args) < 1 {
		h.displayHelpText(c.Command)
		return nil
	}

	addr, err := h.parseExpr(c.Args[0])
	if err != nil {
		h.printf("%v\n", err)
		return nil
	}

	if !h.debugger.EnableBreakpoint(addr, enable) {
		h.printf("No breakpoint was set on $%X.\n", addr)
		return nil
	}

	if enable {
		h.printf("Breakpoint at $%X enabled.\n", addr)
	} else {
		h.printf("Breakpoint at $%X disabled.\n", addr)
	}
	return nil
}

func (h *Host) cmdEval(c selection) error {
	if len(c.Args) < 1 {
		h.displayHelpText(c.Command)
		return nil
	}

	expr := strings.Join(c.Args, " ")
	v, err := h.exprParser.Parse(expr, h)
	if err != nil {
		h.printf("%v\n", err)
		return nil
	}

	h.printf("$%X (%d)\n", v, v)
	return nil
}

func (h *Host) cmdMemoryDump(c selection) error {
	var addr uint64
	if len(c.Args) > 0 {
		switch c.Args[0] {
		case "$":
			addr = h.settings.NextMemDumpAddr
		case ".":
			addr = h.debugger.Registers().PC
		default:
			a, err := h.parseExpr(c.Args[0])
			if err != nil {
				h.printf("%v\n", err)
				return nil
			}
			addr = a
		}
	} else {
		addr = h.settings.NextMemDumpAddr
	}

	bytes := uint64(h.settings.MemDumpBytes)
	if len(c.Args) >= 2 {
		var err error
		bytes, err = h.parseExpr(c.Args[1])
		if err != nil {
			h.printf("%v\n", err)
			return nil
		}
	}

	h.dumpMemory(addr, bytes)

	h.settings.NextMemDumpAddr = addr + bytes
	h.lastCmd.Args = []string{"$", "0x" + strconv.FormatUint(bytes, 16)}
	return nil
}

func (h *Host) cmdMemoryView(c selection) error {
	if len(c.Args) < 2 {
		h.displayHelpText(c.Command)
		return nil
	}

	addr, err := h.parseExpr(c.Args[0])
	if err != nil {
		h.printf("%v\n", err)
		return nil
	}
	length, err := h.parseExpr(c.Args[1])
	if err != nil {
		h.printf("%v\n", err)
		return nil
	}
	if length > 8 {
		h.printf("Length must be 1, 2, 4 or 8.\n")
		return nil
	}

	h.printf("$%X: %s\n", addr, h.debugger.GetMemory(addr, int(length)))
	return nil
}

func (h *Host) cmdMemorySet(c selection) error {
	if len(c.Args) < 2 {
		h.displayHelpText(c.Command)
		return nil
	}

	addr, err := h.parseExpr(c.Args[0])
	if err != nil {
		h.printf("%v\n", err)
		return nil
	}

	b := make([]byte, 0, len(c.Args)-1)
	for _, s := range c.Args[1:] {
		v, err := h.parseExpr(s)
		if err != nil {
			h.printf("%v\n", err)
			return nil
		}
		b = append(b, byte(v))
	}

	h.debugger.SetMemory(addr, b)
	h.printf("%d byte(s) stored at $%X.\n", len(b), addr)
	return nil
}

func (h *Host) cmdQuit(c selection) error {
	return ErrQuit
}

func (h *Host) cmdRegisters(c selection) error {
	r := h.debugger.Registers()
	h.printf("PC  $%016X\n", r.PC)
	for i := 0; i < r.RegisterCount(); i++ {
		h.printf("R%-2d %s\n", i, model.Assemble(r.Register(i)))
	}
	return nil
}

func (h *Host) cmdRun(c selection) error {
	select {
	case <-h.debugger.Exited():
		h.println("Target has exited.")
		return nil
	default:
	}

	// Drain a stale halt signal left by an earlier run.
	select {
	case <-h.halted:
	default:
	}

	h.printf("Running from $%X. Press ctrl-C to break.\n", h.debugger.Registers().PC)

	h.running.Store(true)
	h.debugger.Start()
	select {
	case <-h.halted:
	case <-h.ctx.Done():
	}
	h.debugger.Stop()
	h.running.Store(false)

	h.displayPC()
	return nil
}

func (h *Host) cmdSet(c selection) error {
	switch len(c.Args) {
	case 0:
		h.println("Variables:")
		h.outMu.Lock()
		h.settings.Display(h.output)
		h.output.Flush()
		h.outMu.Unlock()

	case 1:
		h.displayHelpText(c.Command)

	default:
		key, value := strings.ToLower(c.Args[0]), strings.Join(c.Args[1:], " ")

		var err error
		switch h.settings.Kind(key) {
		case reflect.Invalid:
			err = fmt.Errorf("setting '%s' not found", key)
		case reflect.Bool:
			var v bool
			v, err = stringToBool(value)
			if err == nil {
				err = h.settings.Set(key, v)
			}
		default:
			var v uint64
			v, err = h.exprParser.Parse(value, h)
			if err == nil {
				err = h.settings.Set(key, v)
			}
		}

		if err != nil {
			h.printf("%v\n", err)
			return nil
		}

		h.println("Setting updated.")
		h.onSettingsUpdate()
	}
	return nil
}

func (h *Host) cmdStats(c selection) error {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	err := h.stats.Fprint(h.output, h.mem.Stats(), h.settings.HistogramBins)
	if err != nil {
		fmt.Fprintf(h.output, "%v\n", err)
	}
	h.output.Flush()
	return nil
}

func (h *Host) cmdStep(c selection) error {
	count := uint64(h.settings.StepCount)
	if len(c.Args) > 0 {
		var err error
		count, err = h.parseExpr(c.Args[0])
		if err != nil {
			h.printf("%v\n", err)
			return nil
		}
	}

	for i := uint64(0); i < count; i++ {
		err := h.debugger.Step(h.ctx)
		if errors.Is(err, gdb.ErrTargetExited) {
			h.println("Target has exited.")
			break
		}
		if err != nil {
			return err
		}
	}

	h.displayPC()
	return nil
}

func (h *Host) onSettingsUpdate() {
	h.exprParser.hexMode = h.settings.HexMode
}

func (h *Host) parseExpr(expr string) (uint64, error) {
	return h.exprParser.Parse(expr, h)
}

func (h *Host) dumpMemory(addr0, bytes uint64) {
	if bytes == 0 {
		return
	}

	addr1 := addr0 + bytes - 1
	if addr1 < addr0 {
		addr1 = math.MaxUint64
	}

	// Columns: address, byte values, printable characters.
	const cByte, cChar = 18, 44
	buf := []byte(strings.Repeat(" ", 16) + "-" + strings.Repeat(" ", 35))

	// Don't align display for short dumps.
	if addr1-addr0 < 8 {
		addrToBuf(addr0, buf[0:16])
		a := addr0
		for c1, c2 := cByte, cChar; ; c1, c2, a = c1+3, c2+1, a+1 {
			m := h.mem.LoadByte(a)
			byteToBuf(m, buf[c1:c1+2])
			buf[c2] = toPrintableChar(m)
			if a == addr1 {
				break
			}
		}
		h.println(string(buf))
		return
	}

	// Align rows to 8-byte boundaries.
	for row := addr0 &^ 7; ; row += 8 {
		addrToBuf(row, buf[0:16])
		for i, c1, c2 := uint64(0), cByte, cChar; i < 8; i, c1, c2 = i+1, c1+3, c2+1 {
			a := row + i
			if a >= addr0 && a <= addr1 {
				m := h.mem.LoadByte(a)
				byteToBuf(m, buf[c1:c1+2])
				buf[c2] = toPrintableChar(m)
			} else {
				buf[c1] = ' '
				buf[c1+1] = ' '
				buf[c2] = ' '
			}
		}
		h.println(string(buf))

		if row+7 >= addr1 {
			break
		}
	}
}

// resolveIdentifier returns the value of a register named in an
// expression. Registers are 128 bits wide: rN and rN.lo select the low 64
// bits, rN.hi the high 64 bits, and rN.w0 through rN.w3 the 32-bit fields
// the model reports, w0 being the least significant.
func (h *Host) resolveIdentifier(s string) (uint64, error) {
	s = strings.ToLower(s)
	r := h.debugger.Registers()

	switch s {
	case ".", "pc":
		return r.PC, nil
	case "steps":
		return h.stats.counters().Steps, nil
	}

	if name, ok := strings.CutPrefix(s, "r"); ok {
		name, part, _ := strings.Cut(name, ".")
		n, err := strconv.Atoi(name)
		if err == nil && n >= 0 && n < r.RegisterCount() {
			f := r.Register(n)
			v := model.Assemble(f)
			switch part {
			case "", "lo":
				return v.Lo, nil
			case "hi":
				return v.Hi, nil
			case "w0", "w1", "w2", "w3":
				return uint64(f[part[1]-'0']), nil
			}
		}
	}

	return 0, fmt.Errorf("identifier '%s' not found", s)
}

// readWord returns the word the bus would return for addr.
func (h *Host) readWord(addr uint64) uint64 {
	return h.mem.Read(addr)
}
