// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/beevik/cosim/debugger"
	"github.com/beevik/cosim/host"
	"github.com/beevik/cosim/model/luamodel"
	"go.uber.org/zap/zaptest"
)

func runScript(t *testing.T, h *host.Host, script string) string {
	t.Helper()
	var out strings.Builder
	if err := h.RunCommands(context.Background(), strings.NewReader(script), &out, false); err != nil {
		t.Fatal(err)
	}
	return out.String()
}

func expectOutput(t *testing.T, out string, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if !strings.Contains(out, l) {
			t.Errorf("Output missing %q. got:\n%s", l, out)
		}
	}
}

func TestConsole(t *testing.T) {
	h := newHost(t, host.Config{Steps: 50, Wait: true, Linger: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := serve(h, ctx)

	script := `
breakpoint add $f818
breakpoint list
eval 1+2*3
memory view $f800 8
memory set $200 1 2 3
memory dump $200 3
run
registers
breakpoint remove $f818
breakpoint remove $f818
run
memory view $100 4
stats
step
set bogus 1
set hexmode true
eval ff
bogus
quit
eval 1
`
	out := runScript(t, h, script)
	expectOutput(t, out,
		"Breakpoint added at $F818.",
		"$000000000000F818 true",
		"$7 (7)",
		"$F800: 00124002000a0002",
		"3 byte(s) stored at $200.",
		"0000000000000200- 01 02 03",
		"Breakpoint hit at $F818.",
		"PC  $000000000000F818",
		"Breakpoint at $F818 removed.",
		"No breakpoint was set on $F818.",
		"Target exited with code 0.",
		"$100: efbeadde",
		"Writes:       1",
		"Target has exited.",
		"setting 'bogus' not found",
		"Setting updated.",
		"$FF (255)",
		"Command not found.",
	)
	if strings.Contains(out, "$1 (1)") {
		t.Errorf("Command after quit was executed")
	}

	cancel()
	wait(t, done)
}

func TestConsoleStep(t *testing.T) {
	h := newHost(t, host.Config{Wait: true, Linger: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := serve(h, ctx)

	// Reset is held for ten half-cycles, and the first fetch completes on
	// the third half-cycle after that.
	out := runScript(t, h, "step 13\nregisters\nstep 2\nregisters\n")
	expectOutput(t, out, "PC  $000000000000F808", "PC  $000000000000F810")

	cancel()
	wait(t, done)
}

func TestHelp(t *testing.T) {
	h := newHost(t, host.Config{})
	out := runScript(t, h, "help\nhelp breakpoint\nhelp memory dump\nmemory\nhelp bogus\n")
	expectOutput(t, out,
		"cosim commands:",
		"    breakpoint  Breakpoint commands",
		"breakpoint commands:",
		"    add      Add a breakpoint",
		"Usage: memory dump [<address>] [<bytes>]",
		"Shortcut: m",
		"memory commands:",
		"    view  View a memory word",
		"Command not found.",
	)
}

func TestEvalRegisters(t *testing.T) {
	h := newHost(t, host.Config{Wait: true, Linger: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := serve(h, ctx)

	// After the first fetch, r1 holds the boot word the bus returned.
	script := `
step 13
eval r1 == 0
eval r1.w0
eval r1.w1
eval r1.hi
eval [$f800] ^ r1 | 1
eval steps
`
	out := runScript(t, h, script)
	expectOutput(t, out,
		"$A0002 (655362)",
		"$124002 (1196034)",
		"$0 (0)",
		"$1 (1)",
		"$D (13)",
	)
	if !strings.Contains(out, "expression syntax error") {
		t.Errorf("Comparison operator accepted. got:\n%s", out)
	}

	cancel()
	wait(t, done)
}

func TestRunStoppedBySession(t *testing.T) {
	m, err := luamodel.New("function eval(p) end", nil)
	if err != nil {
		t.Fatal(err)
	}
	h := host.New(host.Config{
		Addr:   "127.0.0.1:0",
		Linger: true,
		Logger: zaptest.NewLogger(t),
	}, m)
	if err := h.Listen(); err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := serve(h, ctx)

	var out strings.Builder
	console := make(chan error, 1)
	go func() {
		console <- h.RunCommands(ctx, strings.NewReader("run\n"), &out, false)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for h.Debugger().State() != debugger.StateRunning {
		if time.Now().After(deadline) {
			t.Fatal("Console run never started")
		}
		time.Sleep(time.Millisecond)
	}

	// A remote session attaching stops the console's run.
	c := dial(t, h.Server().Addr())
	defer c.conn.Close()

	select {
	case err := <-console:
		if err != nil {
			t.Errorf("RunCommands returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Console run did not stop")
	}
	expectOutput(t, out.String(), "Execution stopped by a debugger session.")

	cancel()
	wait(t, done)
}
