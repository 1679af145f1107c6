// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import "github.com/beevik/cmd"

var cmds *cmd.Tree

// A selection is a command chosen from the command tree along with the
// arguments that followed it on the command line.
type selection struct {
	Command *cmd.Command
	Args    []string
}

// A handler executes a console command. Each command tree entry stores its
// handler as data.
type handler func(*Host, selection) error

func init() {
	root := cmd.NewTree(cmd.TreeDescriptor{Name: "cosim"})
	root.AddCommand(cmd.CommandDescriptor{
		Name:        "help",
		Description: "Display help for a command or command group.",
		Usage:       "help [<command>]",
		Data:        handler((*Host).cmdHelp),
	})

	// Breakpoint commands
	bp := root.AddSubtree(cmd.TreeDescriptor{Name: "breakpoint", Brief: "Breakpoint commands"})
	bp.AddCommand(cmd.CommandDescriptor{
		Name:        "list",
		Brief:       "List breakpoints",
		Description: "List all current breakpoints.",
		Usage:       "breakpoint list",
		Data:        handler((*Host).cmdBreakpointList),
	})
	bp.AddCommand(cmd.CommandDescriptor{
		Name:  "add",
		Brief: "Add a breakpoint",
		Description: "Add a breakpoint at the specified address." +
			" The breakpoint starts enabled. Adding a breakpoint" +
			" that already exists has no effect.",
		Usage: "breakpoint add <address>",
		Data:  handler((*Host).cmdBreakpointAdd),
	})
	bp.AddCommand(cmd.CommandDescriptor{
		Name:        "remove",
		Brief:       "Remove a breakpoint",
		Description: "Remove a breakpoint at the specified address.",
		Usage:       "breakpoint remove <address>",
		Data:        handler((*Host).cmdBreakpointRemove),
	})
	bp.AddCommand(cmd.CommandDescriptor{
		Name:        "enable",
		Brief:       "Enable a breakpoint",
		Description: "Enable a previously added breakpoint.",
		Usage:       "breakpoint enable <address>",
		Data:        handler((*Host).cmdBreakpointEnable),
	})
	bp.AddCommand(cmd.CommandDescriptor{
		Name:  "disable",
		Brief: "Disable a breakpoint",
		Description: "Disable a previously added breakpoint. This" +
			" prevents the breakpoint from being hit while the" +
			" bridge runs.",
		Usage: "breakpoint disable <address>",
		Data:  handler((*Host).cmdBreakpointDisable),
	})

	root.AddCommand(cmd.CommandDescriptor{
		Name:  "eval",
		Brief: "Evaluate an expression",
		Description: "Evaluate an expression. Numbers may be written in" +
			" decimal, hex (0x or $), binary (0b) or as a quoted" +
			" character. The identifiers pc, steps and r0 through rN" +
			" refer to the current register snapshot, with .lo, .hi" +
			" and .w0 through .w3 selecting part of a register." +
			" [<address>] reads the word the bus returns for an address.",
		Usage: "eval <expression>",
		Data:  handler((*Host).cmdEval),
	})

	// Memory commands
	mem := root.AddSubtree(cmd.TreeDescriptor{Name: "memory", Brief: "Memory commands"})
	mem.AddCommand(cmd.CommandDescriptor{
		Name:  "dump",
		Brief: "Dump memory at address",
		Description: "Dump the contents of memory starting from the" +
			" specified address. The number of bytes to dump may be" +
			" specified as an option. If no address is specified, the" +
			" memory dump continues from where the last dump left off.",
		Usage: "memory dump [<address>] [<bytes>]",
		Data:  handler((*Host).cmdMemoryDump),
	})
	mem.AddCommand(cmd.CommandDescriptor{
		Name:  "view",
		Brief: "View a memory word",
		Description: "Display the 1, 2, 4 or 8 byte view of memory at" +
			" the specified address, exactly as a remote debugger" +
			" would see it.",
		Usage: "memory view <address> <length>",
		Data:  handler((*Host).cmdMemoryView),
	})
	mem.AddCommand(cmd.CommandDescriptor{
		Name:  "set",
		Brief: "Set memory at address",
		Description: "Set the contents of memory starting from the specified" +
			" address. The values to assign should be a series of" +
			" space-separated byte values. You may use an expression for each" +
			" byte value.",
		Usage: "memory set <address> <byte> [<byte> ...]",
		Data:  handler((*Host).cmdMemorySet),
	})

	root.AddCommand(cmd.CommandDescriptor{
		Name:        "quit",
		Brief:       "Quit the program",
		Description: "Quit the program.",
		Usage:       "quit",
		Data:        handler((*Host).cmdQuit),
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "registers",
		Brief: "Display registers",
		Description: "Display the program counter and the register file" +
			" snapshot taken after the last step.",
		Usage: "registers",
		Data:  handler((*Host).cmdRegisters),
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "run",
		Brief: "Run the bridge",
		Description: "Run the bridge until a breakpoint is hit, the target" +
			" exits, or the user types Ctrl-C.",
		Usage: "run",
		Data:  handler((*Host).cmdRun),
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "set",
		Brief: "Set a configuration variable",
		Description: "Set the value of a configuration variable. To see the" +
			" current values of all configuration variables, type set" +
			" without any arguments.",
		Usage: "set [<var> <value>]",
		Data:  handler((*Host).cmdSet),
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "stats",
		Brief: "Display bus statistics",
		Description: "Display bridge and memory counters along with a" +
			" histogram of recent read addresses.",
		Usage: "stats",
		Data:  handler((*Host).cmdStats),
	})
	root.AddCommand(cmd.CommandDescriptor{
		Name:  "step",
		Brief: "Step the bridge",
		Description: "Advance the bridge by a number of half-cycles. The" +
			" number of steps may be specified as an option.",
		Usage: "step [<count>]",
		Data:  handler((*Host).cmdStep),
	})

	// Add command shortcuts.
	root.AddShortcut("ba", "breakpoint add")
	root.AddShortcut("br", "breakpoint remove")
	root.AddShortcut("bl", "breakpoint list")
	root.AddShortcut("be", "breakpoint enable")
	root.AddShortcut("bd", "breakpoint disable")
	root.AddShortcut("e", "eval")
	root.AddShortcut("m", "memory dump")
	root.AddShortcut("mv", "memory view")
	root.AddShortcut("ms", "memory set")
	root.AddShortcut("r", "registers")
	root.AddShortcut("s", "step")
	root.AddShortcut("?", "help")
	root.AddShortcut(".", "registers")

	cmds = root
}
