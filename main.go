// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command cosim runs a scripted hardware model against a sparse 64-bit
// memory and serves the memory image and register file to a remote
// debugger.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"

	"github.com/beevik/cosim/bridge"
	"github.com/beevik/cosim/gdb"
	"github.com/beevik/cosim/host"
	"github.com/beevik/cosim/model/luamodel"
	"github.com/beevik/cosim/statsview"
	"github.com/beevik/term"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	port       int
	addr       string
	serialPort string
	baud       int
	wsAddr     string
	steps      int
	warmUp     uint64
	bootFile   string
	modelFile  string
	console    bool
	wait       bool
	healthAddr string
	statsAddr  string
	logLevel   string
)

func init() {
	flag.IntVar(&port, "port", gdb.DefaultPort, "remote debug TCP port")
	flag.StringVar(&addr, "addr", "localhost", "remote debug listen host")
	flag.StringVar(&serialPort, "serial", "", "serve remote debug sessions on a serial `device`")
	flag.IntVar(&baud, "baud", 115200, "serial baud rate")
	flag.StringVar(&wsAddr, "ws", "", "serve remote debug sessions over websockets on `addr`")
	flag.IntVar(&steps, "steps", bridge.DefaultBudget, "half-cycle step budget (0 for unlimited)")
	flag.Uint64Var(&warmUp, "warmup", bridge.DefaultWarmUp, "half-cycles to hold reset")
	flag.StringVar(&bootFile, "boot", "", "boot image `file` (one hex word per line)")
	flag.StringVar(&modelFile, "model", "", "Lua hardware model `script` (default: built-in)")
	flag.BoolVar(&console, "console", false, "run the interactive console")
	flag.BoolVar(&wait, "wait", false, "hold the bridge until a debugger attaches")
	flag.StringVar(&healthAddr, "health", "", "serve gRPC health checks on `addr`")
	flag.StringVar(&statsAddr, "statsview", "", "serve runtime statistics on `addr`")
	flag.StringVar(&logLevel, "log", "info", "log `level` (debug, info, warn, error)")
	flag.CommandLine.Usage = func() {
		fmt.Println("Usage: cosim [options] [script] ..\nOptions:")
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()

	log, err := newLogger(logLevel)
	if err != nil {
		exitOnError(err)
	}
	defer log.Sync()

	boot, err := host.LoadBootFile(bootFile)
	if err != nil {
		exitOnError(err)
	}

	m, err := luamodel.Load(modelFile, log.Named("model"))
	if err != nil {
		exitOnError(err)
	}

	h := host.New(host.Config{
		Addr:      net.JoinHostPort(addr, strconv.Itoa(port)),
		Serial:    serialPort,
		Baud:      baud,
		WebSocket: wsAddr,
		Health:    healthAddr,
		Steps:     steps,
		WarmUp:    warmUp,
		Boot:      boot,
		Wait:      wait,
		Linger:    console || wait,
		Logger:    log,
	}, m)
	if err := h.Listen(); err != nil {
		exitOnError(err)
	}
	defer h.Close()

	if statsAddr != "" {
		statsview.Launch(statsAddr, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Break on Ctrl-C.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go handleInterrupt(h, c, cancel)

	errc := make(chan error, 1)
	go func() { errc <- h.Serve(ctx) }()

	if console || flag.NArg() > 0 {
		runConsole(ctx, h)
		cancel()
	}

	if err := <-errc; err != nil {
		exitOnError(err)
	}
}

// runConsole runs the commands contained in command-line files and then,
// if requested, commands typed at the console.
func runConsole(ctx context.Context, h *host.Host) {
	for _, filename := range flag.Args() {
		file, err := os.Open(filename)
		if err != nil {
			exitOnError(err)
		}
		err = h.RunCommands(ctx, file, os.Stdout, false)
		file.Close()
		if err != nil {
			exitOnError(err)
		}
	}

	if console {
		interactive := term.IsTerminal(int(os.Stdin.Fd()))
		if err := h.RunCommands(ctx, os.Stdin, os.Stdout, interactive); err != nil {
			exitOnError(err)
		}
	}
}

func handleInterrupt(h *host.Host, c chan os.Signal, cancel context.CancelFunc) {
	for {
		<-c
		if console {
			h.Break()
		} else {
			cancel()
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level '%s'", level)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if lvl > zapcore.DebugLevel {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	return cfg.Build()
}

func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
