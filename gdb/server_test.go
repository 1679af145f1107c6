// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gdb_test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beevik/cosim/gdb"
	"go.uber.org/zap/zaptest"
)

type fakeHandler struct {
	mu           sync.Mutex
	connects     int
	disconnects  int
	running      bool
	steps        int
	stepErr      error
	breakpoints  map[uint64]bool
	memReqs      []string
	written      map[uint64][]byte
	started      chan struct{}
	connected    chan struct{}
	disconnected chan struct{}
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		breakpoints:  make(map[uint64]bool),
		written:      make(map[uint64][]byte),
		started:      make(chan struct{}, 8),
		connected:    make(chan struct{}, 8),
		disconnected: make(chan struct{}, 8),
	}
}

func (h *fakeHandler) Connected() {
	h.mu.Lock()
	h.connects++
	h.mu.Unlock()
	h.connected <- struct{}{}
}

func (h *fakeHandler) Disconnected() {
	h.mu.Lock()
	h.disconnects++
	h.mu.Unlock()
	h.disconnected <- struct{}{}
}

func (h *fakeHandler) Start() {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	h.started <- struct{}{}
}

func (h *fakeHandler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
}

func (h *fakeHandler) Step(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stepErr != nil {
		return h.stepErr
	}
	h.steps++
	return nil
}

func (h *fakeHandler) SetBreakpoint(addr uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakpoints[addr] = true
}

func (h *fakeHandler) ClearBreakpoint(addr uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.breakpoints, addr)
}

func (h *fakeHandler) GetMemory(addr uint64, length int) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.memReqs = append(h.memReqs, fmt.Sprintf("%x,%d", addr, length))
	switch length {
	case 1, 2, 4, 8:
		return strings.Repeat("ab", length)
	}
	return "00000000"
}

func (h *fakeHandler) SetMemory(addr uint64, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.written[addr] = data
}

func (h *fakeHandler) GetRegisterValue(n int) string {
	return fmt.Sprintf("%032x", n)
}

func (h *fakeHandler) GetGeneralRegisters() string {
	return h.GetRegisterValue(0) + h.GetRegisterValue(1)
}

// A client speaks the protocol over one end of a pipe.
type client struct {
	t *testing.T
	r *bufio.Reader
	w *bufio.Writer
}

func (c *client) send(payload string) {
	c.t.Helper()
	c.raw(string(gdb.Encode(payload)))
}

func (c *client) raw(s string) {
	c.t.Helper()
	if _, err := c.w.WriteString(s); err != nil {
		c.t.Fatal(err)
	}
	if err := c.w.Flush(); err != nil {
		c.t.Fatal(err)
	}
}

// reply reads an optional ack and one packet, checking its checksum.
func (c *client) reply() (ack bool, payload string) {
	c.t.Helper()
	b, err := c.r.ReadByte()
	if err != nil {
		c.t.Fatal(err)
	}
	if b == '+' {
		ack = true
		if b, err = c.r.ReadByte(); err != nil {
			c.t.Fatal(err)
		}
	}
	if b != '$' {
		c.t.Fatalf("expected packet start, got %q", b)
	}
	body, err := c.r.ReadString('#')
	if err != nil {
		c.t.Fatal(err)
	}
	body = body[:len(body)-1]
	var cs [2]byte
	for i := range cs {
		if cs[i], err = c.r.ReadByte(); err != nil {
			c.t.Fatal(err)
		}
	}
	if exp := fmt.Sprintf("%02x", gdb.Checksum(body)); string(cs[:]) != exp {
		c.t.Errorf("checksum incorrect. exp: %s, got: %s", exp, cs)
	}
	return ack, gdb.Unescape(body)
}

func (c *client) expect(payload, exp string) {
	c.t.Helper()
	c.send(payload)
	if _, got := c.reply(); got != exp {
		c.t.Errorf("reply to %q incorrect. exp: %q, got: %q", payload, exp, got)
	}
}

func (c *client) noAck() {
	c.t.Helper()
	c.send("QStartNoAckMode")
	if _, got := c.reply(); got != "OK" {
		c.t.Fatalf("QStartNoAckMode reply incorrect: %q", got)
	}
}

type fixture struct {
	srv    *gdb.Server
	h      *fakeHandler
	c      *client
	conn   net.Conn
	done   chan error
	cancel context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	h := newFakeHandler()
	srv := gdb.NewServer(h, gdb.Config{Logger: zaptest.NewLogger(t)})
	return startSession(t, srv, h)
}

func startSession(t *testing.T, srv *gdb.Server, h *fakeHandler) *fixture {
	c1, c2 := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{
		srv:    srv,
		h:      h,
		c:      &client{t: t, r: bufio.NewReader(c2), w: bufio.NewWriter(c2)},
		conn:   c2,
		done:   make(chan error, 1),
		cancel: cancel,
	}
	go func() { f.done <- srv.ServeConn(ctx, c1) }()
	t.Cleanup(func() {
		cancel()
		c2.Close()
	})
	return f
}

func (f *fixture) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func TestQSupportedNoAckMode(t *testing.T) {
	f := newFixture(t)
	c := f.c

	c.send("qSupported:multiprocess+")
	ack, payload := c.reply()
	if !ack {
		t.Errorf("expected ack for qSupported")
	}
	if !strings.HasPrefix(payload, "PacketSize=") || !strings.Contains(payload, "QStartNoAckMode+") {
		t.Errorf("unexpected payload: %q", payload)
	}

	c.send("QStartNoAckMode")
	ack, payload = c.reply()
	if !ack || payload != "OK" {
		t.Errorf("QStartNoAckMode reply incorrect. exp: ack OK, got: %v %q", ack, payload)
	}

	c.send("g")
	ack, payload = c.reply()
	if ack {
		t.Errorf("did not expect ack after no-ack mode")
	}
	if exp := fmt.Sprintf("%032x%032x", 0, 1); payload != exp {
		t.Errorf("g reply incorrect. exp: %q, got: %q", exp, payload)
	}
}

func TestBadChecksum(t *testing.T) {
	f := newFixture(t)
	f.c.raw("$g#00")
	b, err := f.c.r.ReadByte()
	if err != nil {
		t.Fatal(err)
	}
	if b != '-' {
		t.Errorf("expected nak, got %q", b)
	}

	// The session survives.
	f.c.expect("p1", fmt.Sprintf("%032x", 1))
}

func TestMemory(t *testing.T) {
	f := newFixture(t)
	f.c.noAck()

	f.c.expect("mf800,8", "abababababababab")
	f.c.expect("m100,4", "abababab")
	f.c.expect("m100", "E01")
	f.c.expect("mzz,4", "E01")
	f.c.expect("M200,2:beef", "OK")
	f.c.expect("M200,3:beef", "E01")

	// Unsupported lengths reach the handler, which answers with the
	// sentinel.
	f.c.expect("m100,10000", "00000000")
	f.c.expect("m100,ffffffffffffffff", "00000000")

	f.h.mu.Lock()
	defer f.h.mu.Unlock()
	exp := "f800,8 100,4 100,65536 100,0"
	if got := strings.Join(f.h.memReqs, " "); got != exp {
		t.Errorf("memory requests incorrect. exp: %q, got: %q", exp, got)
	}
	if got := f.h.written[0x200]; string(got) != "\xbe\xef" {
		t.Errorf("memory write incorrect. exp: beef, got: %x", got)
	}
}

func TestOversizedPacket(t *testing.T) {
	f := newFixture(t)
	f.c.raw("$" + strings.Repeat("a", gdb.MaxPacketSize+1) + "#00")
	b, err := f.c.r.ReadByte()
	if err != nil {
		t.Fatal(err)
	}
	if b != '-' {
		t.Errorf("expected nak, got %q", b)
	}

	// The session survives.
	f.c.expect("p1", fmt.Sprintf("%032x", 1))
}

func TestRegisters(t *testing.T) {
	f := newFixture(t)
	f.c.noAck()
	f.c.expect("p0", fmt.Sprintf("%032x", 0))
	f.c.expect("p1f", fmt.Sprintf("%032x", 31))
	f.c.expect("pxyz", "E01")
}

func TestBreakpoints(t *testing.T) {
	f := newFixture(t)
	f.c.noAck()

	f.c.expect("Z0,f808,4", "OK")
	f.c.expect("Z0,f808,4", "OK")
	f.c.expect("Z0,f810,4", "OK")
	f.c.expect("z0,f810,4", "OK")
	f.c.expect("z0,dead,4", "OK")
	f.c.expect("Z1,f808,4", "")
	f.c.expect("Z0", "E01")

	f.h.mu.Lock()
	defer f.h.mu.Unlock()
	if len(f.h.breakpoints) != 1 || !f.h.breakpoints[0xf808] {
		t.Errorf("breakpoints incorrect. exp: map[f808], got: %v", f.h.breakpoints)
	}
}

func TestStep(t *testing.T) {
	f := newFixture(t)
	f.c.noAck()
	f.c.expect("?", "S05")
	f.c.expect("s", "S05")
	f.c.expect("s", "S05")

	f.h.mu.Lock()
	steps := f.h.steps
	f.h.stepErr = gdb.ErrTargetExited
	f.h.mu.Unlock()
	if steps != 2 {
		t.Errorf("steps incorrect. exp: 2, got: %d", steps)
	}

	f.c.expect("s", "W00")
	f.c.expect("?", "W00")
}

func TestContinueBreakpointHit(t *testing.T) {
	f := newFixture(t)
	f.c.noAck()

	f.c.send("c")
	<-f.h.started
	f.srv.BreakpointHit()
	if _, got := f.c.reply(); got != "S05" {
		t.Errorf("stop reply incorrect. exp: S05, got: %q", got)
	}
}

func TestInterrupt(t *testing.T) {
	f := newFixture(t)
	f.c.noAck()

	f.c.send("c")
	<-f.h.started
	f.c.raw("\x03")
	if _, got := f.c.reply(); got != "S02" {
		t.Errorf("interrupt reply incorrect. exp: S02, got: %q", got)
	}

	f.h.mu.Lock()
	defer f.h.mu.Unlock()
	if f.h.running {
		t.Errorf("target still running after interrupt")
	}
}

func TestExited(t *testing.T) {
	f := newFixture(t)
	f.c.noAck()

	f.c.send("c")
	<-f.h.started

	// Exited waits until the reply has been delivered.
	exited := make(chan struct{})
	go func() {
		f.srv.Exited(0)
		close(exited)
	}()
	if _, got := f.c.reply(); got != "W00" {
		t.Errorf("exit reply incorrect. exp: W00, got: %q", got)
	}
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("Exited did not return")
	}

	f.c.expect("c", "W00")
	f.c.expect("s", "W00")
}

func TestExitedWhileStopped(t *testing.T) {
	f := newFixture(t)
	f.c.noAck()

	// No continue is outstanding, so nothing is sent until asked.
	f.srv.Exited(3)
	f.c.expect("?", "W03")
	f.c.expect("c", "W03")
}

func TestExitedAfterSessionEnds(t *testing.T) {
	f := newFixture(t)
	f.c.noAck()
	f.c.expect("D", "OK")
	if err := f.wait(t); err != nil {
		t.Errorf("ServeConn returned %v", err)
	}

	// With no active session, Exited only records the status.
	f.srv.Exited(0)

	f2 := startSession(t, f.srv, f.h)
	f2.c.noAck()
	f2.c.expect("?", "W00")
}

func TestQXfer(t *testing.T) {
	f := newFixture(t)
	f.c.noAck()

	f.c.expect("qXfer:features:read:target.xml:0,fff", "l"+gdb.DefaultTargetXML)
	f.c.expect("qXfer:features:read:target.xml:0,5", "m<?xml")
	f.c.expect("qXfer:features:read:other.xml:0,fff", "E00")
	f.c.expect("qXfer:memory-map:read::0,fff", "l"+gdb.DefaultMemoryMapXML)
	f.c.expect("qXfer:memory-map:read::0", "E01")
}

func TestUnsupported(t *testing.T) {
	f := newFixture(t)
	f.c.noAck()
	f.c.expect("vMustReplyEmpty", "")
	f.c.expect("qTStatus", "")
	f.c.expect("Hg0", "OK")
	f.c.expect("qAttached", "1")
}

func TestDetach(t *testing.T) {
	f := newFixture(t)
	f.c.noAck()
	f.c.expect("D", "OK")

	if err := f.wait(t); err != nil {
		t.Errorf("ServeConn returned %v", err)
	}

	f.h.mu.Lock()
	defer f.h.mu.Unlock()
	if f.h.connects != 1 || f.h.disconnects != 1 {
		t.Errorf("hooks incorrect. exp: 1/1, got: %d/%d", f.h.connects, f.h.disconnects)
	}
}

func TestClientDisconnect(t *testing.T) {
	f := newFixture(t)
	f.c.noAck()
	f.conn.Close()

	if err := f.wait(t); err != nil {
		t.Errorf("ServeConn returned %v", err)
	}
	f.h.mu.Lock()
	defer f.h.mu.Unlock()
	if f.h.disconnects != 1 {
		t.Errorf("disconnects incorrect. exp: 1, got: %d", f.h.disconnects)
	}
}

func TestSingleSession(t *testing.T) {
	h := newFakeHandler()
	srv := gdb.NewServer(h, gdb.Config{Logger: zaptest.NewLogger(t)})

	first := startSession(t, srv, h)
	<-h.connected
	second := startSession(t, srv, h)

	select {
	case <-h.connected:
		t.Fatal("second session connected while the first was active")
	case <-time.After(50 * time.Millisecond):
	}

	first.c.expect("D", "OK")
	first.wait(t)

	select {
	case <-h.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("second session never connected")
	}
	second.c.expect("?", "S05")
}

func TestListenFailure(t *testing.T) {
	h := newFakeHandler()
	a := gdb.NewServer(h, gdb.Config{})
	if err := a.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	b := gdb.NewServer(h, gdb.Config{})
	if err := b.Listen(a.Addr().String()); err == nil {
		b.Close()
		t.Errorf("second listener on %s succeeded", a.Addr())
	}
}

func TestServeTCP(t *testing.T) {
	h := newFakeHandler()
	srv := gdb.NewServer(h, gdb.Config{Logger: zaptest.NewLogger(t)})
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	// Two sessions in a row: a reconnect gets a fresh session.
	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", srv.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		c := &client{t: t, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}
		c.noAck()
		c.expect("?", "S05")
		c.expect("D", "OK")
		conn.Close()
		<-h.connected
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
