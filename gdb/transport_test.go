// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gdb_test

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/beevik/cosim/gdb"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap/zaptest"
)

// A wsClient exchanges protocol bytes with a server in websocket frames.
type wsClient struct {
	t    *testing.T
	conn net.Conn
	rw   io.ReadWriter
}

func dialWS(t *testing.T, url string) *wsClient {
	t.Helper()
	conn, br, _, err := ws.Dial(context.Background(), url)
	if err != nil {
		t.Fatal(err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	var r io.Reader = conn
	if br != nil {
		r = io.MultiReader(br, conn)
	}
	return &wsClient{
		t:    t,
		conn: conn,
		rw: struct {
			io.Reader
			io.Writer
		}{r, conn},
	}
}

func (c *wsClient) send(payload string) {
	c.t.Helper()
	if err := wsutil.WriteClientText(c.conn, gdb.Encode(payload)); err != nil {
		c.t.Fatal(err)
	}
}

func (c *wsClient) frame() string {
	c.t.Helper()
	b, err := wsutil.ReadServerText(c.rw)
	if err != nil {
		c.t.Fatal(err)
	}
	return string(b)
}

func (c *wsClient) expect(exp ...string) {
	c.t.Helper()
	for _, e := range exp {
		if got := c.frame(); got != e {
			c.t.Errorf("Frame incorrect. exp: %q, got: %q", e, got)
		}
	}
}

func TestWebSocket(t *testing.T) {
	h := newFakeHandler()
	srv := gdb.NewServer(h, gdb.Config{Logger: zaptest.NewLogger(t)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts := httptest.NewServer(srv.WebSocketHandler(ctx))
	defer ts.Close()

	c := dialWS(t, "ws"+strings.TrimPrefix(ts.URL, "http"))
	defer c.conn.Close()

	// The ack and the reply travel in separate frames.
	c.send("QStartNoAckMode")
	c.expect("+", string(gdb.Encode("OK")))

	// Control frames between packets are ignored.
	ping := ws.MaskFrameInPlace(ws.NewPingFrame([]byte("hi")))
	if err := ws.WriteFrame(c.conn, ping); err != nil {
		t.Fatal(err)
	}
	c.send("p1")
	c.expect(string(gdb.Encode(strings.Repeat("0", 31) + "1")))

	// A packet split across fragments is reassembled.
	first := ws.MaskFrameInPlace(ws.NewFrame(ws.OpText, false, []byte("$p2#")))
	rest := ws.MaskFrameInPlace(ws.NewFrame(ws.OpContinuation, true, []byte("a2")))
	for _, f := range []ws.Frame{first, rest} {
		if err := ws.WriteFrame(c.conn, f); err != nil {
			t.Fatal(err)
		}
	}
	c.expect(string(gdb.Encode(strings.Repeat("0", 31) + "2")))

	// A close frame ends the session.
	closing := ws.MaskFrameInPlace(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
	if err := ws.WriteFrame(c.conn, closing); err != nil {
		t.Fatal(err)
	}
	select {
	case <-h.disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("Session did not end after close frame")
	}
}

func TestServePortReopens(t *testing.T) {
	h := newFakeHandler()
	srv := gdb.NewServer(h, gdb.Config{Logger: zaptest.NewLogger(t)})

	ports := make(chan net.Conn, 4)
	opens := 0
	open := func() (io.ReadWriteCloser, error) {
		opens++
		if opens > 2 {
			return nil, errors.New("port gone")
		}
		c1, c2 := net.Pipe()
		ports <- c2
		return c1, nil
	}

	done := make(chan error, 1)
	go func() { done <- srv.ServePort(context.Background(), open) }()

	// Each session runs over a freshly opened port.
	for i := 0; i < 2; i++ {
		conn := <-ports
		c := &client{t: t, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}
		c.noAck()
		c.expect("D", "OK")
		conn.Close()
	}

	select {
	case err := <-done:
		if err == nil || err.Error() != "port gone" {
			t.Errorf("ServePort error incorrect. exp: port gone, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServePort did not return")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connects != 2 || h.disconnects != 2 {
		t.Errorf("Hooks incorrect. exp: 2/2, got: %d/%d", h.connects, h.disconnects)
	}
}

func TestServePortCancel(t *testing.T) {
	h := newFakeHandler()
	srv := gdb.NewServer(h, gdb.Config{Logger: zaptest.NewLogger(t)})

	ports := make(chan net.Conn, 1)
	open := func() (io.ReadWriteCloser, error) {
		c1, c2 := net.Pipe()
		ports <- c2
		return c1, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServePort(ctx, open) }()

	conn := <-ports
	defer conn.Close()
	<-h.connected
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("ServePort error incorrect. exp: %v, got: %v", context.Canceled, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServePort did not return")
	}
}
