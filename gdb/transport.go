// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.bug.st/serial"
	"go.uber.org/zap"
)

// OpenSerial opens a serial port, 8N1 at the requested baud rate, for use
// with ServeConn.
func OpenSerial(name string, baud int) (serial.Port, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("gdb: open serial port %s: %w", name, err)
	}
	return port, nil
}

// ServeSerial opens the named serial port and serves sessions over it until
// ctx is cancelled. A session ends when the client detaches; the port is
// then reopened for the next one.
func (s *Server) ServeSerial(ctx context.Context, name string, baud int) error {
	s.log.Info("serving serial port", zap.String("port", name), zap.Int("baud", baud))
	return s.ServePort(ctx, func() (io.ReadWriteCloser, error) {
		return OpenSerial(name, baud)
	})
}

// ServePort serves sessions one after another over connections returned by
// open, until ctx is cancelled or open fails.
func (s *Server) ServePort(ctx context.Context, open func() (io.ReadWriteCloser, error)) error {
	for ctx.Err() == nil {
		port, err := open()
		if err != nil {
			return err
		}
		if err := s.ServeConn(ctx, port); err != nil && ctx.Err() == nil {
			s.log.Warn("port session ended", zap.Error(err))
		}
	}
	return ctx.Err()
}

// WebSocketHandler returns an http.Handler that upgrades each request to a
// websocket and runs a session over it. Protocol bytes travel in the payload
// of text frames.
func (s *Server) WebSocketHandler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(req, rw)
		if err != nil {
			s.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		s.log.Info("websocket accepted", zap.String("remote", req.RemoteAddr))
		if err := s.ServeConn(ctx, newWSConn(conn)); err != nil && ctx.Err() == nil {
			s.log.Warn("websocket session ended", zap.Error(err))
		}
	})
}

// ServeWebSocket listens for websocket sessions on addr until ctx is
// cancelled.
func (s *Server) ServeWebSocket(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/", s.WebSocketHandler(ctx))

	srv := &http.Server{Addr: addr, Handler: mux}
	stop := context.AfterFunc(ctx, func() { srv.Close() })
	defer stop()

	s.log.Info("listening for websockets", zap.String("addr", addr))
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return fmt.Errorf("gdb: websocket listener: %w", err)
}

// wsConn adapts a server-side websocket to a byte stream.
type wsConn struct {
	conn    net.Conn
	r       *wsutil.Reader
	inFrame bool

	wmu sync.Mutex
	w   *wsutil.Writer
}

func newWSConn(conn net.Conn) *wsConn {
	return &wsConn{
		conn: conn,
		r:    wsutil.NewReader(conn, ws.StateServerSide),
		w:    wsutil.NewWriter(conn, ws.StateServerSide, ws.OpText),
	}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.inFrame {
			n, err := c.r.Read(p)
			if err == io.EOF {
				c.inFrame = false
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}

		hdr, err := c.r.NextFrame()
		if err != nil {
			return 0, err
		}
		switch {
		case hdr.OpCode == ws.OpClose:
			return 0, io.EOF
		case hdr.OpCode.IsControl():
			if err := c.r.Discard(); err != nil {
				return 0, err
			}
		default:
			c.inFrame = true
		}
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	n, err := c.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, c.w.Flush()
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
