// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import "github.com/beevik/cosim/debugger"

// The debugHandler receives notifications from the debugger and forwards
// them to the host.
type debugHandler struct {
	host *Host
}

func newDebugHandler(h *Host) *debugHandler {
	return &debugHandler{host: h}
}

func (h *debugHandler) OnBreakpoint(d *debugger.Debugger, b *debugger.Breakpoint) {
	h.host.onBreakpoint(b)
}

func (h *debugHandler) OnExit(d *debugger.Debugger, code int) {
	h.host.onExit(code)
}

func (h *debugHandler) OnStop(d *debugger.Debugger) {
	h.host.onStop()
}
