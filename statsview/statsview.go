// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build statsview

package statsview

import (
	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"go.uber.org/zap"
)

// Launch starts the runtime statistics viewer on a new goroutine.
func Launch(addr string, log *zap.Logger) {
	if addr == "" {
		addr = DefaultAddr
	}
	go func() {
		viewer.SetConfiguration(viewer.WithAddr(addr))
		mgr := statsview.New()
		mgr.Start()
	}()
	log.Info("stats viewer available", zap.String("url", "http://"+addr+path))
}

// Available returns true if the stats viewer was built in.
func Available() bool {
	return true
}
