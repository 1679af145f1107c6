// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !statsview

package statsview

import "go.uber.org/zap"

// Launch logs that the stats viewer is unavailable.
func Launch(addr string, log *zap.Logger) {
	log.Warn("stats viewer not available; rebuild with -tags statsview")
}

// Available returns true if the stats viewer was built in.
func Available() bool {
	return false
}
