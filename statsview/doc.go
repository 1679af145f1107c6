// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package statsview serves live runtime statistics (heap, goroutines, GC)
// of the running simulation over HTTP. It is only built in when the
// statsview build tag is set; otherwise Launch just logs a warning.
//
// Once launched, charts are available at http://<addr>/debug/statsview and
// the standard pprof endpoints at http://<addr>/debug/pprof/.
package statsview

// DefaultAddr is the listen address used when none is given.
const DefaultAddr = "localhost:18066"

const path = "/debug/statsview"
