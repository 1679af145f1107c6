// Copyright 2026 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"fmt"
	"io"
	"sync"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/beevik/cosim/bridge"
	"github.com/beevik/cosim/memory"
)

// maxSamples bounds the number of read addresses kept for the histogram.
const maxSamples = 4096

// busStats observes bus transactions on the loop goroutine and reports them
// on the console goroutine.
type busStats struct {
	mu      sync.Mutex
	bridge  bridge.Stats
	samples []float64 // most recent read addresses, oldest overwritten first
	next    int
	last    bridge.Transaction
}

func newBusStats() *busStats {
	return &busStats{samples: make([]float64, 0, maxSamples)}
}

// OnTransaction records the read address of each serviced transaction.
func (s *busStats) OnTransaction(b *bridge.Bridge, tx *bridge.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.samples) < maxSamples {
		s.samples = append(s.samples, float64(tx.ReadAddr))
	} else {
		s.samples[s.next] = float64(tx.ReadAddr)
		s.next = (s.next + 1) % maxSamples
	}
	s.last = *tx
}

// update copies the bridge counters after a step.
func (s *busStats) update(st bridge.Stats) {
	s.mu.Lock()
	s.bridge = st
	s.mu.Unlock()
}

func (s *busStats) counters() bridge.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge
}

// Fprint writes the counters, the memory engine's bookkeeping, and a
// histogram of recent read addresses.
func (s *busStats) Fprint(w io.Writer, mem memory.Stats, bins int) error {
	s.mu.Lock()
	st := s.bridge
	last := s.last
	samples := append([]float64(nil), s.samples...)
	s.mu.Unlock()

	fmt.Fprintf(w, "Steps:        %d\n", st.Steps)
	fmt.Fprintf(w, "Transactions: %d\n", st.Transactions)
	fmt.Fprintf(w, "Writes:       %d\n", st.Writes)
	fmt.Fprintf(w, "Blocks:       %d (%d bytes)\n", mem.Blocks, mem.Bytes)
	fmt.Fprintf(w, "Mem reads:    %d\n", mem.Reads)
	fmt.Fprintf(w, "Mem writes:   %d\n", mem.Writes)

	if st.Transactions == 0 || len(samples) == 0 {
		return nil
	}
	fmt.Fprintf(w, "Last:         t=%d read $%X -> $%016X\n", last.Time, last.ReadAddr, last.ReadData)

	if bins < 1 {
		bins = 1
	}
	fmt.Fprintln(w, "\nRead addresses:")
	return histogram.Fprint(w, histogram.Hist(bins, samples), histogram.Linear(40))
}
