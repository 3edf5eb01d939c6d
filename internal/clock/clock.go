// Package clock is C1: the monotonic tick counter and cycle counter source.
// Ticks and cycles are read-only from outside the interrupt path; only
// Source.Tick (called from the timer interrupt path, C5) advances ticks.
package clock

import (
	"sync/atomic"

	"github.com/ipenas-cl/AtomicOS/internal/platform"
)

// Source is the monotonic time source. On real 32-bit ports ticks() must be
// read atomically with respect to its 32-bit increment split; atomic.Uint64
// gives that for free on every platform Go supports.
type Source struct {
	ticks atomic.Uint64
	plat  platform.Platform
}

// New constructs a Source backed by plat's cycle counter.
func New(plat platform.Platform) *Source {
	return &Source{plat: plat}
}

// Ticks returns the number of timer interrupts observed so far.
func (s *Source) Ticks() uint64 {
	return s.ticks.Load()
}

// Tick increments the tick counter exactly once. Only the timer interrupt
// path (C5) may call this.
func (s *Source) Tick() uint64 {
	return s.ticks.Add(1)
}

// Cycles returns the hardware cycle counter, used only for WCET measurement.
func (s *Source) Cycles() uint64 {
	return s.plat.CycleCounterRead()
}
