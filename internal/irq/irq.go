// Package irq is C5: the timer interrupt path. Every hardware timer tick
// flows through Handle, which advances the clock, periodically sweeps
// real-time deadlines, and requests a scheduling pass, all measured against
// the MAX_IRQ_CYCLES budget (spec §4.5).
package irq

import (
	"github.com/ipenas-cl/AtomicOS/internal/clock"
	"github.com/ipenas-cl/AtomicOS/internal/irqstats"
	"github.com/ipenas-cl/AtomicOS/internal/klog"
	"github.com/ipenas-cl/AtomicOS/internal/process"
	"github.com/ipenas-cl/AtomicOS/internal/scheduler"
)

// TimerVector is the interrupt vector the timer is wired to. Ports that
// remap hardware vectors (e.g. past the legacy PIC's first 32) translate at
// the platform layer; the kernel core only ever sees this logical vector.
const TimerVector = 0

// TimerHandler owns the timer interrupt path.
type TimerHandler struct {
	clock                 *clock.Source
	sched                 *scheduler.Scheduler
	stats                 *irqstats.Registry
	log                   klog.Logger
	deadlineCheckInterval uint64
	maxIRQCycles          uint64
}

// NewTimerHandler constructs a TimerHandler. deadlineCheckInterval and
// maxIRQCycles come from bootconfig (spec defaults 100 and 2000).
func NewTimerHandler(clk *clock.Source, sched *scheduler.Scheduler, stats *irqstats.Registry, deadlineCheckInterval, maxIRQCycles uint64, logger klog.Logger) *TimerHandler {
	if logger == nil {
		logger = klog.NoOp()
	}
	return &TimerHandler{
		clock:                 clk,
		sched:                 sched,
		stats:                 stats,
		log:                   logger,
		deadlineCheckInterval: deadlineCheckInterval,
		maxIRQCycles:          maxIRQCycles,
	}
}

// Handle runs one timer interrupt: prologue (EnterInterrupt), the handler
// body (tick the clock, sweep deadlines on the configured cadence, request a
// scheduling pass), and the epilogue (ExitInterrupt), with cycle accounting
// wrapping the whole body against MAX_IRQ_CYCLES. It returns the task the
// scheduler selected to run next.
func (h *TimerHandler) Handle() *process.Task {
	h.stats.EnterInterrupt()
	defer h.stats.ExitInterrupt()

	start := h.clock.Cycles()
	now := h.clock.Tick()

	if h.deadlineCheckInterval > 0 && now%h.deadlineCheckInterval == 0 {
		h.sched.DeadlineSweep(now)
	}

	next := h.sched.Dispatch(now)

	measured := h.clock.Cycles() - start
	h.stats.Record(TimerVector, measured, h.maxIRQCycles, now)
	if measured > h.maxIRQCycles {
		klog.Error(h.log, "irq", "timer handler exceeded its cycle budget", nil, map[string]any{
			"measured": measured, "budget": h.maxIRQCycles, "tick": now,
		})
	}
	return next
}
