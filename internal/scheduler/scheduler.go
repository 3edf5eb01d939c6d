// Package scheduler is C4: schedulability admission and the dispatch loop
// operating over the C2 process table and C3 ready queue. It supports both
// EDF and RMS tie-break modes (spec §4.3), switched at runtime by SetMode.
package scheduler

import (
	"math"

	"github.com/ipenas-cl/AtomicOS/internal/kerrno"
	"github.com/ipenas-cl/AtomicOS/internal/klog"
	"github.com/ipenas-cl/AtomicOS/internal/process"
	"github.com/ipenas-cl/AtomicOS/internal/readyqueue"
)

// DefaultTimeSlice is the time-slice, in ticks, a non-real-time task gets
// when dispatched (spec §4.3).
const DefaultTimeSlice uint64 = 10

// Scheduler owns admission control and the dispatch algorithm. It does not
// own the process table or ready queue; both are shared with the rest of
// the kernel.
type Scheduler struct {
	table *process.Table
	queue *readyqueue.Queue
	mode  readyqueue.Mode
	log   klog.Logger
}

// New constructs a Scheduler operating in the given mode.
func New(table *process.Table, queue *readyqueue.Queue, mode readyqueue.Mode, logger klog.Logger) *Scheduler {
	if logger == nil {
		logger = klog.NoOp()
	}
	queue.SetMode(mode)
	return &Scheduler{table: table, queue: queue, mode: mode, log: logger}
}

// Mode returns the active scheduling mode.
func (s *Scheduler) Mode() readyqueue.Mode {
	return s.mode
}

// SetMode switches between EDF and RMS tie-break rules (spec §4.3
// set_mode). Tasks already linked keep their relative order until the next
// Insert/Remove cycle touches them.
func (s *Scheduler) SetMode(mode readyqueue.Mode) {
	s.mode = mode
	s.queue.SetMode(mode)
}

// totalRTUtilization sums WCET/Period across every real-time task currently
// in the table (idle and non-RT tasks contribute nothing).
func (s *Scheduler) totalRTUtilization() (sum float64, count int) {
	s.table.Each(func(t *process.Task) {
		if t.IsRealtime() {
			sum += t.RT.Utilization()
			count++
		}
	})
	return sum, count
}

// rmsBound is the Liu-Layland schedulability bound n(2^(1/n)-1) for a task
// set of size n (spec §4.3).
func rmsBound(n int) float64 {
	if n <= 0 {
		return 1
	}
	return float64(n) * (math.Pow(2, 1/float64(n)) - 1)
}

// Admits reports whether adding one more real-time task at the given
// utilization keeps the real-time task set schedulable: ΣU<=1 under EDF, the
// Liu-Layland bound under RMS (spec §4.3).
func (s *Scheduler) Admits(candidateUtil float64) bool {
	sum, count := s.totalRTUtilization()
	total := sum + candidateUtil
	if s.mode == readyqueue.EDF {
		return total <= 1.0
	}
	return total <= rmsBound(count+1)
}

// CreateRTTask runs schedulability admission before allocating the task
// table slot: a rejected admission touches no state (spec §7, resource
// exhaustion is all-or-nothing). On success the task is linked into the
// ready queue.
func (s *Scheduler) CreateRTTask(name string, entry uintptr, period, deadline, wcet, now uint64) (int32, error) {
	if period == 0 || wcet == 0 || wcet > period {
		return 0, kerrno.INVAL
	}
	if !s.Admits(float64(wcet) / float64(period)) {
		klog.Warn(s.log, "scheduler", "rt task admission rejected", map[string]any{
			"period": period, "wcet": wcet, "mode": s.mode,
		})
		return 0, kerrno.NOMEM
	}
	id, err := s.table.CreateRTTask(name, entry, period, deadline, wcet, now)
	if err != nil {
		return 0, err
	}
	task, err := s.table.Get(id)
	if err != nil {
		return 0, err
	}
	s.queue.Insert(task)
	return id, nil
}

// AccountCycles records consumed cycles against task after a run interval
// ends (by preemption, yield, block, or exit), updating its cumulative and
// peak cycle counters and, for a real-time task, logging a soft WCET
// violation without terminating it (spec §4.3, SPEC_FULL.md §C.2).
func (s *Scheduler) AccountCycles(task *process.Task, consumed uint64) {
	if task.ID == 0 {
		return
	}
	task.ExecutionCount++
	task.CumulativeCycles += consumed
	if consumed > task.PeakCycles {
		task.PeakCycles = consumed
	}
	task.AccumulatedTicks++
	if task.IsRealtime() && consumed > task.RT.WCET {
		klog.Warn(s.log, "scheduler", "task exceeded declared WCET", map[string]any{
			"task": task.ID, "consumed": consumed, "wcet": task.RT.WCET,
		})
	}
}

// Dispatch runs one scheduling decision at tick now: it decrements the
// running task's time slice, re-enqueues it on expiry, picks the
// highest-priority eligible ready task (idle if none), and performs the
// context switch bookkeeping (spec §4.3 dispatch algorithm). It returns the
// task that should now be running.
func (s *Scheduler) Dispatch(now uint64) *process.Task {
	current := s.table.Current()

	if current.ID != 0 && current.State == process.Running {
		if current.TimeSliceRemain > 0 {
			current.TimeSliceRemain--
		}
		if current.TimeSliceRemain == 0 {
			current.State = process.Ready
			s.queue.Insert(current)
		}
	}

	// The ready queue is priority-ordered; per spec §4.4 step 2, an
	// unreleased real-time head falls back straight to idle rather than
	// considering lower-priority peers behind it.
	next := s.queue.Head()
	if next.IsRealtime() && now < next.RT.NextRelease {
		next = s.table.Idle()
	}

	if next.ID == current.ID && current.State == process.Running {
		return current
	}

	if next.ID != 0 {
		s.queue.Remove(next)
	}
	next.State = process.Running
	next.LastScheduled = now
	if next.IsRealtime() {
		next.TimeSliceRemain = next.RT.WCET
	} else {
		next.TimeSliceRemain = DefaultTimeSlice
	}
	s.table.SetCurrent(next)
	return next
}

// Yield forces the current task off the CPU voluntarily (spec §4.6
// rt_yield) and runs a fresh dispatch.
func (s *Scheduler) Yield(now uint64) *process.Task {
	if current := s.table.Current(); current.ID != 0 && current.State == process.Running {
		current.TimeSliceRemain = 0
	}
	return s.Dispatch(now)
}

// Block removes task from the ready queue (if linked) and marks it Blocked
// for reason. The caller must still invoke Dispatch to pick a replacement.
func (s *Scheduler) Block(task *process.Task, reason process.WaitReason) {
	s.queue.Remove(task)
	task.State = process.Blocked
	task.WaitReason = reason
}

// DeadlineSweep runs the periodic deadline/release check (spec §4.3: every
// DEADLINE_CHECK_INTERVAL ticks), bundled into the single
// now > absolute_deadline branch original_source/process.c's
// check_deadline_miss uses: a miss is counted exactly once, at the same
// moment the release is advanced, rather than on every sweep between the
// stale deadline and the next release. Deadline misses are recorded, never
// fatal.
func (s *Scheduler) DeadlineSweep(now uint64) {
	s.table.Each(func(t *process.Task) {
		if t.ID == 0 || !t.IsRealtime() {
			return
		}
		rt := t.RT
		if now > rt.AbsoluteDeadline {
			t.DeadlineMisses++
			klog.Warn(s.log, "scheduler", "deadline miss", map[string]any{
				"task": t.ID, "now": now, "deadline": rt.AbsoluteDeadline,
			})

			rt.NextRelease += rt.Period
			rt.AbsoluteDeadline = rt.NextRelease + rt.RelativeDeadline
			if t.State != process.Running {
				t.State = process.Ready
				if !s.queue.Contains(t.ID) {
					s.queue.Insert(t)
				}
			}
		}
	})
}
