// Package syscall is C6: the deterministic system-call dispatcher. Each
// syscall number maps to an immutable SyscallEntry carrying its WCET bound,
// minimum security level and handler; Dispatch enforces range checking,
// security gating, and WCET measurement in the order spec §4.6 specifies.
package syscall

import (
	"github.com/ipenas-cl/AtomicOS/internal/kerrno"
	"github.com/ipenas-cl/AtomicOS/internal/klog"
)

// SysMax is the highest valid syscall number (spec §6); the table has
// SysMax+1 = 64 entries, indexed 0..63.
const SysMax = 63

// Known syscall numbers (spec §4.6), stable across ports.
const (
	SysExit       = 0
	SysGetpid     = 4
	SysWrite      = 23
	SysRTCreate   = 30
	SysRTYield    = 32
	SysRTGettime  = 34
	SysRTSetprio  = 35
)

// Machine is the callback surface a Handler uses to affect kernel state.
// Dispatcher depends only on this interface, never on package kernel, so
// there is no import cycle: kernel implements Machine and owns the
// Dispatcher.
type Machine interface {
	CurrentTaskID() int32
	SecurityLevel(taskID int32) int32
	ConsoleWrite(buf []byte) (int, error)
	Exit(taskID int32)
	Yield()
	Now() uint64
	RTCreate(name string, period, deadline, wcet uint64, entry uintptr) (int32, error)
	SetPriority(taskID int32, priority int32) error
}

// Params is one syscall invocation's arguments: up to six ABI registers plus,
// for syscalls that move a buffer (e.g. write), the bytes staged by the
// caller. The simulator has no user address space to dereference a pointer
// register against, so the buffer travels alongside the registers instead.
type Params struct {
	Regs  [6]int64
	Bytes []byte
}

// Handler implements one syscall's behavior. The return value becomes the
// syscall's non-error result (e.g. a pid).
type Handler func(m Machine, params Params) (int64, error)

// Entry is one immutable syscall-table slot (spec §3 SyscallEntry).
type Entry struct {
	Name             string
	Handler          Handler
	WCETBoundCycles  uint64
	MinSecurityLevel int32
	ParameterCount   int
	Interruptible    bool
	RTSafe           bool
}

func (e Entry) implemented() bool {
	return e.Handler != nil
}

// Stats is the per-syscall diagnostic counters (spec §4.6 step 3/7, plus
// the invocation/cycle totals original_source/syscall.c's stats struct
// tracks that the distilled spec only mentions in passing — SPEC_FULL.md §C.2).
type Stats struct {
	Invocations        uint64
	SecurityViolations uint64
	WCETViolations     uint64
	CumulativeCycles   uint64
	PeakCycles         uint64
}

// Result is a syscall's return value: a signed result (or negative error
// code) and the cycles measured around the handler invocation only.
type Result struct {
	Value  int64
	Cycles uint64
}

// Dispatcher is C6. The table is immutable after New; only Stats mutate.
type Dispatcher struct {
	table [SysMax + 1]Entry
	stats [SysMax + 1]Stats
	log   klog.Logger
}

// New constructs a Dispatcher with the spec's known syscalls registered.
func New(logger klog.Logger) *Dispatcher {
	if logger == nil {
		logger = klog.NoOp()
	}
	d := &Dispatcher{log: logger}
	d.register(SysExit, Entry{
		Name: "exit", WCETBoundCycles: 1000, MinSecurityLevel: 0,
		ParameterCount: 0, Interruptible: false, RTSafe: true,
		Handler: handleExit,
	})
	d.register(SysGetpid, Entry{
		Name: "getpid", WCETBoundCycles: 100, MinSecurityLevel: 0,
		ParameterCount: 0, Interruptible: false, RTSafe: true,
		Handler: handleGetpid,
	})
	d.register(SysWrite, Entry{
		Name: "write", WCETBoundCycles: 2000, MinSecurityLevel: 0,
		ParameterCount: 3, Interruptible: true, RTSafe: false,
		Handler: handleWrite,
	})
	d.register(SysRTCreate, Entry{
		Name: "rt_create", WCETBoundCycles: 2000, MinSecurityLevel: 1,
		ParameterCount: 4, Interruptible: true, RTSafe: false,
		Handler: handleRTCreate,
	})
	d.register(SysRTYield, Entry{
		Name: "rt_yield", WCETBoundCycles: 300, MinSecurityLevel: 0,
		ParameterCount: 0, Interruptible: false, RTSafe: true,
		Handler: handleRTYield,
	})
	d.register(SysRTGettime, Entry{
		Name: "rt_gettime", WCETBoundCycles: 100, MinSecurityLevel: 0,
		ParameterCount: 0, Interruptible: false, RTSafe: true,
		Handler: handleRTGettime,
	})
	d.register(SysRTSetprio, Entry{
		Name: "rt_setprio", WCETBoundCycles: 200, MinSecurityLevel: 0,
		ParameterCount: 1, Interruptible: false, RTSafe: true,
		Handler: handleRTSetprio,
	})
	return d
}

func (d *Dispatcher) register(number int, e Entry) {
	d.table[number] = e
}

// Stat returns a copy of number's diagnostic counters.
func (d *Dispatcher) Stat(number int) Stats {
	if number < 0 || number > SysMax {
		return Stats{}
	}
	return d.stats[number]
}

// Dispatch runs the full contract of spec §4.6, steps 1-8, using clockCycles
// to measure the handler invocation.
func (d *Dispatcher) Dispatch(m Machine, number int, params Params, clockCycles func() uint64) Result {
	if number < 0 || number > SysMax {
		return Result{Value: int64(-kerrno.NOSYS)}
	}
	entry := &d.table[number]
	if !entry.implemented() {
		return Result{Value: int64(-kerrno.NOSYS)}
	}

	stat := &d.stats[number]

	current := m.CurrentTaskID()
	if m.SecurityLevel(current) < entry.MinSecurityLevel {
		stat.SecurityViolations++
		klog.Warn(d.log, "syscall", "security gate rejected call", map[string]any{
			"syscall": entry.Name, "task": current,
		})
		return Result{Value: int64(-kerrno.PERM)}
	}

	start := clockCycles()
	value, err := entry.Handler(m, params)
	end := clockCycles()
	measured := end - start

	stat.Invocations++
	stat.CumulativeCycles += measured
	if measured > stat.PeakCycles {
		stat.PeakCycles = measured
	}
	if measured > entry.WCETBoundCycles {
		stat.WCETViolations++
		klog.Warn(d.log, "syscall", "WCET bound exceeded", map[string]any{
			"syscall": entry.Name, "measured": measured, "bound": entry.WCETBoundCycles,
		})
	}

	if err != nil {
		if errno, ok := err.(kerrno.Errno); ok {
			return Result{Value: int64(-errno), Cycles: measured}
		}
		return Result{Value: int64(-kerrno.IO), Cycles: measured}
	}
	return Result{Value: value, Cycles: measured}
}

func handleExit(m Machine, _ Params) (int64, error) {
	m.Exit(m.CurrentTaskID())
	return 0, nil
}

func handleGetpid(m Machine, _ Params) (int64, error) {
	return int64(m.CurrentTaskID()), nil
}

// handleWrite accepts only fd==1 (console), copying at most 256 bytes to
// bound WCET (spec §4.6). params.Regs[2] is the caller-declared length;
// params.Bytes is the buffer actually staged for the call.
func handleWrite(m Machine, params Params) (int64, error) {
	fd := params.Regs[0]
	n := int(params.Regs[2])
	if fd != 1 {
		return 0, kerrno.INVAL
	}
	if n < 0 || n != len(params.Bytes) {
		return 0, kerrno.INVAL
	}
	if n > 256 {
		n = 256
	}
	written, err := m.ConsoleWrite(params.Bytes[:n])
	if err != nil {
		return 0, kerrno.IO
	}
	return int64(written), nil
}

func handleRTCreate(m Machine, params Params) (int64, error) {
	period := uint64(params.Regs[0])
	wcet := uint64(params.Regs[1])
	entry := uintptr(params.Regs[2])
	deadline := uint64(params.Regs[3])
	if period == 0 || wcet > period || entry == 0 {
		return 0, kerrno.INVAL
	}
	id, err := m.RTCreate("rt_task", period, deadline, wcet, entry)
	if err != nil {
		return 0, err
	}
	return int64(id), nil
}

func handleRTYield(m Machine, _ Params) (int64, error) {
	m.Yield()
	return 0, nil
}

func handleRTGettime(m Machine, _ Params) (int64, error) {
	return int64(m.Now()), nil
}

func handleRTSetprio(m Machine, params Params) (int64, error) {
	prio := int32(params.Regs[0])
	if err := m.SetPriority(m.CurrentTaskID(), prio); err != nil {
		return 0, err
	}
	return 0, nil
}
