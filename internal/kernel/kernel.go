// Package kernel wires together every kernel-core subsystem (C1-C9) into a
// single KernelState, and owns the fatal-exception path: a CPU exception or
// unrecoverable invariant violation halts scheduling and persists a crash
// dump rather than continuing in an inconsistent state (spec §9).
package kernel

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/ipenas-cl/AtomicOS/internal/bootconfig"
	"github.com/ipenas-cl/AtomicOS/internal/clock"
	"github.com/ipenas-cl/AtomicOS/internal/ipc"
	"github.com/ipenas-cl/AtomicOS/internal/irq"
	"github.com/ipenas-cl/AtomicOS/internal/irqstats"
	"github.com/ipenas-cl/AtomicOS/internal/kerrno"
	"github.com/ipenas-cl/AtomicOS/internal/klog"
	"github.com/ipenas-cl/AtomicOS/internal/platform"
	"github.com/ipenas-cl/AtomicOS/internal/process"
	"github.com/ipenas-cl/AtomicOS/internal/readyqueue"
	"github.com/ipenas-cl/AtomicOS/internal/scheduler"
	"github.com/ipenas-cl/AtomicOS/internal/syscall"
	"github.com/ipenas-cl/AtomicOS/internal/wx"
)

// userSpaceLo and userSpaceHi bound the W^X policy's user address range in
// the simulator's flat layout. The range lies above the process table's
// kernel stacks (process.go's kernelStackBase) and starts at its user-stack
// base (userStackBase), so per-task user stacks fall inside it.
const (
	userSpaceLo uintptr = 0x40000000
	userSpaceHi uintptr = 0x80000000
)

// KernelState is the fully wired kernel core: every C1-C9 subsystem plus the
// syscall dispatcher that sits on top of them.
type KernelState struct {
	Config    bootconfig.Config
	Platform  platform.Platform
	Clock     *clock.Source
	Processes *process.Table
	Ready     *readyqueue.Queue
	Scheduler *scheduler.Scheduler
	Timer     *irq.TimerHandler
	Syscalls  *syscall.Dispatcher
	IPC       *ipc.Broker
	WX        *wx.Policy
	IRQStats  *irqstats.Registry

	log      klog.Logger
	crashDir string
}

// New constructs a KernelState from a boot configuration and a platform
// binding. crashDir is where fatal-exception dumps are persisted.
func New(cfg bootconfig.Config, plat platform.Platform, crashDir string, logger klog.Logger) *KernelState {
	if logger == nil {
		logger = klog.NoOp()
	}

	mode := readyqueue.EDF
	if cfg.SchedulerMode == "rms" {
		mode = readyqueue.RMS
	}

	clk := clock.New(plat)
	procs := process.NewTable(bootconfig.MaxTasks)
	ready := readyqueue.New(procs, mode)
	sched := scheduler.New(procs, ready, mode, logger)
	stats := irqstats.NewRegistry()
	timer := irq.NewTimerHandler(clk, sched, stats, cfg.DeadlineCheckInterval, cfg.MaxIRQCycles, logger)
	broker := ipc.NewBroker(bootconfig.MaxChannels, bootconfig.MaxMessages)
	policy := wx.NewPolicy(userSpaceLo, userSpaceHi)

	k := &KernelState{
		Config:    cfg,
		Platform:  plat,
		Clock:     clk,
		Processes: procs,
		Ready:     ready,
		Scheduler: sched,
		Timer:     timer,
		IPC:       broker,
		WX:        policy,
		IRQStats:  stats,
		log:       logger,
		crashDir:  crashDir,
	}
	k.Syscalls = syscall.New(logger)
	return k
}

// Boot programs the timer at the configured rate. Call once after New.
func (k *KernelState) Boot() {
	k.Platform.TimerProgram(k.Config.TimerHz)
}

// Tick drives one timer interrupt through the full path (spec §4.5) and
// returns the task now running.
func (k *KernelState) Tick() *process.Task {
	return k.Timer.Handle()
}

// KernelState implements syscall.Machine, so KernelState itself is the
// Machine the syscall dispatcher calls back into.
var _ syscall.Machine = (*KernelState)(nil)

func (k *KernelState) CurrentTaskID() int32 {
	return k.Processes.Current().ID
}

func (k *KernelState) SecurityLevel(taskID int32) int32 {
	t, err := k.Processes.Get(taskID)
	if err != nil {
		return 0
	}
	return t.SecurityLevel
}

func (k *KernelState) ConsoleWrite(buf []byte) (int, error) {
	return k.Platform.ConsoleWrite(buf)
}

func (k *KernelState) Exit(taskID int32) {
	_ = k.Processes.DestroyTask(taskID)
}

func (k *KernelState) Yield() {
	k.Scheduler.Yield(k.Clock.Ticks())
}

func (k *KernelState) Now() uint64 {
	return k.Clock.Ticks()
}

func (k *KernelState) RTCreate(name string, period, deadline, wcet uint64, entry uintptr) (int32, error) {
	return k.Scheduler.CreateRTTask(name, entry, period, deadline, wcet, k.Clock.Ticks())
}

func (k *KernelState) SetPriority(taskID int32, priority int32) error {
	t, err := k.Processes.Get(taskID)
	if err != nil {
		return err
	}
	wasReady := t.State == process.Ready
	if wasReady {
		k.Ready.Remove(t)
	}
	t.BasePriority = priority
	t.DynamicPriority = priority
	if wasReady {
		k.Ready.Insert(t)
	}
	return nil
}

// Syscall dispatches number with params through the syscall table, measuring
// cycles against the kernel's own clock.
func (k *KernelState) Syscall(number int, params syscall.Params) syscall.Result {
	return k.Syscalls.Dispatch(k, number, params, k.Clock.Cycles)
}

// FatalError is raised for any CPU-exception-class failure the kernel cannot
// recover from in place: an invariant violation the rest of the core detects
// but has no safe local remedy for.
type FatalError struct {
	Reason string
	TaskID int32
	Tick   uint64
	Cause  error
}

func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("atomicos: fatal: %s (task %d, tick %d): %v", e.Reason, e.TaskID, e.Tick, e.Cause)
	}
	return fmt.Sprintf("atomicos: fatal: %s (task %d, tick %d)", e.Reason, e.TaskID, e.Tick)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// crashDump is the JSON document persisted on a fatal exception.
type crashDump struct {
	Reason     string          `json:"reason"`
	TaskID     int32           `json:"task_id"`
	Tick       uint64          `json:"tick"`
	Cause      string          `json:"cause,omitempty"`
	IRQHealthy bool            `json:"irq_healthy"`
	WXViolations uint64        `json:"wx_violations"`
	Errno      kerrno.Errno    `json:"errno,omitempty"`
}

// HandleFatal renders a crash dump for err and persists it atomically (via
// rename-into-place, so a reader never observes a half-written file) under
// the kernel's configured crash directory, named by tick; a second dump for
// the same tick replaces the first. It does not panic or exit; the caller decides what to do after a
// fatal exception is recorded.
func (k *KernelState) HandleFatal(fe *FatalError) error {
	dump := crashDump{
		Reason:       fe.Reason,
		TaskID:       fe.TaskID,
		Tick:         fe.Tick,
		IRQHealthy:   k.IRQStats.HealthOK(),
		WXViolations: k.WX.Violations,
	}
	if fe.Cause != nil {
		dump.Cause = fe.Cause.Error()
		if errno, ok := fe.Cause.(kerrno.Errno); ok {
			dump.Errno = errno
		}
	}

	body, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return fmt.Errorf("kernel: marshal crash dump: %w", err)
	}

	path := filepath.Join(k.crashDir, fmt.Sprintf("atomicos-%d.json", fe.Tick))
	if err := renameio.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("kernel: persist crash dump %s: %w", path, err)
	}
	klog.Error(k.log, "kernel", "fatal exception recorded", fe, map[string]any{
		"path": path, "tick": fe.Tick, "task": fe.TaskID,
	})
	return nil
}
