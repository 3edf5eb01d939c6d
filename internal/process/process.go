// Package process is C2: the fixed-size task table and PCB (process control
// block) operations. Task identifiers are monotonically assigned; identifier
// 0 is reserved for the idle task, which the table always populates at
// construction and which is never inserted into the ready queue.
package process

import (
	"github.com/ipenas-cl/AtomicOS/internal/kerrno"
)

// State is a task's scheduling state.
type State int32

const (
	Ready State = iota
	Running
	Blocked
	Suspended
	Zombie
)

func (s State) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Suspended:
		return "Suspended"
	case Zombie:
		return "Zombie"
	default:
		return "Unknown"
	}
}

// Priority bands, spec §3: 0=kernel ... 5=idle.
const (
	PriorityKernel   = 0
	PriorityRealtime = 1
	PriorityNormal   = 3
	PriorityIdle     = 5
)

// WaitReason identifies why a Blocked task is waiting.
type WaitReason int32

const (
	WaitNone WaitReason = iota
	WaitSleep
	WaitIPCReceive
)

// RTParams holds the real-time scheduling parameters of a real-time task.
type RTParams struct {
	Period            uint64
	RelativeDeadline  uint64
	WCET              uint64
	NextRelease       uint64
	AbsoluteDeadline  uint64
}

// Utilization returns WCET/Period.
func (p *RTParams) Utilization() float64 {
	if p.Period == 0 {
		return 0
	}
	return float64(p.WCET) / float64(p.Period)
}

// Context is the saved CPU context slot. A real port holds register state
// here; the simulator only needs an entry point to make dispatch observable.
type Context struct {
	EntryPoint uintptr
}

// StackRegion is a [Base, Base+Size) address range.
type StackRegion struct {
	Base uintptr
	Size uintptr
}

const (
	kernelStackSize = 4096
	userStackSize   = 8192
)

// Task is a process control block. Forward/back link fields are non-owning
// cross-links maintained exclusively by package readyqueue, valid only while
// State == Ready (spec §3 ReadyQueue ownership invariant).
type Task struct {
	ID               int32
	ParentID         int32
	Name             string
	State            State
	BasePriority     int32
	DynamicPriority  int32
	SecurityLevel    int32
	Context          Context
	KernelStack      StackRegion
	UserStack        StackRegion
	AccumulatedTicks uint64
	TimeSliceRemain  uint64
	LastScheduled    uint64
	ExecutionCount   uint64
	CumulativeCycles uint64
	PeakCycles       uint64
	DeadlineMisses   uint64
	WaitReason       WaitReason
	WakeTick         uint64
	RT               *RTParams

	Next, Prev int32 // readyqueue-owned; -1 when unlinked
}

// IsRealtime reports whether the task carries RT scheduling parameters.
func (t *Task) IsRealtime() bool {
	return t.RT != nil
}

const idleID int32 = 0

// Table is the fixed-size, statically allocated task table (spec: MAX_TASKS
// slots). It is the sole owner of every PCB; all other packages reference
// tasks through it (by ID or by the non-owning *Task handles it hands out).
type Table struct {
	slots    []Task
	occupied []bool
	nextID   int32
	current  *Task
	capacity int
}

// NewTable constructs a Table with the given static capacity (spec default
// 32) and populates the reserved idle task at slot 0.
func NewTable(capacity int) *Table {
	t := &Table{
		slots:    make([]Task, capacity),
		occupied: make([]bool, capacity),
		nextID:   1, // 0 is reserved for idle
		capacity: capacity,
	}
	idle := &t.slots[0]
	*idle = Task{
		ID:           idleID,
		Name:         "idle",
		State:        Ready,
		BasePriority: PriorityIdle,
		DynamicPriority: PriorityIdle,
		Next:         -1,
		Prev:         -1,
	}
	t.occupied[0] = true
	t.current = idle
	return t
}

// Idle returns the reserved idle task (slot 0).
func (t *Table) Idle() *Task {
	return &t.slots[0]
}

// Current returns the currently-running task. Never nil after NewTable.
func (t *Table) Current() *Task {
	return t.current
}

// SetCurrent updates the running-task pointer. Called only by the scheduler.
func (t *Table) SetCurrent(task *Task) {
	t.current = task
}

func (t *Table) firstFreeSlot() int {
	for i := 1; i < t.capacity; i++ { // slot 0 is permanently occupied by idle
		if !t.occupied[i] {
			return i
		}
	}
	return -1
}

// CreateTask allocates the first free slot for a non-realtime task,
// initializes its context, zeroes its statistics and returns its ID. Returns
// kerrno.NOMEM if the table is full.
func (t *Table) CreateTask(name string, entry uintptr, priority int32) (int32, error) {
	slot := t.firstFreeSlot()
	if slot < 0 {
		return 0, kerrno.NOMEM
	}
	id := t.nextID
	t.nextID++

	t.slots[slot] = Task{
		ID:              id,
		Name:            truncateName(name),
		State:           Ready,
		BasePriority:    priority,
		DynamicPriority: priority,
		Context:         Context{EntryPoint: entry},
		KernelStack:     StackRegion{Base: kernelStackBase(slot), Size: kernelStackSize},
		UserStack:       StackRegion{Base: userStackBase(slot), Size: userStackSize},
		Next:            -1,
		Prev:            -1,
	}
	t.occupied[slot] = true
	return id, nil
}

// CreateRTTask allocates a slot for a real-time task, at PriorityRealtime.
// It validates wcet>0, wcet<=period and deadline<=period, returning
// kerrno.INVAL otherwise (spec §4.2). Schedulability admission is the
// scheduler's responsibility and must be checked by the caller before
// CreateRTTask is invoked, so that a rejected admission leaves no partial
// state (spec §7 resource-exhaustion: all-or-nothing).
func (t *Table) CreateRTTask(name string, entry uintptr, period, deadline, wcet, now uint64) (int32, error) {
	if wcet == 0 || wcet > period || deadline > period {
		return 0, kerrno.INVAL
	}
	slot := t.firstFreeSlot()
	if slot < 0 {
		return 0, kerrno.NOMEM
	}
	id := t.nextID
	t.nextID++

	rt := &RTParams{
		Period:           period,
		RelativeDeadline: deadline,
		WCET:             wcet,
		NextRelease:      now + period,
		AbsoluteDeadline: now + deadline,
	}
	t.slots[slot] = Task{
		ID:              id,
		Name:            truncateName(name),
		State:           Ready,
		BasePriority:    PriorityRealtime,
		DynamicPriority: PriorityRealtime,
		Context:         Context{EntryPoint: entry},
		KernelStack:     StackRegion{Base: kernelStackBase(slot), Size: kernelStackSize},
		UserStack:       StackRegion{Base: userStackBase(slot), Size: userStackSize},
		RT:              rt,
		Next:            -1,
		Prev:            -1,
	}
	t.occupied[slot] = true
	return id, nil
}

// DestroyTask marks the task Zombie; it is reaped (its slot freed) by Reap.
func (t *Table) DestroyTask(id int32) error {
	task, err := t.find(id)
	if err != nil {
		return err
	}
	task.State = Zombie
	return nil
}

// Reap frees a Zombie task's slot, making it available for reuse. Returns
// kerrno.INVAL if the task is not a Zombie.
func (t *Table) Reap(id int32) error {
	slot, task, err := t.findSlot(id)
	if err != nil {
		return err
	}
	if task.State != Zombie {
		return kerrno.INVAL
	}
	t.slots[slot] = Task{}
	t.occupied[slot] = false
	return nil
}

// Get returns the task with the given ID, or kerrno.NOENT.
func (t *Table) Get(id int32) (*Task, error) {
	return t.find(id)
}

// Each iterates every occupied slot (including idle), calling fn.
func (t *Table) Each(fn func(*Task)) {
	for i := range t.slots {
		if t.occupied[i] {
			fn(&t.slots[i])
		}
	}
}

func (t *Table) find(id int32) (*Task, error) {
	for i := range t.slots {
		if t.occupied[i] && t.slots[i].ID == id {
			return &t.slots[i], nil
		}
	}
	return nil, kerrno.NOENT
}

func (t *Table) findSlot(id int32) (int, *Task, error) {
	for i := range t.slots {
		if t.occupied[i] && t.slots[i].ID == id {
			return i, &t.slots[i], nil
		}
	}
	return -1, nil, kerrno.NOENT
}

func truncateName(name string) string {
	const maxNameBytes = 16
	if len(name) <= maxNameBytes {
		return name
	}
	return name[:maxNameBytes]
}

// kernelStackBase and userStackBase derive deterministic, non-overlapping
// per-slot stack addresses in a flat identity-mapped kernel layout.
func kernelStackBase(slot int) uintptr {
	return 0x00100000 + uintptr(slot)*kernelStackSize
}

func userStackBase(slot int) uintptr {
	return 0x40000000 + uintptr(slot)*userStackSize
}
