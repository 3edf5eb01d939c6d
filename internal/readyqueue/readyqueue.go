// Package readyqueue is C3: a priority-ordered doubly linked list over the
// process table's fixed PCB arena. Following the re-architecture guidance in
// spec §9, there are no pointers: membership is expressed as a head/tail pair
// of task IDs, and links live in Task.Next/Task.Prev (task IDs, -1 sentinel),
// fields this package is the sole owner of while a task is Ready.
package readyqueue

import (
	"github.com/ipenas-cl/AtomicOS/internal/process"
)

const sentinel int32 = -1

// Mode selects the tie-break rule applied to equal-priority real-time peers.
type Mode int32

const (
	// EDF orders equal-priority real-time peers by earlier absolute deadline.
	EDF Mode = iota
	// RMS orders equal-priority real-time peers by shorter period.
	RMS
)

// Queue orders Ready tasks by (dynamic priority asc, real-time before
// non-real-time at equal priority, RT peers ordered per Mode, then FIFO).
type Queue struct {
	table      *process.Table
	mode       Mode
	head, tail int32
	size       int
}

// New constructs an empty Queue over table, ordering RT peers per mode.
func New(table *process.Table, mode Mode) *Queue {
	return &Queue{table: table, mode: mode, head: sentinel, tail: sentinel}
}

// SetMode changes the tie-break rule applied to future insertions. It does
// not reorder tasks already linked.
func (q *Queue) SetMode(mode Mode) {
	q.mode = mode
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	return q.size
}

func (q *Queue) task(id int32) *process.Task {
	if id == sentinel {
		return nil
	}
	t, err := q.table.Get(id)
	if err != nil {
		return nil
	}
	return t
}

// precedes reports whether a belongs strictly before b in queue order.
func (q *Queue) precedes(a, b *process.Task) bool {
	if a.DynamicPriority != b.DynamicPriority {
		return a.DynamicPriority < b.DynamicPriority
	}
	aRT, bRT := a.IsRealtime(), b.IsRealtime()
	if aRT != bRT {
		return aRT // real-time precedes non-real-time
	}
	if aRT && bRT {
		if q.mode == RMS {
			return a.RT.Period < b.RT.Period
		}
		return a.RT.AbsoluteDeadline < b.RT.AbsoluteDeadline
	}
	return false // equal priority, both non-RT: FIFO, so a does not jump ahead of b
}

// Insert walks from head while the existing entry's priority is <= the new
// task's, applying the tie-break rules, and links task in just before the
// first strictly-greater (lower priority) entry. The idle task is never
// inserted.
func (q *Queue) Insert(task *process.Task) {
	if task.ID == 0 {
		return // idle task is never enqueued
	}

	task.Next, task.Prev = sentinel, sentinel

	if q.head == sentinel {
		q.head, q.tail = task.ID, task.ID
		q.size++
		return
	}

	cur := q.head
	var prev int32 = sentinel
	for cur != sentinel {
		curTask := q.task(cur)
		if q.precedes(task, curTask) {
			break
		}
		prev = cur
		cur = curTask.Next
	}

	task.Prev, task.Next = prev, cur
	if prev != sentinel {
		q.task(prev).Next = task.ID
	} else {
		q.head = task.ID
	}
	if cur != sentinel {
		q.task(cur).Prev = task.ID
	} else {
		q.tail = task.ID
	}
	q.size++
}

// Remove unlinks task in O(1) using its back-pointer. It is a no-op if the
// task is not currently linked.
func (q *Queue) Remove(task *process.Task) {
	if task.Prev == sentinel && task.Next == sentinel && q.head != task.ID {
		return // not linked
	}

	if task.Prev != sentinel {
		q.task(task.Prev).Next = task.Next
	} else if q.head == task.ID {
		q.head = task.Next
	}

	if task.Next != sentinel {
		q.task(task.Next).Prev = task.Prev
	} else if q.tail == task.ID {
		q.tail = task.Prev
	}

	task.Next, task.Prev = sentinel, sentinel
	q.size--
}

// Head returns the highest-priority Ready task, or the idle task if the
// queue is empty.
func (q *Queue) Head() *process.Task {
	if q.head == sentinel {
		return q.table.Idle()
	}
	return q.task(q.head)
}


// Contains reports whether id is currently linked in the queue.
func (q *Queue) Contains(id int32) bool {
	for cur := q.head; cur != sentinel; {
		if cur == id {
			return true
		}
		cur = q.task(cur).Next
	}
	return false
}
