package readyqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipenas-cl/AtomicOS/internal/process"
)

func newTestTask(t *testing.T, table *process.Table, name string, priority int32) *process.Task {
	t.Helper()
	id, err := table.CreateTask(name, 0x1000, priority)
	require.NoError(t, err)
	task, err := table.Get(id)
	require.NoError(t, err)
	return task
}

func TestInsert_OrdersByPriority(t *testing.T) {
	table := process.NewTable(8)
	q := New(table, EDF)

	low := newTestTask(t, table, "low", process.PriorityNormal+1)
	high := newTestTask(t, table, "high", process.PriorityKernel)
	mid := newTestTask(t, table, "mid", process.PriorityNormal)

	q.Insert(low)
	q.Insert(high)
	q.Insert(mid)

	assert.Equal(t, high.ID, q.Head().ID)
	assert.Equal(t, 3, q.Len())
}

func TestInsert_IdleNeverEnqueued(t *testing.T) {
	table := process.NewTable(4)
	q := New(table, EDF)
	q.Insert(table.Idle())
	assert.Equal(t, 0, q.Len())
}

func TestInsert_EDFTieBreak(t *testing.T) {
	table := process.NewTable(8)
	q := New(table, EDF)

	idA, err := table.CreateRTTask("a", 0x1000, 1000, 800, 100, 0)
	require.NoError(t, err)
	idB, err := table.CreateRTTask("b", 0x2000, 500, 300, 50, 0)
	require.NoError(t, err)

	a, _ := table.Get(idA)
	b, _ := table.Get(idB)
	q.Insert(a)
	q.Insert(b)

	// b has the earlier absolute deadline (300 < 800), so it sorts first.
	assert.Equal(t, b.ID, q.Head().ID)
}

func TestInsert_RMSTieBreak(t *testing.T) {
	table := process.NewTable(8)
	q := New(table, RMS)

	idA, err := table.CreateRTTask("a", 0x1000, 5000, 800, 100, 0)
	require.NoError(t, err)
	idB, err := table.CreateRTTask("b", 0x2000, 1000, 300, 50, 0)
	require.NoError(t, err)

	a, _ := table.Get(idA)
	b, _ := table.Get(idB)
	q.Insert(a)
	q.Insert(b)

	// b has the shorter period (1000 < 5000), so it sorts first under RMS.
	assert.Equal(t, b.ID, q.Head().ID)
}

func TestInsert_RealtimePrecedesNonRealtime(t *testing.T) {
	table := process.NewTable(8)
	q := New(table, EDF)

	nonRT := newTestTask(t, table, "nonrt", process.PriorityRealtime)
	rtID, err := table.CreateRTTask("rt", 0x2000, 1000, 800, 100, 0)
	require.NoError(t, err)
	rt, _ := table.Get(rtID)

	q.Insert(nonRT)
	q.Insert(rt)

	assert.Equal(t, rt.ID, q.Head().ID)
}

func TestRemove_UnlinksInO1(t *testing.T) {
	table := process.NewTable(8)
	q := New(table, EDF)

	a := newTestTask(t, table, "a", process.PriorityNormal)
	b := newTestTask(t, table, "b", process.PriorityNormal)
	c := newTestTask(t, table, "c", process.PriorityNormal)
	q.Insert(a)
	q.Insert(b)
	q.Insert(c)

	q.Remove(b)
	assert.Equal(t, 2, q.Len())
	assert.False(t, q.Contains(b.ID))
	assert.True(t, q.Contains(a.ID))
	assert.True(t, q.Contains(c.ID))
}

func TestHead_ReturnsIdleWhenEmpty(t *testing.T) {
	table := process.NewTable(4)
	q := New(table, EDF)
	assert.Equal(t, int32(0), q.Head().ID)
}
