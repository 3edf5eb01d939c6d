package wx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipenas-cl/AtomicOS/internal/kerrno"
)

const userLo = uintptr(0x10000000)
const userHi = uintptr(0x20000000)

func TestValidatePerms_RejectsWriteAndExec(t *testing.T) {
	assert.NoError(t, ValidatePerms(Read))
	assert.NoError(t, ValidatePerms(Read|Write))
	assert.NoError(t, ValidatePerms(Read|Exec))
	assert.ErrorIs(t, ValidatePerms(Write|Exec), kerrno.SECURITY)
	assert.ErrorIs(t, ValidatePerms(Read|Write|Exec), kerrno.SECURITY)
}

// TestMapSecure_RejectsWX is spec §8 Scenario E.
func TestMapSecure_RejectsWX(t *testing.T) {
	p := NewPolicy(userLo, userHi)

	err := p.MapSecure(userLo, pageSize, Write|Exec, 42)
	assert.ErrorIs(t, err, kerrno.SECURITY)

	perm, mapped := p.PermAt(userLo)
	assert.False(t, mapped, "a rejected mapping must not be installed")
	assert.Equal(t, Perm(0), perm)

	assert.Equal(t, uint64(1), p.Violations)
	hist := p.History()
	require.Len(t, hist, 1)
	assert.Equal(t, userLo, hist[0].Addr)
	assert.Equal(t, uint64(42), hist[0].Tick)
	assert.Equal(t, uint64(0), p.Flushes(), "a rejected mapping must not flush the icache")
}

func TestMakeWritable_ThenMakeExecutable_Transitions(t *testing.T) {
	p := NewPolicy(userLo, userHi)

	require.NoError(t, p.MakeWritable(userLo, pageSize, 1))
	perm, mapped := p.PermAt(userLo)
	require.True(t, mapped)
	assert.Equal(t, Read|Write, perm)
	assert.Equal(t, uint64(1), p.Flushes())

	require.NoError(t, p.MakeExecutable(userLo, pageSize, 2))
	perm, mapped = p.PermAt(userLo)
	require.True(t, mapped)
	assert.Equal(t, Read|Exec, perm)
	assert.Equal(t, uint64(2), p.Flushes())
}

func TestTransition_RejectsOutOfRangeOrMisaligned(t *testing.T) {
	p := NewPolicy(userLo, userHi)

	assert.ErrorIs(t, p.MakeWritable(userLo+1, pageSize, 0), kerrno.INVAL, "misaligned address")
	assert.ErrorIs(t, p.MakeWritable(userLo, pageSize+1, 0), kerrno.INVAL, "misaligned size")
	assert.ErrorIs(t, p.MakeWritable(userHi, pageSize, 0), kerrno.INVAL, "outside user range")
	assert.ErrorIs(t, p.MakeWritable(userLo-pageSize, pageSize, 0), kerrno.INVAL, "below user range")
}

func TestPermAt_UnmappedIsTriviallyCompliant(t *testing.T) {
	p := NewPolicy(userLo, userHi)
	perm, mapped := p.PermAt(userLo)
	assert.False(t, mapped)
	assert.Equal(t, Perm(0), perm)
}

func TestMapCodeThenDataPage_ReplacesMapping(t *testing.T) {
	p := NewPolicy(userLo, userHi)
	require.NoError(t, p.MapCodePage(userLo, 1))
	perm, _ := p.PermAt(userLo)
	assert.Equal(t, Read|Exec, perm)

	require.NoError(t, p.MapDataPage(userLo, 2))
	perm, _ = p.PermAt(userLo)
	assert.Equal(t, Read|Write, perm)
}

func TestHistory_BoundedToMostRecent(t *testing.T) {
	p := NewPolicy(userLo, userHi)
	for i := 0; i < violationHistory+5; i++ {
		_ = p.MapSecure(userLo, pageSize, Write|Exec, uint64(i))
	}
	assert.Len(t, p.History(), violationHistory)
	assert.Equal(t, uint64(violationHistory+5), p.Violations)
}

func TestPermString(t *testing.T) {
	assert.Equal(t, "R--", Read.String())
	assert.Equal(t, "RW-", (Read | Write).String())
	assert.Equal(t, "R-X", (Read | Exec).String())
	assert.Equal(t, "---", Perm(0).String())
}
