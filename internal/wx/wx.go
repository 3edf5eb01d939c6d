// Package wx is C8: the W^X memory-protection policy engine. It validates
// page permission bit combinations and performs the R/W<->R/X transition
// routines a port's MMU layer executes. No live mapping may ever have both
// Write and Execute set.
package wx

import (
	"github.com/ipenas-cl/AtomicOS/internal/kerrno"
)

const pageSize = uintptr(4096)

// Perm is a page permission bitmask.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
)

func (p Perm) String() string {
	s := [3]byte{'-', '-', '-'}
	if p&Read != 0 {
		s[0] = 'R'
	}
	if p&Write != 0 {
		s[1] = 'W'
	}
	if p&Exec != 0 {
		s[2] = 'X'
	}
	return string(s[:])
}

// Violation is a single rejected mapping attempt, kept for diagnostics
// (original_source/wx_protection.c's log_violation, not spelled out in the
// distilled spec's prose — see SPEC_FULL.md §C.1).
type Violation struct {
	Addr      uintptr
	Size      uintptr
	Requested Perm
	Tick      uint64
}

const violationHistory = 16

// mapping is the tracked permission state of one page range. The simulator
// does not back real memory; it only tracks permission state per range for
// the purposes of the W^X invariant and the instruction-cache-flush contract.
type mapping struct {
	addr uintptr
	size uintptr
	perm Perm
}

// Policy is the W^X policy engine. Each successful transition counts one
// instruction-cache flush (a real port flushes hardware icache for the
// range; the simulator only counts them, see Flushes).
type Policy struct {
	UserLo, UserHi uintptr
	Violations     uint64
	history        []Violation
	mappings       []mapping
	flushes        uint64
}

// NewPolicy constructs a Policy governing the user address range
// [userLo, userHi).
func NewPolicy(userLo, userHi uintptr) *Policy {
	return &Policy{UserLo: userLo, UserHi: userHi}
}

// ValidatePerms fails iff both Write and Exec are set (spec §4.8).
func ValidatePerms(bits Perm) error {
	if bits&Write != 0 && bits&Exec != 0 {
		return kerrno.SECURITY
	}
	return nil
}

// Flushes returns the number of instruction-cache flushes performed.
func (p *Policy) Flushes() uint64 {
	return p.flushes
}

// History returns the most recent rejected mapping attempts, oldest first.
func (p *Policy) History() []Violation {
	out := make([]Violation, len(p.history))
	copy(out, p.history)
	return out
}

func (p *Policy) recordViolation(addr, size uintptr, requested Perm, tick uint64) {
	p.Violations++
	p.history = append(p.history, Violation{Addr: addr, Size: size, Requested: requested, Tick: tick})
	if len(p.history) > violationHistory {
		p.history = p.history[len(p.history)-violationHistory:]
	}
}

// inRange reports whether addr and size are page-aligned and the range
// [addr, addr+size) falls entirely within [UserLo, UserHi).
func (p *Policy) inRange(addr, size uintptr) bool {
	if addr%pageSize != 0 || size%pageSize != 0 || size == 0 {
		return false
	}
	end := addr + size
	return addr >= p.UserLo && end <= p.UserHi && end > addr
}

func (p *Policy) transition(addr, size uintptr, perm Perm, tick uint64) error {
	if !p.inRange(addr, size) {
		return kerrno.INVAL
	}
	if err := ValidatePerms(perm); err != nil {
		p.recordViolation(addr, size, perm, tick)
		return err
	}
	p.setMapping(addr, size, perm)
	p.flushes++
	return nil
}

// MakeWritable validates the range is page-aligned user-space (returning
// kerrno.INVAL otherwise; it does not round to pages), updates the mapping
// to R+W (clearing X), and flushes the icache for the range.
func (p *Policy) MakeWritable(addr, size uintptr, tick uint64) error {
	return p.transition(addr, size, Read|Write, tick)
}

// MakeExecutable updates the mapping to R+X (clearing W) and flushes.
func (p *Policy) MakeExecutable(addr, size uintptr, tick uint64) error {
	return p.transition(addr, size, Read|Exec, tick)
}

// MapCodePage, MapDataPage and MapReadonlyPage are convenience wrappers that
// validate permissions before installing the page-table entry.
func (p *Policy) MapCodePage(addr uintptr, tick uint64) error {
	return p.transition(addr, pageSize, Read|Exec, tick)
}

func (p *Policy) MapDataPage(addr uintptr, tick uint64) error {
	return p.transition(addr, pageSize, Read|Write, tick)
}

func (p *Policy) MapReadonlyPage(addr uintptr, tick uint64) error {
	return p.transition(addr, pageSize, Read, tick)
}

// MapSecure attempts to install an arbitrary permission set, rejecting any
// W&X combination with kerrno.SECURITY without installing the mapping
// (spec §4.8, Scenario E).
func (p *Policy) MapSecure(addr, size uintptr, perm Perm, tick uint64) error {
	return p.transition(addr, size, perm, tick)
}

func (p *Policy) setMapping(addr, size uintptr, perm Perm) {
	for i := range p.mappings {
		if p.mappings[i].addr == addr {
			p.mappings[i].size = size
			p.mappings[i].perm = perm
			return
		}
	}
	p.mappings = append(p.mappings, mapping{addr: addr, size: size, perm: perm})
}

// PermAt returns the permission bits installed at addr, and whether any
// mapping exists there. "Not mapped" is trivially W^X-compliant (spec §4.8).
func (p *Policy) PermAt(addr uintptr) (Perm, bool) {
	for _, m := range p.mappings {
		if m.addr == addr {
			return m.perm, true
		}
	}
	return 0, false
}
