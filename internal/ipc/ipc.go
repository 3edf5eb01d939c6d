// Package ipc is C7: the static-allocation IPC message broker. Channels and
// messages are drawn from fixed-capacity arenas (spec §9 re-architecture
// guidance): a channel table of MAX_CHANNELS slots and a message pool of
// MAX_MESSAGES slots, linked by index rather than pointer.
package ipc

import (
	"github.com/ipenas-cl/AtomicOS/internal/kerrno"
)

const (
	MaxMessageSize = 256
	sentinel       = -1
)

// Perm is a channel permission bitmask.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
)

// message is one pool-allocated IPC message. next is the index of the next
// message linked into the same channel queue, or sentinel at the tail.
type message struct {
	sender, receiver int32
	msgType          int32
	length           int
	payload          [MaxMessageSize]byte
	next             int32
}

// channel is one IPC channel: a fixed-capacity FIFO of message indices.
type channel struct {
	id       int32
	owner    int32
	perm     Perm
	head, tail int32
	depth    int
	maxDepth int
	inUse    bool
}

// Broker is the fixed-table IPC message broker.
type Broker struct {
	channels []channel
	nextID   int32

	pool     []message
	poolUsed []bool
	poolFree []int32 // stack of free pool slot indices
}

// NewBroker constructs a Broker with maxChannels channel slots and
// maxMessages pool slots (spec defaults: 16 and 32). A channel's own max
// queue depth is set per-channel by CreateChannel.
func NewBroker(maxChannels, maxMessages int) *Broker {
	b := &Broker{
		channels: make([]channel, maxChannels),
		nextID:   1,
		pool:     make([]message, maxMessages),
		poolUsed: make([]bool, maxMessages),
		poolFree: make([]int32, maxMessages),
	}
	for i := range b.poolFree {
		b.poolFree[maxMessages-1-i] = int32(i) // order is irrelevant; any free slot works
	}
	return b
}

// FreeMessages returns the number of pool slots not currently linked into
// any channel queue. Invariant (spec §8 property 5): FreeMessages() plus the
// sum of every channel's Depth equals len(pool) at all observable points.
func (b *Broker) FreeMessages() int {
	return len(b.poolFree)
}

func (b *Broker) findChannel(id int32) (*channel, error) {
	for i := range b.channels {
		if b.channels[i].inUse && b.channels[i].id == id {
			return &b.channels[i], nil
		}
	}
	return nil, kerrno.NOENT
}

func (b *Broker) firstFreeChannelSlot() int {
	for i := range b.channels {
		if !b.channels[i].inUse {
			return i
		}
	}
	return -1
}

// CreateChannel allocates a channel owned by owner with the given
// permissions and max queue depth, returning its ID, or 0 on failure (the
// channel table is full).
func (b *Broker) CreateChannel(owner int32, perm Perm, maxDepth int) int32 {
	slot := b.firstFreeChannelSlot()
	if slot < 0 {
		return 0
	}
	id := b.nextID
	b.nextID++
	b.channels[slot] = channel{
		id:       id,
		owner:    owner,
		perm:     perm,
		head:     sentinel,
		tail:     sentinel,
		maxDepth: maxDepth,
		inUse:    true,
	}
	return id
}

// Depth returns a channel's current queue depth, or -1 if it doesn't exist.
func (b *Broker) Depth(channelID int32) int {
	ch, err := b.findChannel(channelID)
	if err != nil {
		return -1
	}
	return ch.depth
}

// Send copies buf (bounded to MaxMessageSize) into a pool-allocated message
// and links it at the channel's tail. Errors per spec §4.7.
func (b *Broker) Send(channelID, sender int32, buf []byte) error {
	if len(buf) == 0 || len(buf) > MaxMessageSize {
		return kerrno.INVAL
	}
	ch, err := b.findChannel(channelID)
	if err != nil {
		return kerrno.NOENT
	}
	if ch.perm&PermWrite == 0 {
		return kerrno.ACCES
	}
	if ch.depth == ch.maxDepth {
		return kerrno.BUSY
	}
	if len(b.poolFree) == 0 {
		return kerrno.NOMEM
	}

	slot := b.poolFree[len(b.poolFree)-1]
	b.poolFree = b.poolFree[:len(b.poolFree)-1]
	b.poolUsed[slot] = true

	msg := &b.pool[slot]
	msg.sender = sender
	msg.receiver = ch.owner
	msg.msgType = 0
	msg.length = len(buf)
	copy(msg.payload[:], buf)
	msg.next = sentinel

	if ch.tail == sentinel {
		ch.head, ch.tail = slot, slot
	} else {
		b.pool[ch.tail].next = slot
		ch.tail = slot
	}
	ch.depth++
	return nil
}

// Receive is non-blocking: an empty queue returns kerrno.BUSY rather than
// suspending the caller (spec §5, no hidden suspensions inside IPC). Only
// the channel's owner may receive.
func (b *Broker) Receive(channelID, receiver int32, out []byte) (actual int, err error) {
	ch, err := b.findChannel(channelID)
	if err != nil {
		return 0, kerrno.NOENT
	}
	if receiver != ch.owner {
		return 0, kerrno.ACCES
	}
	if ch.head == sentinel {
		return 0, kerrno.BUSY
	}

	slot := ch.head
	msg := &b.pool[slot]
	ch.head = msg.next
	if ch.head == sentinel {
		ch.tail = sentinel
	}
	ch.depth--

	copy(out, msg.payload[:msg.length])
	actual = msg.length

	b.releaseMessage(slot)
	return actual, nil
}

func (b *Broker) releaseMessage(slot int32) {
	b.pool[slot] = message{} // zero-fill before returning to the pool (original_source/ipc.c)
	b.poolUsed[slot] = false
	b.poolFree = append(b.poolFree, slot)
}

// Close frees every pending message on the channel back to the pool and
// unlinks the channel. Only the owner may close.
func (b *Broker) Close(channelID, requester int32) error {
	ch, err := b.findChannel(channelID)
	if err != nil {
		return kerrno.NOENT
	}
	if requester != ch.owner {
		return kerrno.ACCES
	}

	for cur := ch.head; cur != sentinel; {
		next := b.pool[cur].next
		b.releaseMessage(cur)
		cur = next
	}
	ch.inUse = false
	ch.head, ch.tail = sentinel, sentinel
	ch.depth = 0
	return nil
}

// PoolBitmapConsistent reports whether the pool bitmap's set bits equal the
// union of all channel queues, and that FreeMessages()+ΣDepth equals the
// pool size (spec §8 properties 5). Intended for tests and diagnostics, not
// the hot path.
func (b *Broker) PoolBitmapConsistent() bool {
	linked := make(map[int32]bool, len(b.pool))
	sumDepth := 0
	for i := range b.channels {
		if !b.channels[i].inUse {
			continue
		}
		count := 0
		for cur := b.channels[i].head; cur != sentinel; cur = b.pool[cur].next {
			linked[cur] = true
			count++
		}
		if count != b.channels[i].depth {
			return false
		}
		sumDepth += count
	}
	if sumDepth+len(b.poolFree) != len(b.pool) {
		return false
	}
	for i := range b.pool {
		if b.poolUsed[i] != linked[int32(i)] {
			return false
		}
	}
	return true
}
