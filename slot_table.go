package nbserver

import (
	"math/bits"
	"sort"
)

const maxInt = int(^uint(0) >> 1)

// conn is the per-connection state owned by the reactor.
type conn struct {
	handle   Handle
	slot     int
	state    connState
	interest Interest
	out      outbound
}

// slotTable is a fixed-capacity registry of active connections. Every slot
// owns a chunk-sized region of one arena allocated up front.
type slotTable struct {
	slots    []*conn
	index    map[Handle]int
	free     []int
	arena    []byte
	chunk    int
	occupied int
}

func newSlotTable(capacity, chunkSize int) (*slotTable, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if capacity <= 0 {
		return nil, ErrAllocation
	}
	hi, size := bits.Mul(uint(capacity), uint(chunkSize))
	if hi != 0 || size > uint(maxInt) {
		return nil, ErrAllocation
	}
	t := &slotTable{
		slots: make([]*conn, capacity),
		index: make(map[Handle]int, capacity),
		free:  make([]int, capacity),
		arena: make([]byte, int(size)),
		chunk: chunkSize,
	}
	// free is kept in descending order so the lowest free slot is on top
	for i := range t.free {
		t.free[i] = capacity - 1 - i
	}
	return t, nil
}

func (t *slotTable) capacity() int {
	return len(t.slots)
}

func (t *slotTable) len() int {
	return t.occupied
}

func (t *slotTable) allocate(h Handle) (*conn, error) {
	if _, ok := t.index[h]; ok {
		return nil, ErrDuplicateHandle
	}
	if len(t.free) == 0 {
		return nil, ErrCapacityExceeded
	}
	slot := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]
	lo, hi := slot*t.chunk, (slot+1)*t.chunk
	c := &conn{
		handle: h,
		slot:   slot,
		state:  stateIdle,
		out:    newOutbound(t.arena[lo:hi:hi]),
	}
	t.slots[slot] = c
	t.index[h] = slot
	t.occupied++
	return c, nil
}

func (t *slotTable) lookup(h Handle) (*conn, error) {
	slot, ok := t.index[h]
	if !ok {
		return nil, ErrUnknownConnection
	}
	return t.slots[slot], nil
}

// release frees the slot held by c. The conn must not be used afterwards.
func (t *slotTable) release(c *conn) error {
	slot, ok := t.index[c.handle]
	if !ok || t.slots[slot] != c {
		return ErrUnknownConnection
	}
	c.out.reset()
	c.state = stateClosing
	c.interest = InterestNone
	delete(t.index, c.handle)
	t.slots[slot] = nil
	at := sort.Search(len(t.free), func(i int) bool { return t.free[i] < slot })
	t.free = append(t.free, 0)
	copy(t.free[at+1:], t.free[at:])
	t.free[at] = slot
	t.occupied--
	return nil
}

// each calls fn for every occupied slot in slot order. fn may release the
// connection it is given.
func (t *slotTable) each(fn func(c *conn) bool) {
	for _, c := range t.slots {
		if c == nil {
			continue
		}
		if !fn(c) {
			return
		}
	}
}
