package nbserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSlotTable(t *testing.T) {
	_, err := newSlotTable(4, 0)
	require.ErrorIs(t, err, ErrInvalidChunkSize)

	_, err = newSlotTable(0, 16)
	require.ErrorIs(t, err, ErrAllocation)

	_, err = newSlotTable(maxInt, 2)
	require.ErrorIs(t, err, ErrAllocation)

	table, err := newSlotTable(4, 16)
	require.NoError(t, err)
	assert.Equal(t, 4, table.capacity())
	assert.Equal(t, 0, table.len())
	assert.Len(t, table.arena, 64)
}

func TestSlotTableAllocate(t *testing.T) {
	table, err := newSlotTable(2, 8)
	require.NoError(t, err)

	a, err := table.allocate(10)
	require.NoError(t, err)
	assert.Equal(t, 0, a.slot)
	assert.Equal(t, stateIdle, a.state)
	assert.True(t, a.out.empty())

	_, err = table.allocate(10)
	assert.ErrorIs(t, err, ErrDuplicateHandle)

	b, err := table.allocate(11)
	require.NoError(t, err)
	assert.Equal(t, 1, b.slot)

	_, err = table.allocate(12)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 2, table.len())
}

func TestSlotTableOutboundRegionsDoNotOverlap(t *testing.T) {
	table, err := newSlotTable(3, 4)
	require.NoError(t, err)

	var conns []*conn
	for h := Handle(10); h < 13; h++ {
		c, err := table.allocate(h)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	require.NoError(t, conns[0].out.submit([]byte("aaaa")))
	require.NoError(t, conns[1].out.submit([]byte("bbbb")))
	require.NoError(t, conns[2].out.submit([]byte("cccc")))
	assert.Equal(t, "aaaabbbbcccc", string(table.arena))

	// a region can't grow into its neighbour
	assert.Equal(t, 4, cap(conns[0].out.buf))
	assert.ErrorIs(t, conns[0].out.submit([]byte("aaaaa")), ErrOversizedPayload)
}

func TestSlotTableLookup(t *testing.T) {
	table, err := newSlotTable(2, 8)
	require.NoError(t, err)

	_, err = table.lookup(10)
	assert.ErrorIs(t, err, ErrUnknownConnection)

	c, err := table.allocate(10)
	require.NoError(t, err)
	got, err := table.lookup(10)
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestSlotTableReleaseOnce(t *testing.T) {
	table, err := newSlotTable(2, 8)
	require.NoError(t, err)

	c, err := table.allocate(10)
	require.NoError(t, err)
	require.NoError(t, c.out.submit([]byte("pending")))
	c.state = stateDraining
	c.interest = InterestWrite

	require.NoError(t, table.release(c))
	assert.Equal(t, 0, table.len())
	assert.True(t, c.out.empty())
	assert.Equal(t, stateClosing, c.state)
	assert.Equal(t, InterestNone, c.interest)

	assert.ErrorIs(t, table.release(c), ErrUnknownConnection)
	_, err = table.lookup(10)
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestSlotTableReleaseStaleConn(t *testing.T) {
	table, err := newSlotTable(2, 8)
	require.NoError(t, err)

	stale, err := table.allocate(10)
	require.NoError(t, err)
	require.NoError(t, table.release(stale))

	// the handle number is reused by the OS for a new connection
	fresh, err := table.allocate(10)
	require.NoError(t, err)
	assert.ErrorIs(t, table.release(stale), ErrUnknownConnection)
	assert.Equal(t, 1, table.len())

	got, err := table.lookup(10)
	require.NoError(t, err)
	assert.Same(t, fresh, got)
}

func TestSlotTableReusesLowestFreeSlot(t *testing.T) {
	table, err := newSlotTable(4, 8)
	require.NoError(t, err)

	conns := make(map[Handle]*conn)
	for h := Handle(10); h < 14; h++ {
		c, err := table.allocate(h)
		require.NoError(t, err)
		conns[h] = c
	}
	require.NoError(t, table.release(conns[13]))
	require.NoError(t, table.release(conns[11]))
	require.NoError(t, table.release(conns[12]))

	c, err := table.allocate(20)
	require.NoError(t, err)
	assert.Equal(t, 1, c.slot)
	c, err = table.allocate(21)
	require.NoError(t, err)
	assert.Equal(t, 2, c.slot)
	c, err = table.allocate(22)
	require.NoError(t, err)
	assert.Equal(t, 3, c.slot)
	assert.Equal(t, 4, table.len())
}

func TestSlotTableEach(t *testing.T) {
	table, err := newSlotTable(4, 8)
	require.NoError(t, err)
	for _, h := range []Handle{30, 20, 10} {
		_, err := table.allocate(h)
		require.NoError(t, err)
	}
	mid, err := table.lookup(20)
	require.NoError(t, err)

	var visited []Handle
	table.each(func(c *conn) bool {
		visited = append(visited, c.handle)
		if c.handle == 20 {
			require.NoError(t, table.release(c))
		}
		return true
	})
	assert.Equal(t, []Handle{30, 20, 10}, visited)
	assert.Equal(t, stateClosing, mid.state)

	visited = nil
	table.each(func(c *conn) bool {
		visited = append(visited, c.handle)
		return false
	})
	assert.Equal(t, []Handle{30}, visited)
}
