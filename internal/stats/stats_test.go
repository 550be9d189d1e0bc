package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector(func() int { return 3 })

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.MessageRouted()

	snap := c.Snapshot()
	assert.EqualValues(t, 2, snap.TotalConnections)
	assert.EqualValues(t, 1, snap.ActiveConnections)
	assert.EqualValues(t, 1, snap.TotalMessagesRouted)
	assert.EqualValues(t, 3, snap.ActiveRoomCount)
}

func TestCollector_Recompute(t *testing.T) {
	c := NewCollector(nil)

	for i := 0; i < 10; i++ {
		c.MessageRouted()
	}
	c.recompute(time.Second)
	assert.InDelta(t, 10.0, c.Snapshot().MessagesPerSecond, 0.001)

	// No new messages in the next window.
	c.recompute(time.Second)
	assert.InDelta(t, 0.0, c.Snapshot().MessagesPerSecond, 0.001)
}
