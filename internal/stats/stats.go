// Package stats tracks process-local aggregate counters. Values are not
// authoritative cluster-wide; each instance reports its own.
package stats

import (
	"context"
	"math"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time view of the collector.
type Snapshot struct {
	TotalConnections    int64   `json:"totalConnections"`
	ActiveConnections   int64   `json:"activeConnections"`
	TotalMessagesRouted int64   `json:"totalMessagesRouted"`
	MessagesPerSecond   float64 `json:"messagesPerSecond"`
	ActiveRoomCount     int64   `json:"activeRoomCount"`
}

// Collector holds the hot-path counters. All mutation is lock-free so the
// periodic recompute never contends with delivery.
type Collector struct {
	totalConnections    atomic.Int64
	activeConnections   atomic.Int64
	totalMessagesRouted atomic.Int64

	lastRouted atomic.Int64
	perSecond  atomic.Uint64 // float64 bits

	// roomCount is polled on recompute; it must not take hot-path locks.
	roomCount func() int
}

func NewCollector(roomCount func() int) *Collector {
	if roomCount == nil {
		roomCount = func() int { return 0 }
	}
	return &Collector{roomCount: roomCount}
}

func (c *Collector) ConnectionOpened() {
	c.totalConnections.Add(1)
	c.activeConnections.Add(1)
}

func (c *Collector) ConnectionClosed() {
	c.activeConnections.Add(-1)
}

func (c *Collector) MessageRouted() {
	c.totalMessagesRouted.Add(1)
}

// Run recomputes derived values on a fixed interval until ctx is done.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.recompute(interval)
		}
	}
}

func (c *Collector) recompute(window time.Duration) {
	total := c.totalMessagesRouted.Load()
	last := c.lastRouted.Swap(total)
	rate := float64(total-last) / window.Seconds()
	c.perSecond.Store(math.Float64bits(rate))
}

func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		TotalConnections:    c.totalConnections.Load(),
		ActiveConnections:   c.activeConnections.Load(),
		TotalMessagesRouted: c.totalMessagesRouted.Load(),
		MessagesPerSecond:   math.Float64frombits(c.perSecond.Load()),
		ActiveRoomCount:     int64(c.roomCount()),
	}
}
