package engine

import "sync/atomic"

// Clock is a monotonic logical clock stamping delta arrival.
//
// Snapshot entries remember the stamp of the delta that wrote them; on equal
// updatedAt the higher stamp wins. Wall-clock time is never used for
// ordering.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next stamp is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next stamp.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last stamp handed out without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
