package engine

import "sync/atomic"

// SeqSource issues record seq numbers. Clock is the production source;
// testutil.DeterministicClock is the test one.
type SeqSource interface {
	Next() int64
	Current() int64
}

// Clock orders records within a table. Every record created locally or
// first seen in a pull takes its seq from it, never from wall time, so
// listings and publish summaries come out the same on every machine.
//
// New seeds it from the highest stored seq, so a reopened store keeps
// issuing larger values. Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first seq is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt returns a clock that has already issued start; the first Next
// returns start+1. Negative starts are clamped to zero.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(max(start, 0))
	return c
}

// Next issues the next seq.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued seq, or the starting point if none.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
