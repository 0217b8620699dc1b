package com

import "sync/atomic"

// Counter is a simple atomic uint64 counter that in addition to its current value,
// keeps track of the overall total that was ever added to it.
//
// The zero value is ready to use.
type Counter struct {
	val   atomic.Uint64
	total atomic.Uint64
}

// Add adds delta to the counter and its total.
func (c *Counter) Add(delta uint64) {
	c.val.Add(delta)
	c.total.Add(delta)
}

// Val returns the counter's current value.
func (c *Counter) Val() uint64 {
	return c.val.Load()
}

// Total returns the sum of all deltas ever passed to Add, regardless of any Reset calls.
func (c *Counter) Total() uint64 {
	return c.total.Load()
}

// Reset sets the counter's current value back to zero and returns the value it had before the reset.
// Total is not affected.
func (c *Counter) Reset() uint64 {
	return c.val.Swap(0)
}
