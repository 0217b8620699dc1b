package com

import (
	"context"
	"time"
)

// bulkFlushDelay is how long Bulk waits for another value before flushing whatever
// is currently buffered, so that a slow trickle of values is not held back indefinitely.
const bulkFlushDelay = 250 * time.Millisecond

// BulkChunkSplitPolicy decides whether the next value read for a chunk started by Bulk
// must start a new chunk instead of being appended to the current one.
//
// A BulkChunkSplitPolicy is stateful on purpose: Bulk calls a fresh instance, produced by a
// BulkChunkSplitPolicyFactory, per chunk so that implementations can track whatever is needed
// to decide whether the given value, the first one not yet part of the current chunk, belongs to it.
type BulkChunkSplitPolicy[T any] func(T) bool

// BulkChunkSplitPolicyFactory creates a new BulkChunkSplitPolicy for use by a single chunk.
type BulkChunkSplitPolicyFactory[T any] func() BulkChunkSplitPolicy[T]

// NeverSplit is a BulkChunkSplitPolicyFactory that never forces a chunk to be split early,
// i.e. chunks are only bounded by count, as passed to Bulk.
func NeverSplit[T any]() BulkChunkSplitPolicy[T] {
	return func(T) bool {
		return false
	}
}

// Bulk reads values from ch and streams them as chunks of at most count values (count <= 0 means unbounded)
// to the returned channel.
//
// A chunk is flushed as soon as it reaches count values, as soon as splitPolicyFactory's current
// BulkChunkSplitPolicy reports that the next value must start a new chunk, when ch is closed, or
// when ctx is done. Bulk does not buffer a partial chunk across calls. When ctx is done, any values
// already buffered are offered once more on the returned channel, but that send competes with the
// already done ctx, so they may be dropped instead; the returned channel is then closed.
func Bulk[T any](ctx context.Context, ch <-chan T, count int, splitPolicyFactory BulkChunkSplitPolicyFactory[T]) <-chan []T {
	out := make(chan []T)

	go func() {
		defer close(out)

		var buf []T
		splitPolicy := splitPolicyFactory()

		timer := time.NewTimer(bulkFlushDelay)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		resetTimer := func() {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(bulkFlushDelay)
		}

		flush := func() bool {
			if len(buf) == 0 {
				return true
			}

			select {
			case out <- buf:
				buf = nil
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case v, ok := <-ch:
				if !ok {
					flush()
					return
				}

				if splitPolicy(v) && len(buf) > 0 {
					if !flush() {
						return
					}
					splitPolicy = splitPolicyFactory()
				}

				buf = append(buf, v)
				resetTimer()

				if count > 0 && len(buf) >= count {
					if !flush() {
						return
					}
					splitPolicy = splitPolicyFactory()
				}
			case <-timer.C:
				if !flush() {
					return
				}
				splitPolicy = splitPolicyFactory()
			case <-ctx.Done():
				flush()
				return
			}
		}
	}()

	return out
}
