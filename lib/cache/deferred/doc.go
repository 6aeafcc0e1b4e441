/*
Package deferred contains decorators of cache.Cache that change when and how
often the underlying cache is accessed.

# Write-Behind

WriteBehind applies writes asynchronously:

  - Put stores the value in an in-memory read buffer, so it is visible to
    every reader at once, and queues it for the background writer.
  - A single background writer is started on demand. It drains the shared and
    the private queue, writes every non-empty batch with one bulk call (a
    single-item call for a batch of one) and stops once both queues are empty.
  - On any error the writer fails the current batch and everything queued and
    stays in the Failed state. Every later write fails at once with the same
    error (matching ErrWriterFailed) until Reset is called.

Writes are tracked per Session: every session owns a CompletionLock, and
Flush waits until every write of that session was applied or failed. A
session is the unit of completion tracking, typically one per job:

	wb := deferred.NewWriteBehind(valueCache, 0)
	s := wb.NewSession()
	_ = s.PutShared(cache.Value{Key: k1, Value: v1})
	_ = s.PutPrivate(cache.Value{Key: k2, Value: v2})
	if err := s.Flush(); err != nil {
		// at least one write failed
	}

Values that are still queued are not in the private store yet and can thus
not be found by other nodes; flush before a value has to be discoverable.

# Direct Write

DirectWrite offers the same session API but applies every write before Put
returns. Flush never waits.

# Read Coalescing

ReadCoalescing lets concurrent reads of the same key share one fetch
(golang.org/x/sync/singleflight) and keeps recently read values in a bounded
LRU buffer (github.com/hashicorp/golang-lru/v2). Absent values are not
buffered. Writes invalidate the buffered entries of their key, and a fetch
that overlaps with a write never fills the buffer.
*/
package deferred
