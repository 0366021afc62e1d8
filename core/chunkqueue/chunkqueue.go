// Package chunkqueue implements the ordered byte-segment queues that carry
// bytes between a connection's socket and its logical request, and the
// shared credit limits that propagate backpressure between them.
//
// Grounded on the chunk queue described in spec.md §4.1/§GLOSSARY and on
// the original lighttpd2 li_chunkqueue_* family
// (_examples/original_source/src/main/connection.c). AppendMem enqueues a
// literal without copying it; Append copies its input into a newly
// allocated segment on every call.
package chunkqueue

import (
	"sync"
	"unsafe"
)

// Limit is a byte credit shared between multiple Queues so that moving
// bytes between them (Steal/StealLen) incurs no duplicate accounting.
// Producers consult Full() and stall when the budget is exhausted.
type Limit struct {
	mu   sync.Mutex
	max  int64 // 0 = unlimited
	used int64
}

// NewLimit creates an unlimited credit limit.
func NewLimit() *Limit {
	return &Limit{}
}

// SetMax sets the maximum outstanding credit. 0 means unlimited.
func (l *Limit) SetMax(max int64) {
	l.mu.Lock()
	l.max = max
	l.mu.Unlock()
}

// Add records n bytes entering the pipeline under this limit.
func (l *Limit) Add(n int64) {
	l.mu.Lock()
	l.used += n
	l.mu.Unlock()
}

// Sub records n bytes leaving the pipeline under this limit.
func (l *Limit) Sub(n int64) {
	l.mu.Lock()
	l.used -= n
	if l.used < 0 {
		l.used = 0
	}
	l.mu.Unlock()
}

// Full reports whether the limit's credit is exhausted.
func (l *Limit) Full() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max > 0 && l.used >= l.max
}

// Used returns the current outstanding credit.
func (l *Limit) Used() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used
}

// Reset clears outstanding credit. Called between request cycles so a
// reused connection starts with a fresh budget.
func (l *Limit) Reset() {
	l.mu.Lock()
	l.used = 0
	l.mu.Unlock()
}

// Queue is an ordered sequence of byte segments with O(1) append and
// stealable prefixes, a close flag, and an optional shared Limit.
type Queue struct {
	segments [][]byte
	length   int64
	bytesIn  int64
	closed   bool
	limit    *Limit
}

// New creates an empty, open queue with no shared limit.
func New() *Queue {
	return &Queue{}
}

// UseLimit attaches l as this queue's credit limit. Call with the same *Limit
// on every queue of a pipeline stage (raw_in/raw_out and the logical
// request's in/out) so bytes are accounted exactly once as they traverse it.
func (q *Queue) UseLimit(l *Limit) {
	q.limit = l
}

// Limit returns the queue's shared credit limit, or nil if none is set.
func (q *Queue) Limit() *Limit {
	return q.limit
}

// Length returns the number of unread bytes currently queued.
func (q *Queue) Length() int64 {
	return q.length
}

// BytesIn returns the total number of bytes ever appended to this queue.
func (q *Queue) BytesIn() int64 {
	return q.bytesIn
}

// IsClosed reports whether no further bytes will ever be appended.
func (q *Queue) IsClosed() bool {
	return q.closed
}

// SetClosed sets or clears the close flag.
func (q *Queue) SetClosed(closed bool) {
	q.closed = closed
}

// Close is shorthand for SetClosed(true).
func (q *Queue) Close() {
	q.closed = true
}

// Reset drops all queued bytes and clears the close flag, but keeps the
// attached Limit pointer (the limit itself is reset separately via
// Limit.Reset, matching li_chunkqueue_reset / li_cqlimit_reset being
// distinct calls in the original).
func (q *Queue) Reset() {
	q.segments = q.segments[:0]
	q.length = 0
	q.bytesIn = 0
	q.closed = false
}

// Append copies p into a new segment at the tail of the queue.
func (q *Queue) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	seg := make([]byte, len(p))
	copy(seg, p)
	q.segments = append(q.segments, seg)
	q.length += int64(len(p))
	q.bytesIn += int64(len(p))
	if q.limit != nil {
		q.limit.Add(int64(len(p)))
	}
}

// unsafeBytes views a string's bytes without copying. Used only for
// AppendMem, where the caller passes a compile-time literal whose backing
// array outlives the queue (e.g. the fixed "100 Continue" response line).
func unsafeBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// AppendMem enqueues a compile-time string literal without copying it.
func (q *Queue) AppendMem(lit string) {
	if len(lit) == 0 {
		return
	}
	seg := unsafeBytes(lit)
	q.segments = append(q.segments, seg)
	q.length += int64(len(seg))
	q.bytesIn += int64(len(seg))
	if q.limit != nil {
		q.limit.Add(int64(len(seg)))
	}
}

// Steal moves all pending bytes from src to dst without copying the
// underlying byte slices. Returns the number of bytes moved.
func Steal(dst, src *Queue) int64 {
	if src.length == 0 {
		return 0
	}
	n := src.length
	dst.segments = append(dst.segments, src.segments...)
	dst.length += n
	src.segments = src.segments[:0]
	src.length = 0
	return n
}

// StealLen moves at most n bytes from src to dst, splitting the last
// segment it touches if n falls inside it. Returns the number of bytes
// actually moved (may be less than n if src has fewer bytes queued).
func StealLen(dst, src *Queue, n int64) int64 {
	if n <= 0 || src.length == 0 {
		return 0
	}
	if n >= src.length {
		return Steal(dst, src)
	}

	var moved int64
	i := 0
	for i < len(src.segments) && moved < n {
		seg := src.segments[i]
		remaining := n - moved
		if int64(len(seg)) <= remaining {
			dst.segments = append(dst.segments, seg)
			moved += int64(len(seg))
			i++
			continue
		}
		// Split this segment.
		dst.segments = append(dst.segments, seg[:remaining])
		src.segments[i] = seg[remaining:]
		moved += remaining
		break
	}
	src.segments = src.segments[i:]
	src.length -= moved
	dst.length += moved
	return moved
}

// PeekSegments returns up to max bytes of queued segments from the front of
// the queue without consuming them, splitting the last segment via a
// sub-slice (no copy) if max falls inside it. Pass max <= 0 for no limit.
func (q *Queue) PeekSegments(max int64) [][]byte {
	if q.length == 0 {
		return nil
	}
	if max <= 0 {
		out := make([][]byte, len(q.segments))
		copy(out, q.segments)
		return out
	}

	var total int64
	out := make([][]byte, 0, len(q.segments))
	for _, seg := range q.segments {
		if total >= max {
			break
		}
		remaining := max - total
		if int64(len(seg)) <= remaining {
			out = append(out, seg)
			total += int64(len(seg))
		} else {
			out = append(out, seg[:remaining])
			total += remaining
		}
	}
	return out
}

// Consume drops n bytes from the front of the queue (already written to
// their destination) and returns the number of bytes actually dropped.
// Unlike Steal, Consume does not move bytes to another queue and does not
// touch bytesIn, which tracks lifetime arrivals, not current occupancy.
func (q *Queue) Consume(n int64) int64 {
	if n <= 0 || q.length == 0 {
		return 0
	}
	if n > q.length {
		n = q.length
	}

	var consumed int64
	i := 0
	for i < len(q.segments) && consumed < n {
		seg := q.segments[i]
		remaining := n - consumed
		if int64(len(seg)) <= remaining {
			consumed += int64(len(seg))
			i++
			continue
		}
		q.segments[i] = seg[remaining:]
		consumed += remaining
		break
	}
	q.segments = q.segments[i:]
	q.length -= consumed
	return consumed
}
