// Package respwriter implements the connection-level response writer: it
// drains a vrequest's logical Out queue into the connection's raw_out queue,
// emitting the status line and header block exactly once (the
// forward_response_body header-emission latch), choosing between a
// Content-Length passthrough and chunked transfer-encoding framing, and
// propagating Out's close flag onto raw_out once every byte has been
// forwarded.
//
// The chunked-encoding algorithm is grounded on the stdlib-derived chunked
// writer in _examples/badu-http/src/http/chunks/types.go; the header-latch
// and close-propagation sequencing follow forward_response_body in
// _examples/original_source/src/main/connection.c.
package respwriter

import (
	"strconv"
	"strings"

	"github.com/liteworker/litehttpd/core/chunkqueue"
	"github.com/liteworker/litehttpd/core/vrequest"
)

const finalChunk = "0\r\n\r\n"

// Writer tracks how much of one response has been drained into raw_out.
// One Writer is reused across a connection's keep-alive requests via Reset.
type Writer struct {
	headerSent bool
	chunked    bool
	done       bool
}

// New creates a Writer ready for a fresh response.
func New() *Writer {
	return &Writer{}
}

// Reset prepares the Writer for the connection's next request.
func (w *Writer) Reset() {
	w.headerSent = false
	w.chunked = false
	w.done = false
}

// Done reports whether raw_out has received every byte of the response,
// including the chunked terminator if one was needed, and been closed.
func (w *Writer) Done() bool {
	return w.done
}

// Pump forwards as many ready bytes as possible from v into rawOut. It is
// safe to call repeatedly as more of v's response becomes available (more
// body written, or Out finally closed); calling it after Done reports true
// is a no-op. Returns the number of bytes appended to rawOut this call.
//
// Completion requires v.In to be closed as well as v.Out: the
// response-complete predicate is raw_out.is_closed ∧ raw_out.length==0 ∧
// in.is_closed, so a handler that answers before the declared request body
// has fully arrived does not hand the connection back for reuse (or close
// it) until the remaining body bytes have been drained out of raw_in — an
// un-ingested body would otherwise be mistaken for the next pipelined
// request's header block.
func (w *Writer) Pump(v *vrequest.VRequest, rawOut *chunkqueue.Queue) int64 {
	if w.done {
		return 0
	}

	before := rawOut.Length()

	if v.HeadersSent() && !w.headerSent {
		w.writeHeaderBlock(v, rawOut)
	}
	if w.headerSent {
		w.forwardBody(v, rawOut)
	}
	if w.headerSent && v.Out.IsClosed() && v.Out.Length() == 0 && v.In.IsClosed() {
		if w.chunked {
			rawOut.AppendMem(finalChunk)
		}
		rawOut.Close()
		w.done = true
	}

	return rawOut.Length() - before
}

func (w *Writer) writeHeaderBlock(v *vrequest.VRequest, rawOut *chunkqueue.Queue) {
	w.chunked = v.Header.Get("Content-Length") == ""
	if w.chunked {
		v.Header.Set("Transfer-Encoding", "chunked")
	}

	var b strings.Builder
	b.Grow(128)
	b.WriteString("HTTP/1.1 ")
	b.WriteString(strconv.Itoa(v.StatusCode))
	b.WriteByte(' ')
	b.WriteString(vrequest.StatusText(v.StatusCode))
	b.WriteString("\r\n")
	for key, values := range v.Header {
		for _, val := range values {
			b.WriteString(key)
			b.WriteString(": ")
			b.WriteString(val)
			b.WriteString("\r\n")
		}
	}
	b.WriteString("\r\n")

	rawOut.Append([]byte(b.String()))
	w.headerSent = true
}

func (w *Writer) forwardBody(v *vrequest.VRequest, rawOut *chunkqueue.Queue) {
	if v.Out.Length() == 0 {
		return
	}
	if !w.chunked {
		chunkqueue.Steal(rawOut, v.Out)
		return
	}

	segs := v.Out.PeekSegments(-1)
	for _, seg := range segs {
		if len(seg) == 0 {
			continue
		}
		rawOut.Append([]byte(strconv.FormatInt(int64(len(seg)), 16) + "\r\n"))
		rawOut.Append(seg)
		rawOut.AppendMem("\r\n")
	}
	v.Out.Consume(v.Out.Length())
}
