package conn

import (
	"errors"
	"fmt"
	"strings"

	"github.com/liteworker/litehttpd/core/chunkqueue"
	"github.com/liteworker/litehttpd/core/httpparser"
	"github.com/liteworker/litehttpd/core/logging"
	"github.com/liteworker/litehttpd/core/vrequest"
)

var errNotFound = errors.New("no action bound for this path")

// ConnectionInternalError wraps a panic recovered from request dispatch so
// it can flow through the same failure path as a parse or routing error
// (Error/fail) instead of escaping into the worker's event loop.
type ConnectionInternalError struct {
	Panic any
}

func (e *ConnectionInternalError) Error() string {
	return fmt.Sprintf("panic in request handler: %v", e.Panic)
}

// Progress advances the state machine as far as it can go without
// blocking, driven after every readable/writable event and after
// ResetKeepAlive/Restart. It never performs socket I/O itself; OnReadable
// and OnWritable own the syscalls and call Progress once new bytes have
// been queued or room has freed up.
func (c *Connection) Progress() {
	defer c.recoverPanic()
	for {
		switch c.state {
		case StateRequestStart:
			c.keepAliveRequests++
			c.req.KeepAliveRequests = c.keepAliveRequests
			c.mainStarted = false
			c.state = StateReadRequestHeader
			continue

		case StateReadRequestHeader:
			if c.progressReadHeader() {
				continue
			}
			return

		case StateHandleMainRequest:
			c.ingestRequestBody()
			if !c.mainStarted {
				c.mainStarted = true
				c.vreq.HandleRequestHeaders()
			} else {
				c.vreq.RunJoblist()
			}
			if c.vreq.ResponseDone() || c.vreq.HeadersSent() {
				c.state = StateWrite
				continue
			}
			return

		case StateWrite:
			c.ingestRequestBody()
			c.resp.Pump(c.vreq, c.rawOut)
			if c.resp.Done() {
				if c.shouldClose() {
					c.state = StateDead
					return
				}
				c.state = StateKeepAlive
				continue
			}
			return

		case StateKeepAlive:
			// Waiting for the worker's keep-alive queue to either time this
			// connection out (-> StateDead) or observe a new byte arrive
			// (-> Restart -> StateRequestStart). Nothing to do here.
			return

		case StateDead:
			return
		}
	}
}

// recoverPanic guards the entire dispatch loop: a single worker goroutine
// drives every connection it owns, so a panic inside a routed action (or
// anywhere else in Progress) must become a 500 response on this connection
// rather than crash the goroutine and take down every other connection
// sharing it.
func (c *Connection) recoverPanic() {
	r := recover()
	if r == nil {
		return
	}
	logging.Errorf("conn %d: panic recovered: %v", c.ID, r)
	c.fail(500, &ConnectionInternalError{Panic: r})
	c.Progress()
}

// progressReadHeader runs one header-parse attempt, returning true if the
// caller should continue the state-machine loop (a full header block was
// parsed, or the connection failed and moved straight to the error
// response) and false if it should return and wait for more bytes.
func (c *Connection) progressReadHeader() bool {
	res, err := httpparser.Parse(c.rawIn, c.req)
	switch res {
	case httpparser.GoOn:
		if c.req.ExpectContinue {
			c.rawOut.AppendMem("HTTP/1.1 100 Continue\r\n\r\n")
		}
		cl, clErr := httpparser.ContentLength(c.req)
		if clErr != nil {
			c.fail(400, clErr)
			return true
		}
		c.bodyRemaining = cl

		var act vrequest.Action
		var params map[string]string
		if c.Actions != nil {
			act, params = c.Actions.Find(c.req.Method, c.req.Path)
		}
		if act == nil {
			c.fail(404, errNotFound)
			return true
		}
		c.vreq.Bind(c.req, act)
		c.vreq.BindParams(params)
		c.state = StateHandleMainRequest
		return true

	case httpparser.WaitForEvent:
		return false

	default: // httpparser.Error
		logging.Errorf("conn %d: header parse failed: %v", c.ID, err)
		c.fail(400, err)
		return true
	}
}

// ingestRequestBody moves bytes from raw_in into the bound vrequest's In
// queue, closing In once the whole body has arrived so a handler blocked on
// read-to-EOF semantics can proceed. It runs for as long as state stays at
// or past HandleMainRequest and In remains open, so a handler that responds
// before the client finishes sending its body still has that body drained
// out of raw_in instead of leaking into the next pipelined request's header
// parse.
//
// bodyRemaining < 0 is the absent-Content-Length sentinel: whatever is
// currently buffered is stolen opportunistically, then In is closed
// immediately, since full chunked request-body decoding is a TODO hook, not
// implemented here. A request with a declared Content-Length of 0 closes In
// immediately with nothing to steal.
func (c *Connection) ingestRequestBody() {
	if c.vreq.In.IsClosed() {
		return
	}
	if c.bodyRemaining < 0 {
		chunkqueue.Steal(c.vreq.In, c.rawIn)
		c.vreq.In.Close()
		return
	}
	if c.bodyRemaining == 0 {
		c.vreq.In.Close()
		return
	}
	n := chunkqueue.StealLen(c.vreq.In, c.rawIn, c.bodyRemaining)
	c.bodyRemaining -= n
	if c.bodyRemaining <= 0 {
		c.vreq.In.Close()
	}
}

// fail binds a direct error action and drives straight into the write
// state, marking the connection for close once the error response is
// flushed: a request that failed to parse or route cannot be trusted to
// find the next request's boundary in the same stream.
func (c *Connection) fail(status int, err error) {
	c.lastErr = err
	c.closeAfterResponse = true
	c.vreq.Bind(c.req, nil)
	c.mainStarted = true
	c.state = StateHandleMainRequest
	c.vreq.HandleDirect(func(v *vrequest.VRequest) {
		v.Error(status, err)
	})
}

// shouldClose reports whether the connection must not be reused for
// another request: the client asked for Connection: close, HTTP/1.0
// without an explicit keep-alive, a parse/handler failure occurred, or the
// configured keep-alive request ceiling was reached.
func (c *Connection) shouldClose() bool {
	if c.closeAfterResponse {
		return true
	}
	if c.MaxKeepAliveRequests > 0 && c.keepAliveRequests >= c.MaxKeepAliveRequests {
		return true
	}
	conn := strings.ToLower(c.req.Connection)
	if conn == "close" {
		return true
	}
	if c.req.Proto == "HTTP/1.0" && conn != "keep-alive" {
		return true
	}
	return false
}

// Restart transitions a reused keep-alive connection back into the request
// cycle. Called by the owning worker once new bytes arrive on the socket
// (or immediately, if raw_in already holds a pipelined next request).
func (c *Connection) Restart() {
	if c.state != StateKeepAlive {
		return
	}
	c.ResetKeepAlive()
	c.state = StateRequestStart
	c.Progress()
}

// WantWritable reports whether the worker should arm write-readiness
// notifications for this connection's fd.
func (c *Connection) WantWritable() bool {
	return c.rawOut.Length() > 0
}

// LastError returns the error that caused the most recent failure
// response, or nil if none occurred this request.
func (c *Connection) LastError() error {
	return c.lastErr
}
