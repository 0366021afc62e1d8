// Package conn implements the per-connection HTTP/1.1 state machine: the
// six states (Dead, KeepAlive, RequestStart, ReadRequestHeader,
// HandleMainRequest, Write), the request-body ingestion step, the
// response-writer pump, keep-alive reuse, and throttled socket I/O.
//
// Grounded directly on _examples/original_source/src/main/connection.c
// (li_connection_new/reset/reset_keep_alive/free, connection_handle_read,
// connection_cb, parse_request_body, forward_response_body,
// check_response_done, li_connection_error/li_connection_internal_error),
// structured around the same Connection type and
// event-driven handleRead/handleConnectionEvent split responsibilities
// between "do the syscalls" and "advance the state machine".
package conn

import (
	"time"

	"github.com/liteworker/litehttpd/core/action"
	"github.com/liteworker/litehttpd/core/chunkqueue"
	"github.com/liteworker/litehttpd/core/http"
	"github.com/liteworker/litehttpd/core/plugin"
	"github.com/liteworker/litehttpd/core/respwriter"
	"github.com/liteworker/litehttpd/core/throttle"
	"github.com/liteworker/litehttpd/core/vrequest"
)

// State is one of the six states a connection can be in.
type State int

const (
	StateDead State = iota
	StateKeepAlive
	StateRequestStart
	StateReadRequestHeader
	StateHandleMainRequest
	StateWrite
)

// String returns the state name, matching li_connection_state_str exactly.
func (s State) String() string {
	switch s {
	case StateDead:
		return "dead"
	case StateKeepAlive:
		return "keep-alive"
	case StateRequestStart:
		return "request start"
	case StateReadRequestHeader:
		return "read request header"
	case StateHandleMainRequest:
		return "handle main vrequest"
	case StateWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Stats carries the byte counters connection.c keeps per connection,
// including the 5-second rolling snapshot an operator can poll.
type Stats struct {
	BytesIn  int64
	BytesOut int64

	bytesIn5sBase   int64
	bytesOut5sBase  int64
	bytesIn5sDiff   int64
	bytesOut5sDiff  int64
	windowStart     time.Time
}

// Tick refreshes the 5-second rolling diff if the window has elapsed.
func (s *Stats) Tick(now time.Time) {
	if s.windowStart.IsZero() {
		s.windowStart = now
		s.bytesIn5sBase = s.BytesIn
		s.bytesOut5sBase = s.BytesOut
		return
	}
	if now.Sub(s.windowStart) >= 5*time.Second {
		s.bytesIn5sDiff = s.BytesIn - s.bytesIn5sBase
		s.bytesOut5sDiff = s.BytesOut - s.bytesOut5sBase
		s.bytesIn5sBase = s.BytesIn
		s.bytesOut5sBase = s.BytesOut
		s.windowStart = now
	}
}

// BytesIn5sDiff returns bytes read during the last completed 5-second
// window.
func (s *Stats) BytesIn5sDiff() int64 { return s.bytesIn5sDiff }

// BytesOut5sDiff returns bytes written during the last completed 5-second
// window.
func (s *Stats) BytesOut5sDiff() int64 { return s.bytesOut5sDiff }

// Connection is one client's per-socket state. It is pooled via
// pools.ConnectionPool (Reset/SetFD) and reused across both new accepts and
// keep-alive requests on the same socket.
type Connection struct {
	ID    uint64
	fd    int
	state State

	RemoteAddr string

	rawIn       *chunkqueue.Queue
	rawOut      *chunkqueue.Queue
	rawInLimit  *chunkqueue.Limit
	rawOutLimit *chunkqueue.Limit

	req  *http.Request
	vreq *vrequest.VRequest
	resp *respwriter.Writer

	mag *throttle.ConnMagazine

	bodyRemaining int64
	mainStarted   bool

	keepAliveRequests    int
	MaxKeepAliveRequests int
	closeAfterResponse   bool

	Actions *action.Tree
	Plugins *plugin.Registry

	Stats Stats

	lastErr error
}

// New creates a connection with fresh, shared-limit-linked chunk queues.
// MaxKeepAliveRequests defaults to 0 (unlimited); the owning worker sets it
// from config after New returns.
func New() *Connection {
	c := &Connection{
		rawIn:       chunkqueue.New(),
		rawOut:      chunkqueue.New(),
		rawInLimit:  chunkqueue.NewLimit(),
		rawOutLimit: chunkqueue.NewLimit(),
		req:         http.AcquireRequest(),
		vreq:        vrequest.New(),
		resp:        respwriter.New(),
		state:       StateDead,
	}
	c.rawIn.UseLimit(c.rawInLimit)
	c.rawOut.UseLimit(c.rawOutLimit)
	// The logical request/response queues share raw_in/raw_out's credit
	// limit so bytes are accounted once as they cross from socket to
	// request and back, never twice.
	c.vreq.In.UseLimit(c.rawInLimit)
	c.vreq.Out.UseLimit(c.rawOutLimit)
	return c
}

// SetFD implements pools.ConnectionPoolable.
func (c *Connection) SetFD(fd int) {
	c.fd = fd
}

// FD returns the connection's socket file descriptor.
func (c *Connection) FD() int {
	return c.fd
}

// State returns the connection's current state.
func (c *Connection) State() State {
	return c.state
}

// SetThrottle attaches the connection's magazine, drawing from mag's IP
// tier. Leaving this unset (nil) disables throttling for the connection.
func (c *Connection) SetThrottle(ipBucket *throttle.IPBucket) {
	c.mag = throttle.NewConnMagazine(ipBucket)
}

// Reset implements pools.ConnectionPoolable: a full teardown back to a
// blank slate, for reuse by a brand new accepted socket (as opposed to
// ResetKeepAlive, which reuses the connection for another request from the
// SAME client).
func (c *Connection) Reset() {
	if c.mag != nil {
		c.mag.ReturnToPool()
	}
	c.mag = nil
	c.state = StateDead
	c.rawIn.Reset()
	c.rawOut.Reset()
	c.rawInLimit.Reset()
	c.rawOutLimit.Reset()
	c.req.Reset()
	c.vreq.Reset()
	c.resp.Reset()
	c.bodyRemaining = 0
	c.mainStarted = false
	c.keepAliveRequests = 0
	c.closeAfterResponse = false
	c.Stats = Stats{}
	c.lastErr = nil
	c.RemoteAddr = ""
}

// ResetKeepAlive clears per-request state but preserves the connection's
// keep-alive request counter and throttle magazine, mirroring
// li_connection_reset_keep_alive's narrower reset compared to
// li_connection_reset.
func (c *Connection) ResetKeepAlive() {
	c.vreq.Reset()
	c.resp.Reset()
	c.req.Reset()
	c.bodyRemaining = 0
	c.mainStarted = false
}

// Free returns the connection to a disposable state. Callers still return
// it to pools.ConnectionPool separately; Free mirrors li_connection_free's
// role of releasing per-connection resources (here, throttle credit) before
// the slot is recycled.
func (c *Connection) Free() {
	c.Reset()
}

// Start begins the request cycle on a freshly accepted (or keep-alive
// reused) connection.
func (c *Connection) Start() {
	c.state = StateRequestStart
	c.Progress()
}
