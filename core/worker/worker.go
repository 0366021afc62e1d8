// Package worker implements one event-loop worker: a poller, the set of
// connections it owns, the keep-alive and I/O-timeout wait queues that
// decide when an idle connection gets reclaimed, and the accept path that
// hands a freshly accepted socket a *conn.Connection.
//
// Grounded on an earlier single-engine Run/acceptConnections/
// handleConnectionEvent/cleanupIdleConnections loop (map-of-connections
// keyed by fd, non-blocking accept drained to EAGAIN, TCP_NODELAY/
// SO_KEEPALIVE socket options), generalized from a single global engine
// loop into N independent per-worker loops the way
// _examples/original_source/src/main/worker.c shards connections across
// worker threads each with its own epoll/kqueue instance, keep-alive queue
// and throttle queue (worker_con_put, li_worker_check_keepalive).
package worker

import (
	"sync"
	"syscall"
	"time"

	"github.com/liteworker/litehttpd/core/action"
	"github.com/liteworker/litehttpd/core/conn"
	"github.com/liteworker/litehttpd/core/logging"
	"github.com/liteworker/litehttpd/core/plugin"
	"github.com/liteworker/litehttpd/core/poller"
	"github.com/liteworker/litehttpd/core/pools"
	"github.com/liteworker/litehttpd/core/throttle"
	"github.com/liteworker/litehttpd/core/waitqueue"
)

// Stats are the counters one worker tracks across its lifetime.
type Stats struct {
	Accepted  uint64
	Closed    uint64
	TimedOut  uint64
	BytesIn   uint64
	BytesOut  uint64
}

// entry is a tracked connection plus whichever wait queue it currently sits
// in (at most one of kaHandle/ioHandle is live at a time).
type entry struct {
	c        *conn.Connection
	kaHandle *waitqueue.Handle[*entry]
	ioHandle *waitqueue.Handle[*entry]
	deadline time.Time
}

// Config carries the per-worker tunables sourced from config.Snapshot.
type Config struct {
	MaxKeepAliveRequests int
	KeepAliveIdle        time.Duration
	IOTimeout            time.Duration
}

// Worker owns one poller and the connections accepted onto it. An engine
// runs one Worker per configured thread, each with its own goroutine.
type Worker struct {
	ID int

	poller  poller.Poller
	actions *action.Tree
	plugins *plugin.Registry
	ipBucketFor func(remoteAddr string) *throttle.IPBucket

	cfg Config

	mu          sync.RWMutex
	connections map[int]*entry
	listeners   map[int]bool

	keepAliveQueue *waitqueue.Queue[*entry]
	ioTimeoutQueue *waitqueue.Queue[*entry]

	connPool *pools.ConnectionPool

	Stats Stats

	nextConnID uint64
}

// New creates a worker bound to p, dispatching requests through actions.
// Connections are drawn from a pools.ConnectionPool rather than allocated
// fresh on every accept.
func New(id int, p poller.Poller, actions *action.Tree) *Worker {
	return &Worker{
		ID:             id,
		poller:         p,
		actions:        actions,
		plugins:        plugin.NewRegistry(),
		cfg:            Config{IOTimeout: 10 * time.Second, KeepAliveIdle: 5 * time.Second},
		connections:    make(map[int]*entry),
		listeners:      make(map[int]bool),
		keepAliveQueue: waitqueue.New[*entry](),
		ioTimeoutQueue: waitqueue.New[*entry](),
		connPool:       pools.NewConnectionPool(4096, func() any { return conn.New() }),
	}
}

// Configure applies tunables, used once at startup or on a config reload.
func (w *Worker) Configure(cfg Config) {
	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
}

// SetPlugins replaces the close-hook registry fired when a connection
// tears down.
func (w *Worker) SetPlugins(p *plugin.Registry) {
	w.plugins = p
}

// SetThrottle installs the function used to resolve a remote address to an
// IP throttle bucket. Leaving this unset disables throttling.
func (w *Worker) SetThrottle(fn func(remoteAddr string) *throttle.IPBucket) {
	w.ipBucketFor = fn
}

// AddListener registers a non-blocking listening fd this worker accepts
// connections from.
func (w *Worker) AddListener(fd int) error {
	if err := w.poller.Add(fd); err != nil {
		return err
	}
	w.mu.Lock()
	w.listeners[fd] = true
	w.mu.Unlock()
	return nil
}

// HandleEvent dispatches one poller event to the accept path or to the
// owning connection's read/write handling.
func (w *Worker) HandleEvent(ev poller.Event) {
	w.mu.RLock()
	isListener := w.listeners[ev.Fd]
	w.mu.RUnlock()

	if isListener {
		w.accept(ev.Fd)
		return
	}
	if ev.Readable {
		w.HandleReadable(ev.Fd)
	}
	if ev.Writable {
		w.HandleWritable(ev.Fd)
	}
}

// Run services one poller.Wait cycle (timeoutMs per the same convention as
// poller.Poller.Wait) followed by a tick of the wait queues. Callers loop
// this from their own goroutine until stopped.
func (w *Worker) Run(timeoutMs int) error {
	events, err := w.poller.Wait(timeoutMs)
	if err != nil {
		return err
	}
	for _, ev := range events {
		w.HandleEvent(ev)
	}
	w.Tick(time.Now())
	return nil
}

// accept drains every pending connection on a listening socket,
// non-blocking, matching the original acceptConnections loop.
func (w *Worker) accept(listenFD int) {
	for {
		nfd, sa, err := syscall.Accept(listenFD)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return
			}
			logging.Errorf("worker %d: accept: %v", w.ID, err)
			return
		}

		if err := poller.SetNonblock(nfd); err != nil {
			syscall.Close(nfd)
			continue
		}
		syscall.SetsockoptInt(nfd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
		syscall.SetsockoptInt(nfd, syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 1)

		c := w.connPool.Get().(*conn.Connection)
		w.nextConnID++
		c.ID = w.nextConnID
		c.SetFD(nfd)
		c.Actions = w.actions
		c.Plugins = w.plugins
		c.MaxKeepAliveRequests = w.cfg.MaxKeepAliveRequests
		c.RemoteAddr = remoteAddrString(sa)
		if w.ipBucketFor != nil {
			c.SetThrottle(w.ipBucketFor(c.RemoteAddr))
		}

		if err := w.poller.Add(nfd); err != nil {
			syscall.Close(nfd)
			continue
		}

		e := &entry{c: c}
		w.track(nfd, e)
		w.Stats.Accepted++

		c.Start()
		w.afterProgress(nfd, e)
	}
}

// Track registers an already-constructed connection under fd, for callers
// (and tests) that build the Connection themselves instead of going
// through accept.
func (w *Worker) Track(fd int, c *conn.Connection) {
	w.track(fd, &entry{c: c})
}

func (w *Worker) track(fd int, e *entry) {
	w.mu.Lock()
	w.connections[fd] = e
	w.mu.Unlock()
}

func (w *Worker) lookup(fd int) (*entry, bool) {
	w.mu.RLock()
	e, ok := w.connections[fd]
	w.mu.RUnlock()
	return e, ok
}

// HandleReadable services a read-ready event for fd.
func (w *Worker) HandleReadable(fd int) {
	e, ok := w.lookup(fd)
	if !ok {
		return
	}
	w.dequeue(e)

	before := e.c.Stats.BytesIn
	err := e.c.OnReadable()
	w.Stats.BytesIn += uint64(e.c.Stats.BytesIn - before)
	if err != nil {
		w.closeFD(fd, e)
		return
	}
	w.afterProgress(fd, e)
}

// HandleWritable services a write-ready event for fd.
func (w *Worker) HandleWritable(fd int) {
	e, ok := w.lookup(fd)
	if !ok {
		return
	}
	w.dequeue(e)
	before := e.c.Stats.BytesOut
	err := e.c.OnWritable()
	w.Stats.BytesOut += uint64(e.c.Stats.BytesOut - before)
	if err != nil {
		w.closeFD(fd, e)
		return
	}
	w.afterProgress(fd, e)
}

// afterProgress re-arms write-readiness and re-enqueues the connection
// into whichever wait queue matches its post-I/O state, or tears it down
// if it reached StateDead.
func (w *Worker) afterProgress(fd int, e *entry) {
	if e.c.State() == conn.StateDead {
		w.closeFD(fd, e)
		return
	}

	if err := w.poller.SetWritable(fd, e.c.WantWritable()); err != nil {
		logging.Errorf("worker %d: SetWritable(%d): %v", w.ID, fd, err)
	}

	w.enqueue(e)
}

// enqueue places e into the keep-alive queue (idle between requests) or
// the I/O timeout queue (mid-request, waiting on the client or on
// throttle credit), matching li_worker_check_keepalive's exclusivity: a
// connection is in at most one of the two at any time.
func (w *Worker) enqueue(e *entry) {
	now := time.Now()
	if e.c.State() == conn.StateKeepAlive {
		e.deadline = now.Add(w.cfg.KeepAliveIdle)
		e.kaHandle = w.keepAliveQueue.PushBack(e)
		return
	}
	e.deadline = now.Add(w.cfg.IOTimeout)
	e.ioHandle = w.ioTimeoutQueue.PushBack(e)
}

// dequeue removes e from whichever wait queue currently holds it, called
// before the connection is handed new I/O to service.
func (w *Worker) dequeue(e *entry) {
	if e.kaHandle.Enqueued() {
		w.keepAliveQueue.Remove(e.kaHandle)
		e.kaHandle = nil
	}
	if e.ioHandle.Enqueued() {
		w.ioTimeoutQueue.Remove(e.ioHandle)
		e.ioHandle = nil
	}
}

// Tick drains both wait queues of expired entries and closes those
// connections; throttle pools are refilled by the engine, not here. Safe to call on any goroutine that owns this worker's event loop;
// callers typically invoke it once per Run cycle.
func (w *Worker) Tick(now time.Time) {
	expired := func(e *entry) bool { return !now.Before(e.deadline) }

	var toClose []*entry
	w.keepAliveQueue.DrainExpired(expired, func(e *entry) {
		e.kaHandle = nil
		toClose = append(toClose, e)
	})
	w.ioTimeoutQueue.DrainExpired(expired, func(e *entry) {
		e.ioHandle = nil
		toClose = append(toClose, e)
	})

	for _, e := range toClose {
		w.Stats.TimedOut++
		w.closeFD(e.c.FD(), e)
	}
}

// closeFD tears down a connection: removes it from the poller and the
// tracking map, fires close hooks, releases its throttle credit, and
// closes the fd. Byte counters are already folded into w.Stats
// incrementally by HandleReadable/HandleWritable as bytes cross the
// socket, not here.
func (w *Worker) closeFD(fd int, e *entry) {
	w.dequeue(e)

	w.mu.Lock()
	delete(w.connections, fd)
	w.mu.Unlock()

	_ = w.poller.Remove(fd)

	if w.plugins != nil {
		w.plugins.HandleClose(e.c.ID, e.c.LastError())
	}

	w.connPool.Put(e.c)
	syscall.Close(fd)
	w.Stats.Closed++
}

// Close shuts down every tracked connection and the poller itself.
func (w *Worker) Close() error {
	w.mu.RLock()
	fds := make([]int, 0, len(w.connections))
	for fd := range w.connections {
		fds = append(fds, fd)
	}
	w.mu.RUnlock()

	for _, fd := range fds {
		if e, ok := w.lookup(fd); ok {
			w.closeFD(fd, e)
		}
	}
	return w.poller.Close()
}

// ActiveConnections returns the number of connections currently tracked.
func (w *Worker) ActiveConnections() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.connections)
}
