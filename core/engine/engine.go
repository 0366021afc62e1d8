// Package engine wires together the pieces core/conn and core/worker leave
// as external collaborators: a listener, N sharded worker event loops, the
// action tree routes are registered against, the close-hook registry, and
// the throttle pool hierarchy's periodic refill.
//
// Adapted from an earlier single-engine Run/acceptConnections
// (one engine, one poller, a single map of connections) into the sharded
// shape _examples/original_source/src/main/worker.c uses: one poller and
// connection set per worker goroutine, all workers accepting off the same
// listening socket, coordinated for shutdown the way
// _examples/MiraiMindz-watt/capacitor and nabbar-golib both run their
// goroutine fleets under golang.org/x/sync/errgroup.
package engine

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liteworker/litehttpd/core/action"
	"github.com/liteworker/litehttpd/core/logging"
	"github.com/liteworker/litehttpd/core/plugin"
	"github.com/liteworker/litehttpd/core/poller"
	"github.com/liteworker/litehttpd/core/pools"
	"github.com/liteworker/litehttpd/core/throttle"
	"github.com/liteworker/litehttpd/core/vrequest"
	"github.com/liteworker/litehttpd/core/worker"
)

const defaultThrottlePool = "default"

// Options configures an Engine before Run is called.
type Options struct {
	// NumWorkers is the number of sharded event-loop workers. <= 0 means
	// runtime.NumCPU().
	NumWorkers int

	MaxKeepAliveRequests int
	KeepAliveIdle        time.Duration
	IOTimeout            time.Duration

	// ThrottleBytesPerSec bounds the aggregate response byte rate across
	// every connection sharing the default throttle pool. <= 0 means
	// unlimited.
	ThrottleBytesPerSec int64
}

// Engine owns the listener and a fixed pool of workers, each with its own
// poller, accepting connections off the same listening socket and
// dispatching requests through a shared action tree.
type Engine struct {
	actions     *action.Tree
	plugins     *plugin.Registry
	throttleMgr *throttle.Manager

	opts    Options
	workers []*worker.Worker

	ln  net.Listener
	lfd int

	// statsPool runs the periodic aggregate-stats log line off the tick
	// goroutine so a slow log sink never competes with the hot request
	// path.
	statsPool *pools.WorkerPool

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// New creates an Engine with no routes registered yet.
func New(opts Options) *Engine {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = runtime.NumCPU()
	}
	if opts.KeepAliveIdle <= 0 {
		opts.KeepAliveIdle = 5 * time.Second
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = 10 * time.Second
	}
	pools.OptimizeForHighThroughput()
	return &Engine{
		actions:     action.New(),
		plugins:     plugin.NewRegistry(),
		throttleMgr: throttle.NewManager(),
		opts:        opts,
		statsPool:   pools.NewWorkerPool(1),
	}
}

// Stats aggregates Accepted/Closed/TimedOut/BytesIn/BytesOut across every
// worker as of the call.
func (e *Engine) Stats() worker.Stats {
	e.mu.Lock()
	workers := e.workers
	e.mu.Unlock()

	var total worker.Stats
	for _, w := range workers {
		s := w.Stats
		total.Accepted += s.Accepted
		total.Closed += s.Closed
		total.TimedOut += s.TimedOut
		total.BytesIn += s.BytesIn
		total.BytesOut += s.BytesOut
	}
	return total
}

// Handle registers fn to run for method+path requests.
func (e *Engine) Handle(method, path string, fn vrequest.Action) {
	e.actions.Add(method, path, fn)
}

// GET registers a GET route.
func (e *Engine) GET(path string, fn vrequest.Action) { e.Handle("GET", path, fn) }

// POST registers a POST route.
func (e *Engine) POST(path string, fn vrequest.Action) { e.Handle("POST", path, fn) }

// PUT registers a PUT route.
func (e *Engine) PUT(path string, fn vrequest.Action) { e.Handle("PUT", path, fn) }

// DELETE registers a DELETE route.
func (e *Engine) DELETE(path string, fn vrequest.Action) { e.Handle("DELETE", path, fn) }

// PATCH registers a PATCH route.
func (e *Engine) PATCH(path string, fn vrequest.Action) { e.Handle("PATCH", path, fn) }

// HEAD registers a HEAD route.
func (e *Engine) HEAD(path string, fn vrequest.Action) { e.Handle("HEAD", path, fn) }

// OnClose registers a close hook fired synchronously on a connection's
// owning worker whenever that connection tears down.
func (e *Engine) OnClose(fn plugin.CloseFunc) {
	e.plugins.OnClose(fn)
}

// Run binds addr, starts NumWorkers sharded event loops accepting off the
// same listening socket, and blocks until Shutdown is called or a worker
// reports a fatal poller error.
func (e *Engine) Run(addr string) error {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return err
	}
	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return err
	}
	lnFile, err := ln.File()
	if err != nil {
		ln.Close()
		return err
	}
	lfd := int(lnFile.Fd())
	if err := poller.SetNonblock(lfd); err != nil {
		ln.Close()
		return err
	}

	e.throttleMgr.Pool(defaultThrottlePool, e.opts.ThrottleBytesPerSec)

	workerCfg := worker.Config{
		MaxKeepAliveRequests: e.opts.MaxKeepAliveRequests,
		KeepAliveIdle:        e.opts.KeepAliveIdle,
		IOTimeout:            e.opts.IOTimeout,
	}

	e.workers = make([]*worker.Worker, e.opts.NumWorkers)
	for i := range e.workers {
		p, err := poller.NewPoller()
		if err != nil {
			return fmt.Errorf("worker %d: new poller: %w", i, err)
		}
		w := worker.New(i, p, e.actions)
		w.Configure(workerCfg)
		w.SetPlugins(e.plugins)
		w.SetThrottle(func(remoteAddr string) *throttle.IPBucket {
			return e.throttleMgr.IPBucket(defaultThrottlePool, remoteAddr)
		})
		if err := w.AddListener(lfd); err != nil {
			return fmt.Errorf("worker %d: add listener: %w", i, err)
		}
		e.workers[i] = w
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	for _, w := range e.workers {
		w := w
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				default:
				}
				if err := w.Run(100); err != nil {
					return fmt.Errorf("worker %d: %w", w.ID, err)
				}
			}
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		tickCount := 0
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				e.throttleMgr.Tick(now)
				tickCount++
				if tickCount%10 == 0 {
					e.statsPool.Submit(func() {
						s := e.Stats()
						gc := pools.GetGCStats()
						logging.Infof("engine: accepted=%d closed=%d timed_out=%d bytes_in=%d bytes_out=%d goroutines=%d heap_alloc=%d",
							s.Accepted, s.Closed, s.TimedOut, s.BytesIn, s.BytesOut, gc.NumGoroutine, gc.AllocBytes)
					})
				}
			}
		}
	})

	e.mu.Lock()
	e.ln = ln
	e.lfd = lfd
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	logging.Infof("engine: listening on %s across %d workers", addr, e.opts.NumWorkers)

	err = g.Wait()

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	return err
}

// Shutdown stops accepting new connections and tears down every worker's
// tracked connections. A short grace period lets each worker's in-flight
// poller.Wait return before its poller is closed.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	ln := e.ln
	workers := e.workers
	e.mu.Unlock()

	cancel()
	time.Sleep(150 * time.Millisecond)

	if ln != nil {
		ln.Close()
	}
	for _, w := range workers {
		if err := w.Close(); err != nil {
			logging.Errorf("engine: worker %d close: %v", w.ID, err)
		}
	}
	e.statsPool.Close()
}
