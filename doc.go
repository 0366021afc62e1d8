/*
Package litehttpd implements the per-connection, non-blocking HTTP/1.1
server state machine this module is built around: one Connection per
socket, advanced through a small set of states (request start, header
read, main request handling, write) by a Progress loop that never blocks
on I/O, and a sharded pool of event-loop Workers that own the poller,
keep-alive queue, and I/O-timeout queue for the connections accepted onto
them.

Quick Start

	package main

	import (
		"github.com/liteworker/litehttpd/app"
		"github.com/liteworker/litehttpd/config"
		"github.com/liteworker/litehttpd/core/vrequest"
	)

	func main() {
		cfg := config.New()
		application, err := app.New(cfg)
		if err != nil {
			panic(err)
		}

		engine := application.Engine()
		engine.GET("/hello", func(v *vrequest.VRequest) {
			v.String(200, "Hello, World!")
		})

		if err := application.Run(); err != nil {
			panic(err)
		}
	}

Modules

The module is organized as:

  - app: application lifecycle (config load, engine start, signal-driven
    graceful shutdown)
  - config: flag-loaded configuration plus an atomically-swappable,
    fsnotify-backed Snapshot of hot-reloadable options
  - core/conn: the per-connection state machine and its read/write I/O
  - core/worker: one event-loop worker (poller, connection set,
    keep-alive/I/O-timeout wait queues, accept path)
  - core/engine: binds a listener and runs a fixed pool of workers under
    an errgroup, coordinating shutdown
  - core/action: the routing tree actions are registered and resolved
    against
  - core/vrequest: the logical request/response value handed to an action
  - core/respwriter: drains a VRequest's response into the connection's
    outbound chunk queue, choosing fixed-length or chunked framing
  - core/httpparser: the incremental HTTP/1.1 request-line/header parser
  - core/chunkqueue: the scatter-gather byte buffer raw and logical I/O is
    staged through
  - core/throttle: the pool/IP/connection byte-rate credit hierarchy
  - core/poller: the epoll/kqueue socket watcher
  - core/pools: buffer, connection, and worker-task pooling
  - core/sendfile: a reserved zero-copy file-serving integration point
  - core/logging: a thin logrus wrapper gated on DebugRequestHandling

For more, see SPEC_FULL.md and DESIGN.md in the repository root.
*/
package litehttpd
