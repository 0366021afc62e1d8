// Package plugin implements the close-hook registry every connection
// teardown runs through: connection_close, li_connection_error, and
// request-done-with-no-keepalive all end up at li_plugins_handle_close in
// the original. Hooks run synchronously on the calling goroutine, which
// must be the worker that owns the connection being closed, matching
// "Plugin close hooks run synchronously on the owning worker."
//
// Adapted from core/middleware.Pipeline: that package chained
// per-request middleware functions and recovers panics in its Recovery()
// middleware; here the chain is close-hooks instead of request middleware,
// and every hook invocation gets the same panic recovery inline rather than
// as an opt-in middleware, since a plugin panicking during close must never
// be allowed to take the owning worker down.
package plugin

import "github.com/liteworker/litehttpd/core/logging"

// CloseFunc observes one connection's teardown. connID identifies the
// connection and err is the error behind the connection's last failure
// response (a parse, routing or handler failure), or nil. Socket errors,
// timeouts and normal closes are reported with a nil err.
type CloseFunc func(connID uint64, err error)

// Registry holds the close hooks registered for an engine. It has no lock:
// OnClose must finish before workers start serving, after which
// HandleClose only reads the hook list and may run on several workers at
// once. HandleClose must only be called by the worker that owns the
// connection in question.
type Registry struct {
	hooks []CloseFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// OnClose registers fn to run on every future connection close. Registration
// happens once at startup, before workers begin serving connections, so no
// locking is needed here.
func (r *Registry) OnClose(fn CloseFunc) {
	r.hooks = append(r.hooks, fn)
}

// HandleClose runs every registered hook in registration order on the
// calling goroutine. A hook that panics is recovered and logged so the
// remaining hooks still run and the owning worker keeps going.
func (r *Registry) HandleClose(connID uint64, err error) {
	for _, h := range r.hooks {
		runHook(h, connID, err)
	}
}

func runHook(h CloseFunc, connID uint64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Errorf("plugin close hook panicked for conn %d: %v", connID, rec)
		}
	}()
	h(connID, err)
}
