// Package vrequest implements the logical request/response value object
// ("virtual request") that core/conn drives through the HandleMainRequest
// state: the parsed request, the request/response body chunk queues, the
// response header latch, and the four lifecycle hooks connection.c calls
// mainvr_handle_request_headers / mainvr_handle_response_headers /
// mainvr_handle_response_body / mainvr_handle_response_error.
//
// Routing itself is out of scope (see core/action); a VRequest is handed a
// single resolved Action to run and tracks its own joblist of deferred work
// the way li_vrequest_joblist_append lets a handler ask to be resumed once
// more bytes are available instead of blocking the worker.
package vrequest

import (
	"github.com/liteworker/litehttpd/core/chunkqueue"
	"github.com/liteworker/litehttpd/core/http"
)

// Action is a routed handler. It reads Request/In and writes to the
// response via the VRequest's Write/WriteHeader methods.
type Action func(v *VRequest)

// Hooks are invoked by the VRequest's own methods at the points named in
// connection.c's mainvr_handle_* functions. core/conn installs none of
// them; it runs request-body ingestion from its Progress loop instead. Any
// hook left nil is skipped.
type Hooks struct {
	// OnRequestHeaders fires once the request line and headers are parsed,
	// before the action runs, so a zero-length body closes In before the
	// handler ever sees the request.
	OnRequestHeaders func(v *VRequest)
	// OnResponseHeaders fires once, when the response headers are latched,
	// before the first body byte is appended to Out. The header block
	// itself never passes through Out: core/respwriter writes it straight
	// into raw_out.
	OnResponseHeaders func(v *VRequest)
	// OnResponseBody fires after every response body write.
	OnResponseBody func(v *VRequest)
	// OnResponseError fires when the action reports an error instead of a
	// response.
	OnResponseError func(v *VRequest, err error)
}

// VRequest is the logical request/response pair driven by one connection's
// HandleMainRequest state. It is pooled and reused across keep-alive
// requests the same way *http.Request is.
type VRequest struct {
	Request *http.Request

	// Params holds path parameters bound by the action tree (e.g. ":id"
	// segments), set by the connection alongside Bind.
	Params map[string]string

	// In carries request-body bytes handed off from raw_in by the
	// connection's body-ingestion step.
	In *chunkqueue.Queue
	// Out carries the response body bytes that the connection's response
	// writer drains into raw_out; the status line and headers are not
	// stored here.
	Out *chunkqueue.Queue

	Header     Header
	StatusCode int

	Hooks Hooks

	headersSent  bool
	responseDone bool

	action  Action
	joblist []func()
}

// New creates a VRequest with fresh, unlimited chunk queues.
func New() *VRequest {
	return &VRequest{
		In:         chunkqueue.New(),
		Out:        chunkqueue.New(),
		Header:     make(Header),
		StatusCode: 200,
	}
}

// Reset clears a VRequest for reuse on the next keep-alive request. The In
// and Out queues are reset in place (not replaced) so any shared Limit
// attached via UseLimit survives across requests.
func (v *VRequest) Reset() {
	v.In.Reset()
	v.Out.Reset()
	for k := range v.Header {
		delete(v.Header, k)
	}
	v.StatusCode = 200
	v.Hooks = Hooks{}
	v.headersSent = false
	v.responseDone = false
	v.action = nil
	v.joblist = v.joblist[:0]
	for k := range v.Params {
		delete(v.Params, k)
	}
}

// Bind attaches the parsed request and resolved action for this cycle.
func (v *VRequest) Bind(req *http.Request, action Action) {
	v.Request = req
	v.action = action
}

// BindParams attaches path parameters bound by the action tree alongside
// Bind.
func (v *VRequest) BindParams(params map[string]string) {
	v.Params = params
}

// HandleRequestHeaders runs OnRequestHeaders and then the bound action,
// mirroring mainvr_handle_request_headers's single body-ingestion kick
// followed by entry into the action tree.
func (v *VRequest) HandleRequestHeaders() {
	if v.Hooks.OnRequestHeaders != nil {
		v.Hooks.OnRequestHeaders(v)
	}
	if v.action != nil {
		v.action(v)
	}
	v.RunJoblist()
}

// HandleDirect invokes fn immediately in place of the bound action, for
// callers (error paths, 100-continue, internal redirects) that need to run
// a one-off action without going through routing.
func (v *VRequest) HandleDirect(fn Action) {
	fn(v)
	v.RunJoblist()
}

// JoblistAppend queues fn to run the next time the worker revisits this
// request (e.g. once more request-body bytes have arrived), the Go
// equivalent of li_vrequest_joblist_append.
func (v *VRequest) JoblistAppend(fn func()) {
	v.joblist = append(v.joblist, fn)
}

// RunJoblist drains and runs every queued job. Jobs that themselves append
// further jobs are honored (a job may re-arm itself).
func (v *VRequest) RunJoblist() {
	for len(v.joblist) > 0 {
		job := v.joblist[0]
		v.joblist = v.joblist[1:]
		job()
	}
}

// ResponseDone reports whether the response has been fully written and Out
// has been closed.
func (v *VRequest) ResponseDone() bool {
	return v.responseDone
}

// MarkResponseDone closes Out and records that the response is complete.
// Safe to call more than once; connection.c's forward_response_body calls
// the equivalent check_response_done twice around body forwarding and
// discards all but the first result, so this is idempotent by design.
func (v *VRequest) MarkResponseDone() {
	if v.responseDone {
		return
	}
	v.ensureHeadersWritten()
	v.Out.Close()
	v.responseDone = true
}

// Error runs OnResponseError and then writes a minimal error response if
// headers have not already been sent.
func (v *VRequest) Error(statusCode int, err error) {
	if v.Hooks.OnResponseError != nil {
		v.Hooks.OnResponseError(v, err)
	}
	if v.headersSent {
		v.MarkResponseDone()
		return
	}
	v.StatusCode = statusCode
	v.Header.Set("Content-Type", "text/plain; charset=utf-8")
	msg := statusText(statusCode)
	v.Header.Set("Content-Length", itoa(len(msg)))
	v.Write([]byte(msg))
	v.MarkResponseDone()
}
