package vrequest

import "strconv"

// Header is a minimal ordered-insensitive header map, the response-side
// analogue of net/http.Header trimmed to what a response writer needs here.
type Header map[string][]string

// Set replaces any existing values for key with a single value.
func (h Header) Set(key, value string) {
	h[canonicalKey(key)] = []string{value}
}

// Add appends value to key's existing values.
func (h Header) Add(key, value string) {
	k := canonicalKey(key)
	h[k] = append(h[k], value)
}

// Get returns the first value for key, or "" if absent.
func (h Header) Get(key string) string {
	vs := h[canonicalKey(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func canonicalKey(key string) string {
	if key == "" {
		return key
	}
	b := []byte(key)
	upper := true
	for i, c := range b {
		switch {
		case upper && c >= 'a' && c <= 'z':
			b[i] = c - 'a' + 'A'
			upper = false
		case !upper && c >= 'A' && c <= 'Z':
			b[i] = c - 'A' + 'a'
		case c == '-':
			upper = true
		default:
			upper = false
		}
	}
	return string(b)
}

// WriteHeader sets the response status code. Calling it after the header
// block has already been latched (because body bytes were written first, or
// the connection's response writer already drained the headers to raw_out)
// has no effect, matching the header-emission latch in
// forward_response_body: once headers are sent they cannot be changed.
func (v *VRequest) WriteHeader(statusCode int) {
	if v.headersSent {
		return
	}
	v.StatusCode = statusCode
}

// Write appends p to the response body, latching the header set first if it
// has not been latched yet. Body bytes go straight into Out; the status
// line and header block themselves are only materialized by
// core/respwriter as it drains Out into the connection's raw_out, since the
// response writer, not the handler, decides between Content-Length and
// chunked transfer-encoding framing.
func (v *VRequest) Write(p []byte) (int, error) {
	v.ensureHeadersWritten()
	v.Out.Append(p)
	if v.Hooks.OnResponseBody != nil {
		v.Hooks.OnResponseBody(v)
	}
	return len(p), nil
}

// String writes a text/plain response.
func (v *VRequest) String(statusCode int, s string) {
	v.WriteHeader(statusCode)
	if v.Header.Get("Content-Type") == "" {
		v.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	v.Write([]byte(s))
	v.MarkResponseDone()
}

// JSON writes body as an application/json response. Callers are expected to
// have already marshaled it; this module does not reach into an encoding
// package on the hot path, accepting
// pre-encoded bytes for the same reason.
func (v *VRequest) JSON(statusCode int, body []byte) {
	v.WriteHeader(statusCode)
	v.Header.Set("Content-Type", "application/json; charset=utf-8")
	v.Write(body)
	v.MarkResponseDone()
}

// Bytes writes body with the given content type.
func (v *VRequest) Bytes(statusCode int, contentType string, body []byte) {
	v.WriteHeader(statusCode)
	v.Header.Set("Content-Type", contentType)
	v.Write(body)
	v.MarkResponseDone()
}

// HeadersSent reports whether the header set has been latched (the status
// code and header map are now frozen), regardless of whether the bytes have
// actually reached raw_out yet.
func (v *VRequest) HeadersSent() bool {
	return v.headersSent
}

// ensureHeadersWritten fires OnResponseHeaders and freezes the header set
// exactly once, the Go equivalent of the one-shot latch
// forward_response_body applies before any body bytes leave the logical
// queue.
func (v *VRequest) ensureHeadersWritten() {
	if v.headersSent {
		return
	}
	if v.Hooks.OnResponseHeaders != nil {
		v.Hooks.OnResponseHeaders(v)
	}
	if v.Header.Get("Content-Type") == "" {
		v.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	v.headersSent = true
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// StatusText returns the reason phrase for an HTTP status code.
func StatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 206:
		return "Partial Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 413:
		return "Payload Too Large"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown Status"
	}
}

func statusText(code int) string {
	return StatusText(code)
}
