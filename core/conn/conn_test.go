package conn

import (
	"strings"
	"syscall"
	"testing"

	"github.com/liteworker/litehttpd/core/action"
	"github.com/liteworker/litehttpd/core/poller"
	"github.com/liteworker/litehttpd/core/vrequest"
)

// newTestPair returns a connected, non-blocking Unix socketpair: fd is
// handed to the Connection under test, client represents the remote peer.
func newTestPair(t *testing.T) (fd int, client int) {
	t.Helper()
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := poller.SetNonblock(fds[0]); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	if err := poller.SetNonblock(fds[1]); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	t.Cleanup(func() {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
	})
	return fds[0], fds[1]
}

func writeAll(t *testing.T, fd int, s string) {
	t.Helper()
	b := []byte(s)
	for len(b) > 0 {
		n, err := syscall.Write(fd, b)
		if err != nil && err != syscall.EAGAIN {
			t.Fatalf("write: %v", err)
		}
		b = b[n:]
	}
}

func readAll(t *testing.T, fd int) string {
	t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := syscall.Read(fd, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == syscall.EAGAIN || n == 0 {
			break
		}
		if err != nil {
			break
		}
	}
	return string(out)
}

func TestSimpleGetRequestRoundTrip(t *testing.T) {
	routes := action.New()
	routes.Add("GET", "/hello", func(v *vrequest.VRequest) {
		v.String(200, "hello")
	})

	fd, client := newTestPair(t)
	c := New()
	c.ID = 1
	c.SetFD(fd)
	c.Actions = routes
	c.Start()

	writeAll(t, client, "GET /hello HTTP/1.1\r\nHost: example.com\r\n\r\n")
	if err := c.OnReadable(); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}

	resp := readAll(t, client)
	if !strings.Contains(resp, "HTTP/1.1 200 OK") {
		t.Fatalf("response missing status line: %q", resp)
	}
	if !strings.Contains(resp, "Transfer-Encoding: chunked") {
		t.Fatalf("response missing chunked framing: %q", resp)
	}
	if !strings.Contains(resp, "5\r\nhello\r\n") {
		t.Fatalf("response missing chunked body: %q", resp)
	}
	if !strings.HasSuffix(resp, "0\r\n\r\n") {
		t.Fatalf("response missing final chunk: %q", resp)
	}
	if c.State() != StateKeepAlive {
		t.Fatalf("state = %v, want KeepAlive", c.State())
	}
}

func TestPostBodyIsIngestedBeforeActionRuns(t *testing.T) {
	routes := action.New()
	routes.Add("POST", "/echo", func(v *vrequest.VRequest) {
		segs := v.In.PeekSegments(-1)
		var body []byte
		for _, s := range segs {
			body = append(body, s...)
		}
		v.Bytes(200, "text/plain; charset=utf-8", body)
	})

	fd, client := newTestPair(t)
	c := New()
	c.ID = 2
	c.SetFD(fd)
	c.Actions = routes
	c.Start()

	req := "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhowdy"
	writeAll(t, client, req)
	if err := c.OnReadable(); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}

	resp := readAll(t, client)
	if !strings.Contains(resp, "howdy") {
		t.Fatalf("response missing echoed body: %q", resp)
	}
}

func TestExpectContinueWritesLiteral(t *testing.T) {
	routes := action.New()
	routes.Add("POST", "/upload", func(v *vrequest.VRequest) {
		v.String(200, "ok")
	})

	fd, client := newTestPair(t)
	c := New()
	c.ID = 3
	c.SetFD(fd)
	c.Actions = routes
	c.Start()

	req := "POST /upload HTTP/1.1\r\nHost: x\r\nExpect: 100-continue\r\nContent-Length: 2\r\n\r\nhi"
	writeAll(t, client, req)
	if err := c.OnReadable(); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}

	resp := readAll(t, client)
	if !strings.HasPrefix(resp, "HTTP/1.1 100 Continue\r\n\r\n") {
		t.Fatalf("response missing 100-continue literal: %q", resp)
	}
	if !strings.Contains(resp, "HTTP/1.1 200 OK") {
		t.Fatalf("response missing final status: %q", resp)
	}
}

func TestMalformedRequestLineClosesConnection(t *testing.T) {
	routes := action.New()

	fd, client := newTestPair(t)
	c := New()
	c.ID = 4
	c.SetFD(fd)
	c.Actions = routes
	c.Start()

	writeAll(t, client, "NOT A REQUEST\r\n\r\n")
	if err := c.OnReadable(); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}

	resp := readAll(t, client)
	if !strings.Contains(resp, "400") {
		t.Fatalf("response missing 400 status: %q", resp)
	}
	if c.State() != StateDead {
		t.Fatalf("state = %v, want Dead after malformed request", c.State())
	}
}

func TestUnroutedPathReturns404(t *testing.T) {
	routes := action.New()

	fd, client := newTestPair(t)
	c := New()
	c.ID = 5
	c.SetFD(fd)
	c.Actions = routes
	c.Start()

	writeAll(t, client, "GET /missing HTTP/1.1\r\nHost: x\r\n\r\n")
	if err := c.OnReadable(); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}

	resp := readAll(t, client)
	if !strings.Contains(resp, "404") {
		t.Fatalf("response missing 404 status: %q", resp)
	}
}

func TestKeepAliveRequestLimitClosesConnection(t *testing.T) {
	routes := action.New()
	routes.Add("GET", "/ping", func(v *vrequest.VRequest) {
		v.String(200, "pong")
	})

	fd, client := newTestPair(t)
	c := New()
	c.ID = 6
	c.SetFD(fd)
	c.Actions = routes
	c.MaxKeepAliveRequests = 1
	c.Start()

	writeAll(t, client, "GET /ping HTTP/1.1\r\nHost: x\r\n\r\n")
	if err := c.OnReadable(); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}
	readAll(t, client)

	if c.State() != StateDead {
		t.Fatalf("state = %v, want Dead once the keep-alive ceiling is hit", c.State())
	}
}

func TestConnectionCloseHeaderClosesAfterResponse(t *testing.T) {
	routes := action.New()
	routes.Add("GET", "/x", func(v *vrequest.VRequest) {
		v.String(200, "bye")
	})

	fd, client := newTestPair(t)
	c := New()
	c.ID = 7
	c.SetFD(fd)
	c.Actions = routes
	c.Start()

	writeAll(t, client, "GET /x HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
	if err := c.OnReadable(); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}
	readAll(t, client)

	if c.State() != StateDead {
		t.Fatalf("state = %v, want Dead after Connection: close", c.State())
	}
}

func TestHandlerRespondingEarlyStillIngestsRemainingBody(t *testing.T) {
	routes := action.New()
	routes.Add("POST", "/fire-and-forget", func(v *vrequest.VRequest) {
		// Answers immediately, ignoring the request body entirely.
		v.String(200, "ok")
	})

	fd, client := newTestPair(t)
	c := New()
	c.ID = 9
	c.SetFD(fd)
	c.Actions = routes
	c.Start()

	// Headers arrive declaring a 10-byte body, but only part of the body is
	// sent in the first read.
	writeAll(t, client, "POST /fire-and-forget HTTP/1.1\r\nHost: x\r\nContent-Length: 10\r\n\r\nhello")
	if err := c.OnReadable(); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}

	if c.State() == StateKeepAlive || c.State() == StateDead {
		t.Fatalf("state = %v, connection must not complete before the declared body has fully arrived", c.State())
	}

	// The rest of the body trickles in on a second read.
	writeAll(t, client, "world")
	if err := c.OnReadable(); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}

	if c.State() != StateKeepAlive {
		t.Fatalf("state = %v, want KeepAlive once the full body has been drained", c.State())
	}

	// A pipelined next request must parse cleanly: no leftover body bytes
	// should remain in raw_in to desync the header parser.
	calls := 0
	routes.Add("GET", "/next", func(v *vrequest.VRequest) {
		calls++
		v.String(200, "next")
	})
	writeAll(t, client, "GET /next HTTP/1.1\r\nHost: x\r\n\r\n")
	if err := c.OnReadable(); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (pipelined request must parse as a clean header block)", calls)
	}
}

func TestPanickingHandlerProduces500InsteadOfCrashing(t *testing.T) {
	routes := action.New()
	routes.Add("GET", "/boom", func(v *vrequest.VRequest) {
		var p *int
		_ = *p // nil deref
	})

	fd, client := newTestPair(t)
	c := New()
	c.ID = 10
	c.SetFD(fd)
	c.Actions = routes
	c.Start()

	writeAll(t, client, "GET /boom HTTP/1.1\r\nHost: x\r\n\r\n")
	if err := c.OnReadable(); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}

	resp := readAll(t, client)
	if !strings.Contains(resp, "500") {
		t.Fatalf("response missing 500 status: %q", resp)
	}
	if c.State() != StateDead {
		t.Fatalf("state = %v, want Dead after a recovered panic", c.State())
	}
}

func TestPipelinedSecondRequestAfterKeepAlive(t *testing.T) {
	routes := action.New()
	calls := 0
	routes.Add("GET", "/n", func(v *vrequest.VRequest) {
		calls++
		v.String(200, "n")
	})

	fd, client := newTestPair(t)
	c := New()
	c.ID = 8
	c.SetFD(fd)
	c.Actions = routes
	c.Start()

	// Both requests arrive back to back before the server ever reads,
	// exercising the pipelined-bytes-left-in-raw_in path.
	writeAll(t, client, "GET /n HTTP/1.1\r\nHost: x\r\n\r\nGET /n HTTP/1.1\r\nHost: x\r\n\r\n")
	if err := c.OnReadable(); err != nil {
		t.Fatalf("OnReadable: %v", err)
	}
	if err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}

	if c.State() != StateKeepAlive {
		t.Fatalf("state after first response = %v, want KeepAlive", c.State())
	}
	// Drain the first response so the final read holds only the second.
	readAll(t, client)

	// The worker observes readable bytes remain (or another readable
	// event fires) and restarts the connection for the pipelined request.
	c.Restart()
	if err := c.OnWritable(); err != nil {
		t.Fatalf("OnWritable: %v", err)
	}

	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	resp := readAll(t, client)
	if strings.Count(resp, "HTTP/1.1 200 OK") != 1 {
		t.Fatalf("expected exactly one more 200 in second batch, got: %q", resp)
	}
}
