package httpparser

import (
	"testing"

	"github.com/liteworker/litehttpd/core/chunkqueue"
	"github.com/liteworker/litehttpd/core/http"
)

func TestParseWaitsForHeaderBlock(t *testing.T) {
	raw := chunkqueue.New()
	raw.Append([]byte("GET / HTTP/1.1\r\nHost: example.com\r\n"))

	req := http.AcquireRequest()
	defer http.ReleaseRequest(req)

	res, err := Parse(raw, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != WaitForEvent {
		t.Fatalf("Parse() = %v, want WaitForEvent", res)
	}
	if raw.Length() == 0 {
		t.Fatal("partial header bytes must not be consumed")
	}
}

func TestParseCompletesOnBlankLine(t *testing.T) {
	raw := chunkqueue.New()
	raw.Append([]byte("GET /foo?a=1&b=2 HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello extra"))

	req := http.AcquireRequest()
	defer http.ReleaseRequest(req)

	res, err := Parse(raw, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != GoOn {
		t.Fatalf("Parse() = %v, want GoOn", res)
	}
	if req.Method != "GET" || req.Path != "/foo" || req.Proto != "HTTP/1.1" {
		t.Fatalf("unexpected request line fields: %+v", req)
	}
	if req.Host != "example.com" {
		t.Fatalf("Host = %q, want example.com", req.Host)
	}
	if req.ContentLength != "5" {
		t.Fatalf("ContentLength = %q, want 5", req.ContentLength)
	}
	if req.Query["a"] != "1" || req.Query["b"] != "2" {
		t.Fatalf("Query = %+v, want a=1 b=2", req.Query)
	}

	// Only the header block is consumed; "hello extra" (body + pipelined
	// bytes) must remain queued for the body-ingestion step.
	if raw.Length() != int64(len("hello extra")) {
		t.Fatalf("raw.Length() = %d, want %d", raw.Length(), len("hello extra"))
	}
}

func TestParseExpectContinue(t *testing.T) {
	raw := chunkqueue.New()
	raw.Append([]byte("POST /upload HTTP/1.1\r\nHost: h\r\nExpect: 100-continue\r\nContent-Length: 3\r\n\r\n"))

	req := http.AcquireRequest()
	defer http.ReleaseRequest(req)

	res, err := Parse(raw, req)
	if err != nil || res != GoOn {
		t.Fatalf("Parse() = %v, %v, want GoOn, nil", res, err)
	}
	if !req.ExpectContinue {
		t.Fatal("expected ExpectContinue to be set")
	}
}

func TestParseMalformedRequestLine(t *testing.T) {
	raw := chunkqueue.New()
	raw.Append([]byte("NOTAREQUESTLINE\r\n\r\n"))

	req := http.AcquireRequest()
	defer http.ReleaseRequest(req)

	res, err := Parse(raw, req)
	if res != Error || err == nil {
		t.Fatalf("Parse() = %v, %v, want Error, non-nil", res, err)
	}
}

func TestContentLengthHelper(t *testing.T) {
	req := http.AcquireRequest()
	defer http.ReleaseRequest(req)

	n, err := ContentLength(req)
	if err != nil || n != -1 {
		t.Fatalf("ContentLength() with no header = %d, %v, want -1, nil", n, err)
	}

	req.ContentLength = "42"
	n, err = ContentLength(req)
	if err != nil || n != 42 {
		t.Fatalf("ContentLength() = %d, %v, want 42, nil", n, err)
	}

	req.ContentLength = "not-a-number"
	if _, err := ContentLength(req); err == nil {
		t.Fatal("expected error for malformed Content-Length")
	}
}
