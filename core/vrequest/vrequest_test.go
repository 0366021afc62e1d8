package vrequest

import (
	"testing"

	"github.com/liteworker/litehttpd/core/http"
)

func TestStringLatchesHeadersAndWritesBody(t *testing.T) {
	v := New()
	v.Bind(http.AcquireRequest(), nil)

	v.String(200, "hello")

	segs := v.Out.PeekSegments(-1)
	var got []byte
	for _, s := range segs {
		got = append(got, s...)
	}

	// Out carries body bytes only; the status line and header block are
	// materialized by core/respwriter as it drains Out into raw_out.
	if string(got) != "hello" {
		t.Fatalf("Out contents = %q, want %q", got, "hello")
	}
	if v.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200", v.StatusCode)
	}
	if v.Header.Get("Content-Type") != "text/plain; charset=utf-8" {
		t.Fatalf("Content-Type = %q, want text/plain", v.Header.Get("Content-Type"))
	}
	if !v.HeadersSent() {
		t.Fatal("expected headers to be latched")
	}
	if !v.ResponseDone() {
		t.Fatal("expected response to be marked done")
	}
	if !v.Out.IsClosed() {
		t.Fatal("expected Out to be closed")
	}
}

func TestWriteHeaderIgnoredAfterHeadersSent(t *testing.T) {
	v := New()
	v.Bind(http.AcquireRequest(), nil)

	v.Write([]byte("x")) // latches headers at default 200
	v.WriteHeader(500)   // too late, must be ignored

	if v.StatusCode != 200 {
		t.Fatalf("StatusCode = %d, want 200 (late WriteHeader must be a no-op)", v.StatusCode)
	}
}

func TestMarkResponseDoneIsIdempotent(t *testing.T) {
	v := New()
	v.Bind(http.AcquireRequest(), nil)

	v.Write([]byte("a"))
	v.MarkResponseDone()
	lenAfterFirst := v.Out.Length()
	v.MarkResponseDone()

	if v.Out.Length() != lenAfterFirst {
		t.Fatal("second MarkResponseDone must not re-emit headers or body")
	}
}

func TestErrorWritesMinimalResponse(t *testing.T) {
	v := New()
	v.Bind(http.AcquireRequest(), nil)

	var hookErr error
	v.Hooks.OnResponseError = func(_ *VRequest, err error) { hookErr = err }

	v.Error(500, errTest)

	if hookErr != errTest {
		t.Fatalf("OnResponseError did not observe the error: %v", hookErr)
	}
	if v.StatusCode != 500 {
		t.Fatalf("StatusCode = %d, want 500", v.StatusCode)
	}
	if !v.ResponseDone() {
		t.Fatal("expected response to be marked done after Error")
	}
}

func TestHooksFireInOrder(t *testing.T) {
	v := New()
	v.Bind(http.AcquireRequest(), nil)

	var order []string
	v.Hooks.OnRequestHeaders = func(*VRequest) { order = append(order, "request-headers") }
	v.Hooks.OnResponseHeaders = func(*VRequest) { order = append(order, "response-headers") }
	v.Hooks.OnResponseBody = func(*VRequest) { order = append(order, "response-body") }

	v.action = func(rv *VRequest) { rv.String(200, "ok") }
	v.HandleRequestHeaders()

	want := []string{"request-headers", "response-headers", "response-body"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestJoblistRunsQueuedWork(t *testing.T) {
	v := New()
	v.Bind(http.AcquireRequest(), nil)

	ran := false
	v.JoblistAppend(func() { ran = true })
	v.RunJoblist()

	if !ran {
		t.Fatal("expected queued job to run")
	}
}

func TestResetClearsStateButKeepsQueues(t *testing.T) {
	v := New()
	v.Bind(http.AcquireRequest(), nil)
	v.String(200, "done")

	in, out := v.In, v.Out
	v.Reset()

	if v.In != in || v.Out != out {
		t.Fatal("Reset must reuse the same queue instances so shared limits survive")
	}
	if v.Out.Length() != 0 || v.ResponseDone() {
		t.Fatal("Reset must clear queued bytes and responseDone")
	}
	if v.StatusCode != 200 {
		t.Fatalf("StatusCode after Reset = %d, want default 200", v.StatusCode)
	}
}

var errTest = testError("boom")

type testError string

func (e testError) Error() string { return string(e) }
