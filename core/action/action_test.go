package action

import (
	"testing"

	"github.com/liteworker/litehttpd/core/vrequest"
)

// TestTreeBasic tests basic static routing.
func TestTreeBasic(t *testing.T) {
	tree := New()

	handler := func(v *vrequest.VRequest) {}
	tree.Add("GET", "/", handler)
	tree.Add("GET", "/hello", handler)
	tree.Add("GET", "/hello/world", handler)

	tests := []struct {
		path        string
		shouldMatch bool
	}{
		{"/", true},
		{"/hello", true},
		{"/hello/world", true},
		{"/notfound", false},
	}

	for _, tt := range tests {
		h, _ := tree.Find("GET", tt.path)
		matched := h != nil
		if matched != tt.shouldMatch {
			t.Errorf("Path %s: expected match=%v, got match=%v", tt.path, tt.shouldMatch, matched)
		}
	}
}

// TestTreePriority tests route priority (exact beats param).
func TestTreePriority(t *testing.T) {
	tree := New()

	exactHandler := func(v *vrequest.VRequest) {}
	paramHandler := func(v *vrequest.VRequest) {}

	tree.Add("GET", "/user/admin", exactHandler)
	tree.Add("GET", "/user/:id", paramHandler)

	tests := []struct {
		path         string
		shouldMatch  bool
		isExactMatch bool
	}{
		{"/user/admin", true, true},
		{"/user/123", true, false},
	}

	for _, tt := range tests {
		h, params := tree.Find("GET", tt.path)
		if (h != nil) != tt.shouldMatch {
			t.Errorf("Path %s: expected match=%v, got match=%v", tt.path, tt.shouldMatch, h != nil)
		}
		if tt.shouldMatch {
			_, hasParam := params["id"]
			if tt.isExactMatch && hasParam {
				t.Errorf("Path %s: should be exact match, but got params", tt.path)
			}
			if !tt.isExactMatch && !hasParam {
				t.Errorf("Path %s: should be param match, but no params", tt.path)
			}
		}
	}
}

func TestTreeMethodIsolation(t *testing.T) {
	tree := New()
	getCalled, postCalled := false, false
	tree.Add("GET", "/res", func(v *vrequest.VRequest) { getCalled = true })
	tree.Add("POST", "/res", func(v *vrequest.VRequest) { postCalled = true })

	h, _ := tree.Find("GET", "/res")
	if h == nil {
		t.Fatal("expected a GET handler")
	}
	h(nil)
	if !getCalled || postCalled {
		t.Fatal("expected only the GET handler to run")
	}
}

func TestTreeCatchAll(t *testing.T) {
	tree := New()
	tree.Add("GET", "/static/*filepath", func(v *vrequest.VRequest) {})

	_, params := tree.Find("GET", "/static/css/site.css")
	if params["filepath"] != "css/site.css" {
		t.Fatalf("filepath param = %q, want %q", params["filepath"], "css/site.css")
	}
}

// Benchmarks

func BenchmarkTreeStatic(b *testing.B) {
	tree := New()
	handler := func(v *vrequest.VRequest) {}
	tree.Add("GET", "/hello/world", handler)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.Find("GET", "/hello/world")
	}
}

func BenchmarkTreeParam(b *testing.B) {
	tree := New()
	handler := func(v *vrequest.VRequest) {}
	tree.Add("GET", "/user/:id", handler)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.Find("GET", "/user/123")
	}
}
