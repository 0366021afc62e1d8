package plugin

import (
	"errors"
	"testing"
)

func TestHandleCloseRunsAllHooksInOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	r.OnClose(func(connID uint64, err error) { order = append(order, "first") })
	r.OnClose(func(connID uint64, err error) { order = append(order, "second") })

	r.HandleClose(7, nil)

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v, want [first second]", order)
	}
}

func TestHandleClosePassesConnIDAndError(t *testing.T) {
	r := NewRegistry()
	wantErr := errors.New("boom")

	var gotID uint64
	var gotErr error
	r.OnClose(func(connID uint64, err error) {
		gotID = connID
		gotErr = err
	})

	r.HandleClose(42, wantErr)

	if gotID != 42 || gotErr != wantErr {
		t.Fatalf("got (%d, %v), want (42, %v)", gotID, gotErr, wantErr)
	}
}

func TestHandleCloseSurvivesPanickingHook(t *testing.T) {
	r := NewRegistry()
	ranSecond := false
	r.OnClose(func(uint64, error) { panic("plugin bug") })
	r.OnClose(func(uint64, error) { ranSecond = true })

	r.HandleClose(1, nil)

	if !ranSecond {
		t.Fatal("expected the second hook to still run after the first panicked")
	}
}
