package logging

import "testing"

func TestDebugGate(t *testing.T) {
	SetDebugRequestHandling(false)
	if DebugRequestHandlingEnabled() {
		t.Fatal("expected debug gate to be off")
	}

	SetDebugRequestHandling(true)
	if !DebugRequestHandlingEnabled() {
		t.Fatal("expected debug gate to be on")
	}
	SetDebugRequestHandling(false)
}

func TestLoggerReturnsSharedInstance(t *testing.T) {
	if Logger() != log {
		t.Fatal("expected Logger() to return the package-level instance")
	}
}
