package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotFromConfig(t *testing.T) {
	cfg := &Config{MaxKeepAliveRequests: 50, MaxKeepAliveIdle: 5, DebugRequestHandling: true}
	snap := cfg.Snapshot()
	if snap.MaxKeepAliveRequests != 50 || snap.MaxKeepAliveIdle != 5 || !snap.DebugRequestHandling {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.KeepAliveIdle() != 5*time.Second {
		t.Fatalf("KeepAliveIdle() = %v, want 5s", snap.KeepAliveIdle())
	}
}

func TestStoreReloadsOnOptionsFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "options.json")
	initial, _ := json.Marshal(Snapshot{MaxKeepAliveRequests: 10, MaxKeepAliveIdle: 5})
	if err := os.WriteFile(path, initial, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store, err := NewStore(&Config{OptionsFile: path, MaxKeepAliveRequests: 10, MaxKeepAliveIdle: 5})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	if got := store.Load().MaxKeepAliveRequests; got != 10 {
		t.Fatalf("initial MaxKeepAliveRequests = %d, want 10", got)
	}

	updated, _ := json.Marshal(Snapshot{MaxKeepAliveRequests: 200, MaxKeepAliveIdle: 30})
	if err := os.WriteFile(path, updated, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if store.Load().MaxKeepAliveRequests == 200 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("store never observed reload, last snapshot: %+v", store.Load())
}

func TestStoreWithoutOptionsFileIsStatic(t *testing.T) {
	store, err := NewStore(&Config{MaxKeepAliveRequests: 5, MaxKeepAliveIdle: 1})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	if got := store.Load().MaxKeepAliveRequests; got != 5 {
		t.Fatalf("MaxKeepAliveRequests = %d, want 5", got)
	}
}
