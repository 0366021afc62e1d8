// Package config loads the server's flag-based configuration and layers an
// atomically-swappable Snapshot on top of it for the three CORE_OPTION
// values (DebugRequestHandling, MaxKeepAliveRequests, MaxKeepAliveIdle).
//
// Store holds the current Snapshot behind an atomic.Pointer; when an
// options file is set, NewStore starts a watch that installs a fresh
// Snapshot in one atomic store so that Load never tears. Workers do not
// read the Store: app.New copies MaxKeepAliveRequests and MaxKeepAliveIdle
// into the engine once at startup, so a reload changes what Load returns
// and the DebugRequestHandling logging gate, but not the keep-alive limits
// of running workers.
package config

import (
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/liteworker/litehttpd/core/logging"
)

// Config holds the flag-derived configuration loaded once at startup.
type Config struct {
	Port         int
	ReadTimeout  int
	WriteTimeout int
	Env          string

	// OptionsFile, if set, is a JSON file fsnotify watches for the
	// CORE_OPTION values below; see Snapshot.
	OptionsFile string

	DebugRequestHandling bool
	MaxKeepAliveRequests int
	MaxKeepAliveIdle     int
}

// Snapshot is the immutable view of the CORE_OPTION values held by a
// Store. Fields mirror the original's
// LI_CORE_OPTION_DEBUG_REQUEST_HANDLING / MAX_KEEP_ALIVE_REQUESTS /
// MAX_KEEP_ALIVE_IDLE options.
type Snapshot struct {
	DebugRequestHandling bool
	MaxKeepAliveRequests int
	MaxKeepAliveIdle     int
}

// New loads configuration from flags (and potentially env vars).
func New() *Config {
	cfg := &Config{}

	flag.IntVar(&cfg.Port, "port", 8080, "HTTP server port")
	flag.IntVar(&cfg.ReadTimeout, "read-timeout", 10, "HTTP read timeout (seconds)")
	flag.IntVar(&cfg.WriteTimeout, "write-timeout", 30, "HTTP write timeout (seconds)")
	flag.StringVar(&cfg.Env, "env", "development", "Environment (development/production)")
	flag.StringVar(&cfg.OptionsFile, "options-file", "", "optional JSON file of hot-reloadable options")
	flag.BoolVar(&cfg.DebugRequestHandling, "debug-request-handling", false, "log per-request state transitions")
	flag.IntVar(&cfg.MaxKeepAliveRequests, "max-keep-alive-requests", 100, "requests served per connection before forcing close (0 = unlimited)")
	flag.IntVar(&cfg.MaxKeepAliveIdle, "max-keep-alive-idle", 5, "seconds an idle keep-alive connection is kept open")

	flag.Parse()

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			cfg.Port = p
		}
	}

	return cfg
}

// Snapshot builds the initial Snapshot from the loaded flags.
func (c *Config) Snapshot() *Snapshot {
	return &Snapshot{
		DebugRequestHandling: c.DebugRequestHandling,
		MaxKeepAliveRequests: c.MaxKeepAliveRequests,
		MaxKeepAliveIdle:     c.MaxKeepAliveIdle,
	}
}

// Store is an atomic.Pointer[Snapshot] wrapper, optionally kept fresh by
// fsnotify watching Config.OptionsFile.
type Store struct {
	ptr     atomic.Pointer[Snapshot]
	watcher *fsnotify.Watcher
	path    string
}

// NewStore creates a Store seeded with cfg's initial Snapshot and, if
// cfg.OptionsFile is set, starts an fsnotify watch that installs a fresh
// Snapshot on every write without ever blocking request handling.
func NewStore(cfg *Config) (*Store, error) {
	s := &Store{path: cfg.OptionsFile}
	s.ptr.Store(cfg.Snapshot())
	logging.SetDebugRequestHandling(cfg.DebugRequestHandling)

	if cfg.OptionsFile == "" {
		return s, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(cfg.OptionsFile); err != nil {
		w.Close()
		return nil, err
	}
	s.watcher = w

	go s.watch()
	return s, nil
}

func (s *Store) watch() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if snap, err := loadSnapshotFile(s.path); err != nil {
				logging.Errorf("config: reload %s: %v", s.path, err)
			} else {
				s.ptr.Store(snap)
				logging.SetDebugRequestHandling(snap.DebugRequestHandling)
				logging.Infof("config: reloaded options from %s", s.path)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.Errorf("config: watch %s: %v", s.path, err)
		}
	}
}

func loadSnapshotFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Load returns the current Snapshot. Safe for concurrent use by every
// worker goroutine.
func (s *Store) Load() *Snapshot {
	return s.ptr.Load()
}

// Close stops the fsnotify watch, if one was started.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}

// KeepAliveIdle returns MaxKeepAliveIdle as a time.Duration for direct use
// by worker.Config.
func (s *Snapshot) KeepAliveIdle() time.Duration {
	return time.Duration(s.MaxKeepAliveIdle) * time.Second
}
