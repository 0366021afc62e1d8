// Package app wires config, the engine, and signal-driven graceful
// shutdown into the single entry point a main package calls Run on.
package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liteworker/litehttpd/config"
	"github.com/liteworker/litehttpd/core/engine"
	"github.com/liteworker/litehttpd/core/logging"
)

// App ties a loaded Config to a running Engine.
type App struct {
	cfg   *config.Config
	store *config.Store
	eng   *engine.Engine
}

// New creates an application instance from flag-loaded configuration,
// starting the fsnotify-backed options watch if cfg.OptionsFile is set.
func New(cfg *config.Config) (*App, error) {
	store, err := config.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("config store: %w", err)
	}
	snap := store.Load()

	eng := engine.New(engine.Options{
		MaxKeepAliveRequests: snap.MaxKeepAliveRequests,
		KeepAliveIdle:        snap.KeepAliveIdle(),
	})

	return &App{cfg: cfg, store: store, eng: eng}, nil
}

// NewWithEngine builds an App around an already-configured Engine, letting
// callers register routes before Run without going through New's defaults.
func NewWithEngine(cfg *config.Config, store *config.Store, eng *engine.Engine) *App {
	return &App{cfg: cfg, store: store, eng: eng}
}

// Engine returns the underlying engine for route registration.
func (a *App) Engine() *engine.Engine {
	return a.eng
}

// Run starts the engine and blocks until a termination signal triggers a
// graceful shutdown.
func (a *App) Run() error {
	go a.awaitSignal()

	addr := fmt.Sprintf(":%d", a.cfg.Port)
	logging.Infof("app: starting on port %d [%s]", a.cfg.Port, a.cfg.Env)

	if err := a.eng.Run(addr); err != nil {
		return fmt.Errorf("engine run: %w", err)
	}
	return nil
}

func (a *App) awaitSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	logging.Infof("app: signal %v received, shutting down", sig)

	a.eng.Shutdown()
	if a.store != nil {
		a.store.Close()
	}

	// Give logrus a moment to flush the shutdown line before exit.
	time.Sleep(10 * time.Millisecond)
	os.Exit(0)
}
