// Package logging wraps a single package-level logrus logger behind the
// project's own thin helpers, the way _examples/nabbar-golib/logger wraps a
// structured logger behind its own interface rather than letting every
// package import the logging library directly.
//
// Debugf mirrors the original's VR_DEBUG macro, itself gated on
// CORE_OPTION(LI_CORE_OPTION_DEBUG_REQUEST_HANDLING): call
// SetDebugRequestHandling once from config to turn per-request tracing on
// or off without touching call sites.
package logging

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var (
	log          = logrus.New()
	debugEnabled atomic.Bool
)

func init() {
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Logger returns the package-level logger for callers that need direct
// access to logrus's structured fields (e.g. WithField chains).
func Logger() *logrus.Logger {
	return log
}

// SetDebugRequestHandling gates Debugf, mirroring
// CORE_OPTION(LI_CORE_OPTION_DEBUG_REQUEST_HANDLING).
func SetDebugRequestHandling(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugRequestHandlingEnabled reports the current gate state.
func DebugRequestHandlingEnabled() bool {
	return debugEnabled.Load()
}

// Debugf logs at debug level only when request-handling tracing is enabled,
// the Go equivalent of VR_DEBUG.
func Debugf(format string, args ...any) {
	if debugEnabled.Load() {
		log.Debugf(format, args...)
	}
}

// Errorf logs at error level unconditionally, the Go equivalent of
// VR_ERROR.
func Errorf(format string, args ...any) {
	log.Errorf(format, args...)
}

// Infof logs at info level.
func Infof(format string, args ...any) {
	log.Infof(format, args...)
}

// Warnf logs at warn level.
func Warnf(format string, args ...any) {
	log.Warnf(format, args...)
}
