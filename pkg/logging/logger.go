// Package logging provides a process-wide structured logger for coredb.
//
// The package wraps [go.uber.org/zap] and exposes a single global logger
// initialized once via Init and retrieved via Get. Subsystems obtain a
// contextual logger through the With* helpers below rather than building
// their own zap.Logger, so that level and output destination are
// controlled from one place.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	global *zap.Logger
)

// Init installs the process-wide logger. Safe to call once at startup;
// later calls replace the logger for subsequently-obtained loggers only.
func Init(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = logger
}

// Get returns the process-wide logger, falling back to a no-op logger if
// Init was never called (e.g. in tests that don't care about log output).
func Get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return zap.NewNop()
	}
	return global
}

// WithTx returns a logger annotated with the owning transaction's id.
func WithTx(txID int64) *zap.Logger {
	return Get().With(zap.Int64("tx_id", txID))
}

// WithResource returns a logger annotated with a lock-subsystem resource
// name, formatted the same way ResourceName.String does.
func WithResource(resource string) *zap.Logger {
	return Get().With(zap.String("resource", resource))
}

// WithLock returns a logger annotated with both a transaction and a
// resource, for lock-grant/wait/release events.
func WithLock(txID int64, resource string) *zap.Logger {
	return Get().With(zap.Int64("tx_id", txID), zap.String("resource", resource))
}

// WithPage returns a logger annotated with a page, for buffer-pool and
// recovery page-touch events.
func WithPage(page string) *zap.Logger {
	return Get().With(zap.String("page", page))
}

// WithLSN returns a logger annotated with a log sequence number.
func WithLSN(lsn uint64) *zap.Logger {
	return Get().With(zap.Uint64("lsn", lsn))
}

// WithComponent returns a logger annotated with a subsystem name.
func WithComponent(component string) *zap.Logger {
	return Get().With(zap.String("component", component))
}

// WithError returns a logger annotated with an error value.
func WithError(err error) *zap.Logger {
	return Get().With(zap.Error(err))
}
