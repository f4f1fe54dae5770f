package logging

import (
	"log/slog"
)

// WithComponent creates a logger with component/subsystem context.
//
// Example:
//
//	log := logging.WithComponent("lockmanager")
//	log.Info("component initialized")
func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// WithWorker creates a logger for one harness worker goroutine.
func WithWorker(id int) *slog.Logger {
	return GetLogger().With("worker", id)
}

// WithError creates a logger with error context.
// Use this when logging errors to include the error in structured format.
//
// Example:
//
//	log := logging.WithError(err)
//	log.Error("stress run failed", "workers", n)
func WithError(err error) *slog.Logger {
	return GetLogger().With("error", err.Error())
}
