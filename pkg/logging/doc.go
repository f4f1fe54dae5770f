// Package logging provides a process-wide structured logger for locklevels.
//
// The package wraps [log/slog] and exposes a single global logger instance
// that is initialized once and then retrieved via GetLogger. The lock
// manager, the graph store, the stress harness and the CLI all obtain their
// loggers through this package, so level and destination are controlled
// from a single place.
//
// # Initialisation
//
// Call Init (or InitDefault for sensible defaults) once at program startup,
// before any goroutines that might call GetLogger are spawned:
//
//	if err := logging.Init(logging.Config{Level: logging.LevelDebug, OutputPath: "/tmp/locklevels.log"}); err != nil {
//	    log.Fatal(err)
//	}
//
// InitDefault writes INFO-level text logs to stderr. Stdout is left alone
// because the state viewer draws on it.
//
// # Context helpers
//
// Several helpers return child loggers pre-populated with structured fields:
//
//	log := logging.WithComponent("graph") // adds component field
//	log := logging.WithError(err)         // adds error field
//	log := logging.WithWorker(3)          // adds worker field
package logging
