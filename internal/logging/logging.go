// Package logging sets up the daemon's structured logger. Mirrors
// compose-v2's cmd/compose root command: a single process-wide logrus
// logger whose level is set from the debug flag, with text output. No hook
// is installed.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Setup installs the daemon's log formatter and level, returning the
// configured logger. Call once at daemon start-up (the run subcommand
// does).
func Setup(debug bool) *logrus.Logger {
	log := logrus.StandardLogger()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// ForOperation returns a logger entry scoped to one Operation, the way
// per-container fields are threaded through compose-v2's progress events.
func ForOperation(id, opType, target string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"operation": id,
		"type":      opType,
		"target":    target,
	})
}
