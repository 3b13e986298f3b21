// Package logging holds the process-wide logger shared by the accounts store
// and the bank layer. It leverages the zap library to offer structured and
// performant logging.
package logging

import (
	"go.uber.org/zap"
)

// Sugar is a globally accessible SugaredLogger instance.
// It provides a more ergonomic API for logging compared to the base Zap logger.
var Sugar zap.SugaredLogger

// Initialize sets up the global SugaredLogger using Zap's development
// configuration. If initialization fails, the function returns an error.
func Initialize() error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}

	Sugar = *logger.Sugar()
	return nil
}

// Named returns a child of the global logger scoped to a subsystem,
// e.g. "accountsdb" or "bank".
func Named(name string) *zap.SugaredLogger {
	return Sugar.Named(name)
}

func init() {
	if err := Initialize(); err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
}
