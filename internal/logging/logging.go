// Package logging provides per-subsystem structured loggers shared by the
// orchestrator, swarm, and engine packages.
package logging

import (
	logging "github.com/ipfs/go-log/v2"
)

func init() {
	// Dial failures and backoff noise from the transport go to stderr by
	// default and drown out the node's own subsystem logs.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("autorelay", "warn")
	logging.SetLogLevel("autonat", "warn")
	logging.SetLogLevel("pubsub", "warn")
}

// Logger is the per-subsystem structured logger used throughout the core.
type Logger = logging.EventLogger

// For returns the named subsystem logger, creating it on first use.
func For(subsystem string) Logger {
	return logging.Logger(subsystem)
}
