/*
Package log provides structured logging for nodewatch using zerolog:
a global Logger configured once via Init, plus helpers for component-
and entity-scoped child loggers.

# Usage

Initializing the logger (done once, in cmd/nodewatch's cobra.OnInitialize):

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component loggers, one per maintainer/collaborator:

	logger := log.WithComponent("failer")
	logger.Warn().Str("hostname", n.Hostname).Msg("node failed")

Entity-scoped loggers:

	log.WithHostname("node-123").Info().Msg("readied")
	log.WithApplicationID("app-1").Info().Msg("instance down")

# Output

JSONOutput selects JSON lines (production) or a human-readable console
writer (local development); both include a timestamp on every record.

# Design

A single package-level Logger, initialized once and read from every
package rather than threaded through constructors, follows the same
global-logger convention the rest of the control loop's ambient stack
uses (metrics, health). Component loggers are zerolog child loggers
with one extra field, not separate Logger instances, so they share the
global level and output configuration.
*/
package log
