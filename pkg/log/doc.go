/*
Package log provides structured logging for Burrow using zerolog.

The log package wraps the zerolog library with a process-wide logger,
configurable levels, and helpers that attach the identifiers Burrow uses
everywhere: app, channel, user and subscription.

# Configuration

  - Level: debug, info, warn, error (ParseLevel accepts any case)
  - JSONOutput: JSON lines for production, zerolog.ConsoleWriter otherwise
  - Output: any io.Writer, stdout by default

Until Init is called the global Logger discards everything, so packages
can log freely from tests without configuring output.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

	engineLog := log.WithChannel("a1", "c1")
	engineLog.Debug().Int("queued", 3).Msg("draining ingestion queue")

	taskLog := log.WithSubscription(id).With().Str("user", "bob").Logger()
	taskLog.Warn().Uint64("skipped", 12).Msg("subscriber lagged")

# Context Loggers

  - WithComponent: component name (manager, api, collector)
  - WithApp: app id
  - WithChannel: app and channel ids
  - WithUser: user name
  - WithSubscription: subscription task id
*/
package log
