/*
Package log provides structured logging for burrow using zerolog.

Both processes (mom, the coordinator, and cub, the front-end) log through a
single package-level zerolog.Logger that is configured once at startup and
then specialised per component, tenant or request with child loggers.

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

JSON output is meant for production, where logs are shipped and indexed.
Console output is the default in development:

	10:30AM INF derivation complete component=coordinator tenant=example.org key=derivations/3fa2.webp

Until Init is called the logger writes JSON to stderr, so packages can log
from tests without any setup.

# Levels

  - Debug: per-request detail (blob lookups, backoff sleeps)
  - Info: lifecycle (listening, tenant loaded, revision swapped)
  - Warn: recoverable trouble (blob store error treated as a miss, late GoodMorning, reconnects)
  - Error: failed operations that surface to a client
  - Fatal: startup failures only

# Context loggers

	clog := log.WithComponent("coordinator")
	clog.Info().Str("tenant", name).Msg("tenant loaded")

	tlog := log.WithTenant("example.org")
	tlog.Warn().Err(err).Msg("users refresh failed")

	rlog := log.WithRequestID(clog, uuid.NewString())

Components keep their child logger in a struct field rather than calling the
package helpers, so every line carries the component name. Request loggers
are derived from it by the HTTP middleware.
*/
package log
