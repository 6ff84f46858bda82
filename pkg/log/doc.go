/*
Package log provides structured logging for proxywatch using zerolog.

The log package wraps zerolog with a process-wide Logger, a small level
vocabulary, and helpers that attach the identifiers proxywatch components
care about: the component name, the channel URL a stream is bound to, the
mirror job id, and the session id.

# Architecture

	┌──────────────────── LOGGING SYSTEM ─────────────────────┐
	│                                                          │
	│   log.Init(Config)                                       │
	│     - Level: debug/info/warn/error                       │
	│     - JSONOutput: JSON lines or console writer           │
	│     - Output: stderr by default, keeps stdout free for   │
	│       rendered log tails and progress                    │
	│                                                          │
	│   Child loggers                                          │
	│     - WithComponent("stream")                            │
	│     - WithChannel("stream", "wss://panel/.../error")     │
	│     - WithJobID("example.com")                           │
	│     - WithSessionID("2f1c...")                           │
	└──────────────────────────────────────────────────────────┘

Until Init is called the global Logger discards everything, so library
packages can log freely in tests without polluting output.

# Usage

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.LogLevel),
		JSONOutput: cfg.JSONLogs,
	})

	streamLog := log.WithChannel("stream", conn.URL())
	streamLog.Warn().
		Int("attempt", 2).
		Dur("delay", 4*time.Second).
		Msg("Scheduling reconnect")

# Conventions

Stream connections log every state transition at debug level, scheduled
reconnects at warn level, and exhausted retries at error level. Dropped
malformed messages are logged at warn level with the parse error attached.
*/
package log
