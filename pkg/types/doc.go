/*
Package types defines the data structures shared across proxywatch.

These types model the client side of the control panel contract: the
connection lifecycle of a stream, the scope of a channel, the snapshots
handed to renderers, and the JSON shapes returned by the panel's REST
endpoints.

# Connection lifecycle

	Idle ──► Connecting ──► Open ──► Closing ──► Closed
	              ▲                                 │
	              │                                 ▼ (not stopped)
	              └──────────── Reconnecting ◄──────┘
	                                 │
	                                 ▼ (attempts exhausted)
	                               Failed

Closed is entered on a remote close, a transport error, or an explicit stop.
Only the first two lead on to Reconnecting. Failed is terminal until the
caller builds a new connection.

# Snapshots

LogSnapshot and ProgressSnapshot are always fully materialized. Renderers
never see deltas: the log tail hands over every retained line, and the
progress view hands over the merged job state. ProgressSnapshot.Complete
infers completion from the stats counters because the server sends no
terminal message.
*/
package types
