/*
Package stream maintains server-pushed message channels for proxywatch.

A Conn owns exactly one logical subscription to a control panel channel (a
log tail or a mirror job's progress feed) and hides reconnect churn from the
session that owns it. Every session builds its own Conn; connections are
never shared, so several tails can run side by side without interfering.

# Architecture

	┌──────────────────────── stream.Conn ─────────────────────────┐
	│                                                                │
	│   Endpoint.URL(Channel)                                        │
	│     http://panel/api/v1 + logs/error@shop.example.com          │
	│       → ws://panel/api/v1/nginx/logs/ws/error?domain=shop...   │
	│                                                                │
	│   run loop (one goroutine per Conn)                            │
	│     Connecting ──dial ok──► Open ──read err──► Closed(err)     │
	│         ▲                                          │           │
	│         │                               attempt < MaxAttempts  │
	│         └──── timer(Policy.Delay) ◄── Reconnecting ◄┘          │
	│                                          │                     │
	│                              attempts exhausted → Failed       │
	│                                                                │
	│   Transport (gorilla/websocket by default)                     │
	│     Dial(ctx, url) → MessageConn.ReadMessage / Close           │
	└────────────────────────────────────────────────────────────────┘

# Delivery

OnMessage handlers run once per inbound frame, in the order the transport
delivered them, on the Conn's goroutine. Nothing is deduplicated: after a
reconnect the server may resend lines and the consumer decides what to do
with them. Messages sent while the connection was down are lost unless the
server replays them.

# Reconnection

On an unexpected close the Conn waits min(BaseDelay*2^attempt, MaxDelay)
and dials again. The attempt counter resets to 0 on every successful open.
After MaxAttempts consecutive failures the Conn reports Failed with
ErrExhaustedRetries and its goroutine exits; the operator has to start a new
session.

Transport failures are data, not errors: they arrive as StateChange.Err on
the transition to Closed, wrapped in *TransportError.

# Cancellation

Close is terminal and idempotent. It cancels an in-flight dial or a pending
reconnect timer, closes the live transport, and discards any frame that is
read after the stop flag is set. Done is closed when the goroutine exits.

# Observability

Every transition updates the proxywatch_connection_state gauge and the
component health registry in package metrics: open channels are healthy,
connecting and reconnecting ones are degraded, failed ones are unhealthy.
*/
package stream
