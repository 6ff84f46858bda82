/*
Package events provides an in-process event broker connecting running
sessions to whatever displays them.

Log tails, progress trackers and the panel monitor publish Events; the
terminal renderer (and anything else, such as a JSON event printer)
subscribes. Several sessions can publish to one broker at once, which is
how proxywatch shows multiple tails side by side.

# Architecture

	┌──────────────┐  ┌──────────────┐  ┌──────────────┐
	│ logtail      │  │ progress     │  │ health       │
	│ Session      │  │ Tracker      │  │ Monitor      │
	└──────┬───────┘  └──────┬───────┘  └──────┬───────┘
	       │ Publish          │                 │
	       └──────────────────┼─────────────────┘
	                          ▼
	               ┌────────────────────┐
	               │ Broker             │
	               │  eventCh (100)     │
	               │  run() goroutine   │
	               └─────────┬──────────┘
	                         │ broadcast, non-blocking
	              ┌──────────┴──────────┐
	              ▼                     ▼
	       Subscriber (50)       Subscriber (50)
	       render.Console        ...

# Event types

	stream.state      types.StateChange       connection transitions
	logs.update       types.LogSnapshot       full ordered log view
	progress.update   types.ProgressSnapshot  merged mirror job state
	session.notice    error                   prefetch/malformed/server notices
	panel.health      health.Result           panel probe outcome

# Delivery

Events reach each subscriber in publish order. A subscriber whose buffer is
full misses the event rather than blocking the broker; Dropped counts
those. Because update payloads are complete snapshots, the next update
brings a lagging subscriber back in sync.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	session.OnUpdate(func(s types.LogSnapshot) {
		broker.Publish(events.NewLogsEvent("logs/error", s))
	})

	for ev := range sub {
		fmt.Println(ev.Type, ev.Source)
	}
*/
package events
