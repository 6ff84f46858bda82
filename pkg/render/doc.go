/*
Package render turns session events into terminal output.

Console prints a scrolling log: new log lines only (tracked by absolute
index so evictions between two snapshots show up as a skipped-lines marker),
a progress bar line per mirror update, and short status lines for
connection transitions, notices and panel health. Colours come from
fatih/color and are dropped when NoColor is set or stdout is not a terminal.

JSONLines writes one JSON object per event for scripts.

Both renderers consume an events.Subscriber and never block a session.
*/
package render
