/*
Package storage keeps proxywatch's local state in a BoltDB file.

Two buckets exist:

	preferences   one JSON record: panel API URL, last log view, auto-scroll
	snapshots     last known types.ProgressSnapshot per mirror job id

The preferences record plays the role the browser's local storage played
for the web panel: `proxywatch config set-url` writes the API URL once and
later commands pick it up. Snapshots let `proxywatch mirror watch` show the
last known state of a job immediately, before the first progress message
arrives, and remain after the job's channel has gone quiet.

Log lines are never stored. A tail lives only in memory for as long as the
command runs.

The database is opened with a lock timeout, so a second proxywatch process
started while another holds the file fails fast with an error instead of
blocking forever.
*/
package storage
