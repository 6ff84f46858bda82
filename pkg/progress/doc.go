// Package progress tracks mirror jobs from the partial JSON snapshots the
// panel pushes on a job's progress channel.
//
// ParseUpdate is the only place raw messages are decoded. Merge is a pure
// function folding an Update into the previous snapshot: the overall percent
// only moves forward, stats and the current task list are replaced whenever a
// message carries them, and log entries accumulate under a cap. Tracker ties
// both to a stream.Conn and hands every merged snapshot to OnUpdate handlers.
//
// The panel never sends a terminal message; use ProgressSnapshot.Complete.
package progress
