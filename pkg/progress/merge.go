package progress

import (
	"github.com/cuemby/proxywatch/pkg/buffer"
	"github.com/cuemby/proxywatch/pkg/types"
)

// Merge folds in into prev and returns the result; prev is not modified.
//
// OverallProgress never decreases, so a replayed older message cannot move
// the bar backwards. Stats, CurrentTasks, Speed and ETA are whole-state values
// and replace the previous ones when present. Logs are appended and capped at
// logCap entries, oldest first out, with LogsEvicted counting what the cap
// dropped; logCap <= 0 uses buffer.DefaultMaxItems.
func Merge(prev types.ProgressSnapshot, in Update, logCap int) types.ProgressSnapshot {
	out := prev.Clone()

	if in.OverallProgress != nil && *in.OverallProgress > out.OverallProgress {
		out.OverallProgress = *in.OverallProgress
	}

	if in.Stats != nil {
		out.Stats = make(map[string]int64, len(in.Stats))
		for k, v := range in.Stats {
			out.Stats[k] = v
		}
	}

	if in.CurrentTasks != nil {
		out.CurrentTasks = append(make([]types.Task, 0, len(in.CurrentTasks)), in.CurrentTasks...)
	}

	if in.Speed != nil {
		v := *in.Speed
		out.Speed = &v
	}
	if in.ETASeconds != nil {
		v := *in.ETASeconds
		out.ETASeconds = &v
	}

	if len(in.Logs) > 0 {
		all := append(out.Logs, in.Logs...)
		out.Logs = buffer.Capped(all, logCap)
		out.LogsEvicted += len(all) - len(out.Logs)
	}

	out.Updates++
	return out
}
