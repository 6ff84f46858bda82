package progress

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cuemby/proxywatch/pkg/types"
)

// Update is one parsed progress message. Nil fields were absent from the
// message and leave the merged snapshot unchanged; Stats and CurrentTasks are
// non-nil (possibly empty) whenever the message carried them.
type Update struct {
	OverallProgress *int
	Stats           map[string]int64
	CurrentTasks    []types.Task
	Speed           *float64
	ETASeconds      *float64
	Logs            []types.ProgressLogEntry
}

// MalformedMessageError reports a progress message that could not be parsed
type MalformedMessageError struct {
	Field string // empty when the payload as a whole is unusable
	Err   error
}

func (e *MalformedMessageError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed progress message: %v", e.Err)
	}
	return fmt.Sprintf("malformed progress message: field %q: %v", e.Field, e.Err)
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// Accepted spellings per field. The panel sends snake_case; camelCase is
// accepted for clients that re-serialize the snapshot.
var (
	keysOverall = []string{"overall_progress", "overallProgress"}
	keysStats   = []string{"stats"}
	keysTasks   = []string{"current_tasks", "currentTasks"}
	keysSpeed   = []string{"speed"}
	keysETA     = []string{"eta", "eta_seconds", "etaSeconds"}
	keysLogs    = []string{"logs"}
)

type wireTask struct {
	URL            string   `json:"url"`
	Status         string   `json:"status"`
	Progress       float64  `json:"progress"`
	Downloaded     float64  `json:"downloaded"`
	Size           *float64 `json:"size"`
	TotalSize      *float64 `json:"total_size"`
	TotalSizeCamel *float64 `json:"totalSize"`
	Error          string   `json:"error"`
	Retries        int      `json:"retries"`
}

func (w wireTask) task() types.Task {
	t := types.Task{
		URL:        w.URL,
		Status:     w.Status,
		Progress:   clampPercent(w.Progress),
		Downloaded: int64(w.Downloaded),
		Error:      w.Error,
		Retries:    w.Retries,
	}
	for _, size := range []*float64{w.Size, w.TotalSize, w.TotalSizeCamel} {
		if size != nil {
			t.TotalSize = int64(*size)
			break
		}
	}
	return t
}

// ParseUpdate decodes a progress message. Any field may be absent. Payloads
// that are not JSON objects, fields of the wrong type and tasks without a URL
// yield a *MalformedMessageError.
func ParseUpdate(data []byte) (Update, error) {
	var upd Update

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return upd, &MalformedMessageError{Err: err}
	}
	if raw == nil {
		return upd, &MalformedMessageError{Err: fmt.Errorf("payload is null")}
	}

	if key, v, ok := lookup(raw, keysOverall); ok {
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return upd, &MalformedMessageError{Field: key, Err: err}
		}
		p := clampPercent(f)
		upd.OverallProgress = &p
	}

	if key, v, ok := lookup(raw, keysStats); ok {
		var stats map[string]float64
		if err := json.Unmarshal(v, &stats); err != nil {
			return upd, &MalformedMessageError{Field: key, Err: err}
		}
		upd.Stats = make(map[string]int64, len(stats))
		for k, n := range stats {
			upd.Stats[k] = int64(n)
		}
	}

	if key, v, ok := lookup(raw, keysTasks); ok {
		var wire []wireTask
		if err := json.Unmarshal(v, &wire); err != nil {
			return upd, &MalformedMessageError{Field: key, Err: err}
		}
		tasks, err := dedupeTasks(wire)
		if err != nil {
			return upd, &MalformedMessageError{Field: key, Err: err}
		}
		upd.CurrentTasks = tasks
	}

	if key, v, ok := lookup(raw, keysSpeed); ok {
		f, err := optionalFloat(v)
		if err != nil {
			return upd, &MalformedMessageError{Field: key, Err: err}
		}
		upd.Speed = f
	}

	if key, v, ok := lookup(raw, keysETA); ok {
		f, err := optionalFloat(v)
		if err != nil {
			return upd, &MalformedMessageError{Field: key, Err: err}
		}
		upd.ETASeconds = f
	}

	if key, v, ok := lookup(raw, keysLogs); ok {
		logs, err := parseLogs(v)
		if err != nil {
			return upd, &MalformedMessageError{Field: key, Err: err}
		}
		upd.Logs = logs
	}

	return upd, nil
}

// lookup returns the first key present with a non-null value
func lookup(raw map[string]json.RawMessage, keys []string) (string, json.RawMessage, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			continue
		}
		return k, v, true
	}
	return "", nil, false
}

func optionalFloat(v json.RawMessage) (*float64, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// dedupeTasks keys tasks by URL; a later entry for the same URL replaces the
// earlier one in place.
func dedupeTasks(wire []wireTask) ([]types.Task, error) {
	tasks := make([]types.Task, 0, len(wire))
	index := make(map[string]int, len(wire))
	for i, w := range wire {
		if w.URL == "" {
			return nil, fmt.Errorf("task %d has no url", i)
		}
		if j, ok := index[w.URL]; ok {
			tasks[j] = w.task()
			continue
		}
		index[w.URL] = len(tasks)
		tasks = append(tasks, w.task())
	}
	return tasks, nil
}

// parseLogs accepts entry objects as well as bare message strings
func parseLogs(v json.RawMessage) ([]types.ProgressLogEntry, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil, err
	}
	logs := make([]types.ProgressLogEntry, 0, len(items))
	for i, item := range items {
		var msg string
		if err := json.Unmarshal(item, &msg); err == nil {
			logs = append(logs, types.ProgressLogEntry{Message: msg})
			continue
		}
		var entry types.ProgressLogEntry
		if err := json.Unmarshal(item, &entry); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func clampPercent(f float64) int {
	switch {
	case f < 0:
		return 0
	case f > 100:
		return 100
	default:
		return int(f)
	}
}
