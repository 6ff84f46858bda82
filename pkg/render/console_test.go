package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/proxywatch/pkg/events"
	"github.com/cuemby/proxywatch/pkg/health"
	"github.com/cuemby/proxywatch/pkg/progress"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsole(showSource bool) (*Console, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewConsole(&buf, Options{NoColor: true, ShowSource: showSource}), &buf
}

func outputLines(buf *bytes.Buffer) []string {
	s := strings.TrimRight(buf.String(), "\n")
	buf.Reset()
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func logsEvent(evicted int, autoScroll bool, lines ...string) *events.Event {
	return events.NewLogsEvent("logs/error", types.LogSnapshot{LogType: "error", Lines: lines, Evicted: evicted, AutoScroll: autoScroll})
}

func TestConsolePrintsOnlyNewLogLines(t *testing.T) {
	c, buf := newTestConsole(false)

	c.Handle(logsEvent(0, true, "a", "b"))
	assert.Equal(t, []string{"a", "b"}, outputLines(buf))

	c.Handle(logsEvent(0, true, "a", "b", "c"))
	assert.Equal(t, []string{"c"}, outputLines(buf))

	// Buffer capped at 3: "a" evicted
	c.Handle(logsEvent(1, true, "b", "c", "d"))
	assert.Equal(t, []string{"d"}, outputLines(buf))
}

func TestConsoleReportsSkippedLines(t *testing.T) {
	c, buf := newTestConsole(false)

	c.Handle(logsEvent(0, true, "a"))
	outputLines(buf)

	// Two snapshots were dropped before this one
	c.Handle(logsEvent(3, true, "d", "e"))
	assert.Equal(t, []string{"-- 2 lines skipped --", "d", "e"}, outputLines(buf))
}

func TestConsolePausesWithoutAutoScroll(t *testing.T) {
	c, buf := newTestConsole(false)

	c.Handle(logsEvent(0, true, "a"))
	outputLines(buf)

	c.Handle(logsEvent(0, false, "a", "b"))
	c.Handle(logsEvent(0, false, "a", "b", "c"))
	assert.Equal(t, []string{"-- paused --"}, outputLines(buf))

	c.Handle(logsEvent(0, true, "a", "b", "c"))
	assert.Equal(t, []string{"-- resumed --", "b", "c"}, outputLines(buf))
}

func TestConsoleProgress(t *testing.T) {
	c, buf := newTestConsole(true)
	speed := 2048.0
	eta := 90.0

	snap := types.ProgressSnapshot{
		JobID:           "shop.example.com",
		OverallProgress: 50,
		Stats:           map[string]int64{"total": 4, "completed": 2, "failed": 1},
		Speed:           &speed,
		ETASeconds:      &eta,
		Logs:            []types.ProgressLogEntry{{Time: "12:00:00", Level: "info", Message: "saved index.html"}},
	}
	c.Handle(events.NewProgressEvent("mirror/shop.example.com", snap))
	assert.Equal(t, []string{
		"[mirror/shop.example.com] 12:00:00 saved index.html",
		"[mirror/shop.example.com] [##########..........]  50%  2/4 files  1 failed  2.0 KiB/s  ETA 1m30s",
	}, outputLines(buf))

	// Same percent, no new log: nothing to print
	c.Handle(events.NewProgressEvent("mirror/shop.example.com", snap))
	assert.Empty(t, outputLines(buf))

	snap.OverallProgress = 100
	snap.Stats = map[string]int64{"total": 4, "completed": 4}
	snap.Speed, snap.ETASeconds = nil, nil
	snap.Logs = append(snap.Logs, types.ProgressLogEntry{Message: "done"})
	c.Handle(events.NewProgressEvent("mirror/shop.example.com", snap))
	assert.Equal(t, []string{
		"[mirror/shop.example.com] done",
		"[mirror/shop.example.com] [####################] 100%  4/4 files",
		"[mirror/shop.example.com] ✓ Mirror complete: 4 files",
	}, outputLines(buf))
}

func TestConsoleProgressLogsByPosition(t *testing.T) {
	c, buf := newTestConsole(false)
	snap := types.ProgressSnapshot{JobID: "shop.example.com"}
	merge := func(msg string) {
		u, err := progress.ParseUpdate([]byte(msg))
		require.NoError(t, err)
		snap = progress.Merge(snap, u, 2)
		c.Handle(events.NewProgressEvent("mirror/shop.example.com", snap))
	}

	merge(`{"overall_progress": 10, "logs": ["retrying a.css"]}`)
	out := outputLines(buf)
	require.NotEmpty(t, out)
	assert.Equal(t, "retrying a.css", out[0])

	// An entry equal to the previous one is still new
	merge(`{"overall_progress": 10, "logs": ["retrying a.css"]}`)
	assert.Equal(t, []string{"retrying a.css"}, outputLines(buf))

	// Entries evicted before they were shown are counted, the rest printed once
	merge(`{"overall_progress": 10, "logs": ["b", "c", "d"]}`)
	assert.Equal(t, []string{"-- 1 log entries skipped --", "c", "d"}, outputLines(buf))
	assert.Equal(t, 3, snap.LogsEvicted)
}

func TestConsoleStateAndNotices(t *testing.T) {
	c, buf := newTestConsole(false)

	c.Handle(events.NewStateEvent("logs/error", types.StateChange{To: types.StateConnecting}))
	c.Handle(events.NewStateEvent("logs/error", types.StateChange{To: types.StateOpen}))
	c.Handle(events.NewStateEvent("logs/error", types.StateChange{To: types.StateClosed, Err: errors.New("EOF")}))
	c.Handle(events.NewStateEvent("logs/error", types.StateChange{To: types.StateReconnecting, Attempt: 1, Delay: time.Second}))
	c.Handle(events.NewStateEvent("logs/error", types.StateChange{To: types.StateFailed, Attempt: 5}))
	c.Handle(events.NewNoticeEvent("logs/error", errors.New("prefetch error logs: timeout")))
	c.Handle(&events.Event{Type: events.EventPanelHealth, Payload: health.Result{Healthy: false, Message: "HTTP 502 Bad Gateway"}})

	assert.Equal(t, []string{
		"● connected",
		"○ disconnected: EOF",
		"○ reconnecting in 1s (attempt 1)",
		"✗ giving up after 5 attempts, restart the command to retry",
		"! prefetch error logs: timeout",
		"✗ HTTP 502 Bad Gateway",
	}, outputLines(buf))
}

func TestColorLineClassification(t *testing.T) {
	c := NewConsole(&bytes.Buffer{}, Options{})
	p := newPalette(false)
	p.err.EnableColor()
	p.warn.EnableColor()
	c.p = p

	tests := []struct {
		line string
		want string
	}{
		{line: `2024/01/01 00:00:00 [error] 123#0: open() failed`, want: "err"},
		{line: `2024/01/01 00:00:00 [warn] 123#0: conflicting server name`, want: "warn"},
		{line: `2024-01-01 ERROR boom`, want: "err"},
		{line: `1.2.3.4 - - [01/Jan/2024] "GET / HTTP/1.1" 502 157 "-" "curl"`, want: "err"},
		{line: `1.2.3.4 - - [01/Jan/2024] "GET /x HTTP/1.1" 404 0 "-" "curl"`, want: "warn"},
		{line: `1.2.3.4 - - [01/Jan/2024] "GET / HTTP/1.1" 200 612 "-" "curl"`, want: "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.want+" "+tt.line[:10], func(t *testing.T) {
			want := map[string]string{
				"err":   p.err.Sprint(tt.line),
				"warn":  p.warn.Sprint(tt.line),
				"plain": tt.line,
			}[tt.want]
			assert.Equal(t, want, c.colorLine(tt.line))
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.n))
	}
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	j := NewJSONLines(&buf)

	ev := events.NewLogsEvent("logs/access", types.LogSnapshot{LogType: "access", Lines: []string{"x"}})
	ev.ID = "id-1"
	require.NoError(t, j.Handle(ev))
	require.NoError(t, j.Handle(events.NewNoticeEvent("logs/access", errors.New("bad frame"))))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "id-1", first["id"])
	assert.Equal(t, "logs.update", first["type"])
	assert.Equal(t, []interface{}{"x"}, first["payload"].(map[string]interface{})["Lines"])

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "bad frame", second["message"])
	assert.NotContains(t, second, "payload")
}
