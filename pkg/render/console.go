package render

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/proxywatch/pkg/events"
	"github.com/cuemby/proxywatch/pkg/health"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/fatih/color"
)

var (
	errorLevelRe = regexp.MustCompile(`\[(emerg|alert|crit|error)\]|\bERROR\b`)
	warnLevelRe  = regexp.MustCompile(`\[warn\]|\bWARN(ING)?\b`)
	accessCodeRe = regexp.MustCompile(`" ([1-5]\d\d) `)
)

type palette struct {
	err, warn, ok, info, dim, source *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		err:    color.New(color.FgRed),
		warn:   color.New(color.FgYellow),
		ok:     color.New(color.FgGreen),
		info:   color.New(color.FgCyan),
		dim:    color.New(color.Faint),
		source: color.New(color.FgMagenta),
	}
	if noColor {
		for _, c := range []*color.Color{p.err, p.warn, p.ok, p.info, p.dim, p.source} {
			c.DisableColor()
		}
	}
	return p
}

// Options configures a Console
type Options struct {
	// NoColor disables ANSI colours regardless of the terminal
	NoColor bool

	// ShowSource prefixes every line with its channel name, for output that
	// interleaves several sessions.
	ShowSource bool
}

// Console prints session events as a scrolling terminal log
type Console struct {
	out  io.Writer
	opts Options
	p    palette

	mu       sync.Mutex
	logs     map[string]*logView
	progress map[string]*progressView
}

type logView struct {
	printed int // absolute index of the next line to print
	paused  bool
}

type progressView struct {
	lastPercent int
	printedLogs int // absolute index of the next log entry to print
	complete    bool
}

// NewConsole creates a console renderer writing to out
func NewConsole(out io.Writer, opts Options) *Console {
	return &Console{
		out:      out,
		opts:     opts,
		p:        newPalette(opts.NoColor),
		logs:     make(map[string]*logView),
		progress: make(map[string]*progressView),
	}
}

// Run renders events from sub until ctx is done or sub is closed
func (c *Console) Run(ctx context.Context, sub events.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			c.Handle(ev)
		}
	}
}

// Handle renders one event
func (c *Console) Handle(ev *events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case events.EventLogsUpdated:
		if snap, ok := ev.Payload.(types.LogSnapshot); ok {
			c.renderLogs(ev.Source, snap)
		}
	case events.EventProgressUpdated:
		if snap, ok := ev.Payload.(types.ProgressSnapshot); ok {
			c.renderProgress(ev.Source, snap)
		}
	case events.EventStateChanged:
		if change, ok := ev.Payload.(types.StateChange); ok {
			c.renderState(ev.Source, change)
		}
	case events.EventNotice:
		c.line(ev.Source, c.p.warn.Sprint("! "+ev.Message))
	case events.EventPanelHealth:
		if res, ok := ev.Payload.(health.Result); ok {
			c.renderHealth(ev.Source, res)
		}
	}
}

func (c *Console) renderLogs(source string, snap types.LogSnapshot) {
	v, ok := c.logs[source]
	if !ok {
		v = &logView{printed: snap.Evicted}
		c.logs[source] = v
	}

	total := snap.Evicted + len(snap.Lines)
	if total < v.printed {
		// Buffer was reset; start over
		v.printed = snap.Evicted
	}

	if !snap.AutoScroll {
		if !v.paused {
			c.line(source, c.p.dim.Sprint("-- paused --"))
		}
		v.paused = true
		return
	}
	if v.paused {
		c.line(source, c.p.dim.Sprint("-- resumed --"))
		v.paused = false
	}

	if v.printed < snap.Evicted {
		c.line(source, c.p.dim.Sprintf("-- %d lines skipped --", snap.Evicted-v.printed))
		v.printed = snap.Evicted
	}

	for _, l := range snap.Lines[v.printed-snap.Evicted:] {
		c.line(source, c.colorLine(l))
	}
	v.printed = total
}

func (c *Console) colorLine(l string) string {
	switch {
	case errorLevelRe.MatchString(l):
		return c.p.err.Sprint(l)
	case warnLevelRe.MatchString(l):
		return c.p.warn.Sprint(l)
	}
	if m := accessCodeRe.FindStringSubmatch(l); m != nil {
		switch m[1][0] {
		case '5':
			return c.p.err.Sprint(l)
		case '4':
			return c.p.warn.Sprint(l)
		}
	}
	return l
}

func (c *Console) renderProgress(source string, snap types.ProgressSnapshot) {
	v, ok := c.progress[source]
	if !ok {
		v = &progressView{lastPercent: -1, printedLogs: snap.LogsEvicted}
		c.progress[source] = v
	}

	total := snap.LogsEvicted + len(snap.Logs)
	if total < v.printedLogs {
		v.printedLogs = snap.LogsEvicted
	}
	if v.printedLogs < snap.LogsEvicted {
		c.line(source, c.p.dim.Sprintf("-- %d log entries skipped --", snap.LogsEvicted-v.printedLogs))
		v.printedLogs = snap.LogsEvicted
	}

	for _, entry := range snap.Logs[v.printedLogs-snap.LogsEvicted:] {
		msg := entry.Message
		if entry.Time != "" {
			msg = entry.Time + " " + msg
		}
		switch strings.ToLower(entry.Level) {
		case "error":
			msg = c.p.err.Sprint(msg)
		case "warning", "warn":
			msg = c.p.warn.Sprint(msg)
		}
		c.line(source, msg)
	}
	v.printedLogs = total

	if snap.OverallProgress != v.lastPercent {
		c.line(source, c.progressLine(snap))
		v.lastPercent = snap.OverallProgress
	}

	if snap.Complete() && !v.complete {
		v.complete = true
		c.line(source, c.p.ok.Sprintf("✓ Mirror complete: %d files", snap.Stats[types.StatCompleted]))
	}
}

// ProgressBar renders percent as a fixed-width bar
func ProgressBar(percent, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func (c *Console) progressLine(snap types.ProgressSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %3d%%", ProgressBar(snap.OverallProgress, 20), snap.OverallProgress)

	if total, ok := snap.Stats[types.StatTotal]; ok {
		fmt.Fprintf(&b, "  %d/%d files", snap.Stats[types.StatCompleted], total)
		if failed := snap.Stats[types.StatFailed]; failed > 0 {
			b.WriteString(c.p.err.Sprintf("  %d failed", failed))
		}
	}
	if snap.Speed != nil {
		fmt.Fprintf(&b, "  %s/s", FormatBytes(int64(*snap.Speed)))
	}
	if snap.ETASeconds != nil {
		fmt.Fprintf(&b, "  ETA %s", (time.Duration(*snap.ETASeconds) * time.Second).String())
	}
	return c.p.info.Sprint(b.String())
}

func (c *Console) renderState(source string, change types.StateChange) {
	switch change.To {
	case types.StateOpen:
		c.line(source, c.p.ok.Sprint("● connected"))
	case types.StateReconnecting:
		c.line(source, c.p.warn.Sprintf("○ reconnecting in %s (attempt %d)", change.Delay, change.Attempt))
	case types.StateClosed:
		if change.Err != nil {
			c.line(source, c.p.warn.Sprintf("○ disconnected: %v", change.Err))
		}
	case types.StateFailed:
		c.line(source, c.p.err.Sprintf("✗ giving up after %d attempts, restart the command to retry", change.Attempt))
	}
}

func (c *Console) renderHealth(source string, res health.Result) {
	if res.Healthy {
		c.line(source, c.p.ok.Sprintf("✓ %s (%s)", res.Message, res.Duration.Round(time.Millisecond)))
		return
	}
	c.line(source, c.p.err.Sprintf("✗ %s", res.Message))
}

func (c *Console) line(source, text string) {
	if c.opts.ShowSource && source != "" {
		fmt.Fprintf(c.out, "%s %s\n", c.p.source.Sprintf("[%s]", source), text)
		return
	}
	fmt.Fprintln(c.out, text)
}

// FormatBytes renders n with a binary unit suffix
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
