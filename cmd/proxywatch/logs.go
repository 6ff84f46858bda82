package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/proxywatch/pkg/api"
	"github.com/cuemby/proxywatch/pkg/client"
	"github.com/cuemby/proxywatch/pkg/events"
	"github.com/cuemby/proxywatch/pkg/log"
	"github.com/cuemby/proxywatch/pkg/logtail"
	"github.com/cuemby/proxywatch/pkg/metrics"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Tail the proxy access or error log",
	Long: `Show the most recent lines of an nginx log and keep following it.

Repeat --domain to follow several sites at once; each gets its own
connection and its lines are prefixed with the channel name.`,
	Example: `  proxywatch logs
  proxywatch logs --type error --domain shop.example.com
  proxywatch logs --domain a.example.com --domain b.example.com --lines 20`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().StringP("type", "t", "", "Log type: access or error (default: last used, or access)")
	logsCmd.Flags().StringSliceP("domain", "d", nil, "Only show lines for this site (repeatable)")
	logsCmd.Flags().IntP("lines", "n", 0, "Recent lines to show before following (default from config)")
	logsCmd.Flags().Bool("no-follow", false, "Print the recent lines and exit")
	logsCmd.Flags().Bool("paused", false, "Start with output paused; press Enter to resume")
}

func runLogs(cmd *cobra.Command, args []string) error {
	logType, _ := cmd.Flags().GetString("type")
	domains, _ := cmd.Flags().GetStringSlice("domain")
	lines, _ := cmd.Flags().GetInt("lines")
	noFollow, _ := cmd.Flags().GetBool("no-follow")
	paused, _ := cmd.Flags().GetBool("paused")

	if logType == "" {
		logType = cli.prefs.LastLogType
	}
	if logType == "" {
		logType = "access"
	}
	if logType != "access" && logType != "error" {
		return fmt.Errorf("--type must be access or error, got %q", logType)
	}
	if !cmd.Flags().Changed("domain") && cli.prefs.LastDomain != "" {
		domains = []string{cli.prefs.LastDomain}
	}
	if len(domains) == 0 {
		domains = []string{""}
	}
	if !cmd.Flags().Changed("lines") {
		lines = cli.cfg.Buffer.InitialLines
	}

	c, err := cli.client()
	if err != nil {
		return err
	}

	cli.savePrefs(func(p *types.Preferences) {
		p.LastLogType = logType
		if len(domains) == 1 {
			p.LastDomain = domains[0]
		}
	})

	ctx, cancel := signalContext()
	defer cancel()

	if noFollow {
		return printRecent(ctx, c, logType, domains, lines)
	}
	return followLogs(ctx, c, logType, domains, lines, !paused)
}

func printRecent(ctx context.Context, c *client.Client, logType string, domains []string, n int) error {
	for _, domain := range domains {
		got, err := c.FetchLogs(ctx, logType, domain, n)
		if err != nil {
			return fmt.Errorf("failed to fetch %s log: %w", logType, err)
		}
		for _, l := range got {
			if len(domains) > 1 {
				fmt.Printf("[%s] %s\n", domain, l)
				continue
			}
			fmt.Println(l)
		}
	}
	return nil
}

func followLogs(ctx context.Context, c *client.Client, logType string, domains []string, n int, autoScroll bool) error {
	w := newWatcher(len(domains) > 1)
	defer w.close()

	var sessions []*logtail.Session
	defer func() {
		for _, s := range sessions {
			s.Stop()
		}
	}()

	for _, domain := range domains {
		s := logtail.NewSession(c, cli.endpoint, logtail.Options{
			MaxLines:   cli.cfg.Buffer.MaxLines,
			AutoScroll: autoScroll,
			Stream:     w.streamOptions(),
		})
		source := types.Channel{Kind: types.ChannelLogs, LogType: logType, Domain: domain}.String()
		metrics.SetCritical(source)

		s.OnUpdate(func(snap types.LogSnapshot) {
			w.broker.Publish(events.NewLogsEvent(source, snap))
		})
		s.OnError(w.noticeHandler(source))
		s.OnStateChange(w.stateHandler(source))
		w.register(s.ID(), func() api.SessionInfo {
			snap := s.Snapshot()
			return api.SessionInfo{
				ID:      s.ID(),
				Channel: source,
				State:   s.State(),
				Logs:    &snap,
			}
		})

		// A failed prefetch arrives as a notice; the tail goes live anyway
		sessions = append(sessions, s)
		if err := s.Start(ctx, logType, domain, n); err != nil {
			return err
		}
	}

	log.Logger.Debug().
		Str("log_type", logType).
		Strs("domains", domains).
		Msg("Following logs")

	go toggleOnEnter(ctx, w, sessions)

	select {
	case <-ctx.Done():
		return nil
	case source := <-w.failed:
		return fmt.Errorf("%s: connection lost, giving up", source)
	}
}

// toggleOnEnter pauses or resumes output each time the operator presses
// Enter. A fresh snapshot is published so the renderer reacts at once.
func toggleOnEnter(ctx context.Context, w *watcher, sessions []*logtail.Session) {
	buf := make([]byte, 64)
	for {
		if _, err := os.Stdin.Read(buf); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
		for _, s := range sessions {
			s.SetAutoScroll(!s.AutoScroll())
			snap := s.Snapshot()
			source := types.Channel{Kind: types.ChannelLogs, LogType: snap.LogType, Domain: snap.Domain}.String()
			w.broker.Publish(events.NewLogsEvent(source, snap))
		}
	}
}
