package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/proxywatch/pkg/api"
	"github.com/cuemby/proxywatch/pkg/client"
	"github.com/cuemby/proxywatch/pkg/events"
	"github.com/cuemby/proxywatch/pkg/log"
	"github.com/cuemby/proxywatch/pkg/metrics"
	"github.com/cuemby/proxywatch/pkg/progress"
	"github.com/cuemby/proxywatch/pkg/storage"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

// snapshotSaveInterval bounds how often a followed job's progress is written
// to the state database while messages stream in.
const snapshotSaveInterval = 5 * time.Second

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Start and follow site mirroring jobs",
}

var mirrorWatchCmd = &cobra.Command{
	Use:   "watch DOMAIN",
	Short: "Follow the progress of a mirror job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stay, _ := cmd.Flags().GetBool("stay")

		c, err := cli.client()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		return watchMirror(ctx, c, args[0], stay)
	},
}

var mirrorStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start mirroring a website into a site",
	Example: `  proxywatch mirror start --domain shop.example.com --url https://old.example.com --watch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		domain, _ := cmd.Flags().GetString("domain")
		sourceURL, _ := cmd.Flags().GetString("url")
		depth, _ := cmd.Flags().GetInt("depth")
		watch, _ := cmd.Flags().GetBool("watch")

		c, err := cli.client()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		res, err := c.StartMirror(ctx, types.MirrorRequest{
			Domain:    domain,
			SourceURL: sourceURL,
			Depth:     depth,
		})
		if err != nil {
			return fmt.Errorf("failed to start mirror: %w", err)
		}
		if !res.Success {
			return fmt.Errorf("panel refused the mirror job: %s", res.Message)
		}

		// A new run invalidates whatever was remembered about the last one
		if cli.store != nil {
			if err := cli.store.DeleteSnapshot(domain); err != nil && !errors.Is(err, storage.ErrNotFound) {
				log.Logger.Warn().Err(err).Str("domain", domain).Msg("Failed to clear saved progress")
			}
		}

		fmt.Printf("✓ Mirror job started: %s ← %s\n", domain, sourceURL)
		if res.Message != "" {
			fmt.Printf("  %s\n", res.Message)
		}
		if !watch {
			fmt.Printf("\nFollow it with: proxywatch mirror watch %s\n", domain)
			return nil
		}
		return watchMirror(ctx, c, domain, false)
	},
}

var mirrorHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List the last known progress of mirror jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cli.store == nil {
			return fmt.Errorf("no saved progress: state directory %s is unavailable", cli.cfg.StateDir)
		}
		snaps, err := cli.store.ListSnapshots()
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("No mirror jobs recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tPROGRESS\tFILES\tFAILED\tUPDATED")
		for _, s := range snaps {
			fmt.Fprintf(w, "%s\t%d%%\t%d/%d\t%d\t%s\n",
				s.JobID,
				s.OverallProgress,
				s.Stats[types.StatCompleted],
				s.Stats[types.StatTotal],
				s.Stats[types.StatFailed],
				s.UpdatedAt.Local().Format(time.DateTime),
			)
		}
		return w.Flush()
	},
}

var mirrorForgetCmd = &cobra.Command{
	Use:   "forget DOMAIN",
	Short: "Remove the saved progress of a mirror job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cli.store == nil {
			return fmt.Errorf("state directory %s is unavailable", cli.cfg.StateDir)
		}
		if err := cli.store.DeleteSnapshot(args[0]); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no saved progress for %s", args[0])
			}
			return err
		}
		fmt.Printf("✓ Forgot %s\n", args[0])
		return nil
	},
}

func init() {
	mirrorWatchCmd.Flags().Bool("stay", false, "Keep following after the job looks complete")

	mirrorStartCmd.Flags().String("domain", "", "Site to mirror into (required)")
	mirrorStartCmd.Flags().String("url", "", "Website to mirror (required)")
	mirrorStartCmd.Flags().Int("depth", 0, "Crawl depth (panel default if 0)")
	mirrorStartCmd.Flags().Bool("watch", false, "Follow progress after starting")
	_ = mirrorStartCmd.MarkFlagRequired("domain")
	_ = mirrorStartCmd.MarkFlagRequired("url")

	mirrorCmd.AddCommand(mirrorWatchCmd)
	mirrorCmd.AddCommand(mirrorStartCmd)
	mirrorCmd.AddCommand(mirrorHistoryCmd)
	mirrorCmd.AddCommand(mirrorForgetCmd)
}

func watchMirror(ctx context.Context, c *client.Client, domain string, stay bool) error {
	w := newWatcher(false)
	defer w.close()

	var seed *types.ProgressSnapshot
	if cli.store != nil {
		if snap, err := cli.store.GetSnapshot(domain); err == nil {
			seed = snap
		}
	}

	t := progress.NewTracker(cli.endpoint, progress.Options{
		MaxLogs: cli.cfg.Buffer.MaxProgressLogs,
		Status:  c,
		Seed:    seed,
		Stream:  w.streamOptions(),
	})
	source := types.Channel{Kind: types.ChannelMirror, JobID: domain}.String()
	metrics.SetCritical(source)

	complete := make(chan struct{})
	var completed bool
	saves := rate.NewLimiter(rate.Every(snapshotSaveInterval), 1)
	t.OnUpdate(func(snap types.ProgressSnapshot) {
		w.broker.Publish(events.NewProgressEvent(source, snap))
		switch {
		case snap.Complete() && !completed:
			completed = true
			saveSnapshot(snap)
			close(complete)
		case saves.Allow():
			saveSnapshot(snap)
		}
	})
	t.OnError(w.noticeHandler(source))
	t.OnStateChange(w.stateHandler(source))
	w.register(t.ID(), func() api.SessionInfo {
		snap := t.Snapshot()
		return api.SessionInfo{
			ID:       t.ID(),
			Channel:  source,
			State:    t.State(),
			Progress: &snap,
		}
	})

	defer func() {
		t.Stop()
		if snap := t.Snapshot(); snap.Updates > 0 {
			saveSnapshot(snap)
		}
	}()

	// Show the last known state until the first live message arrives
	if seed != nil {
		w.broker.Publish(events.NewProgressEvent(source, *seed))
	}

	if err := t.Start(ctx, domain); err != nil {
		if errors.Is(err, progress.ErrJobNotFound) {
			return fmt.Errorf("no mirror job for %s; start one with: proxywatch mirror start --domain %s --url URL", domain, domain)
		}
		return err
	}
	if status, ok := t.Status(); ok && status.FileCount > 0 {
		log.Logger.Debug().
			Str("domain", domain).
			Int("file_count", status.FileCount).
			Bool("mirroring", status.Mirroring).
			Msg("Mirror job status")
	}

	var finished <-chan struct{} = complete
	if stay {
		finished = nil
	}
	select {
	case <-ctx.Done():
	case <-finished:
	case source := <-w.failed:
		return fmt.Errorf("%s: connection lost, giving up", source)
	}
	return nil
}

func saveSnapshot(snap types.ProgressSnapshot) {
	if cli.store == nil {
		return
	}
	if err := cli.store.SaveSnapshot(&snap); err != nil {
		log.Logger.Warn().Err(err).Str("job_id", snap.JobID).Msg("Failed to save progress")
	}
}
