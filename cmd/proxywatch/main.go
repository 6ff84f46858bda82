package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/proxywatch/pkg/client"
	"github.com/cuemby/proxywatch/pkg/config"
	"github.com/cuemby/proxywatch/pkg/log"
	"github.com/cuemby/proxywatch/pkg/metrics"
	"github.com/cuemby/proxywatch/pkg/storage"
	"github.com/cuemby/proxywatch/pkg/stream"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// app holds what every command needs once flags are parsed
type app struct {
	cfg      *config.Config
	store    storage.Store
	prefs    *types.Preferences
	output   string
	noColor  bool
	endpoint stream.Endpoint
}

var cli app

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "proxywatch",
	Short: "proxywatch - live logs and mirror progress for the proxy control panel",
	Long: `proxywatch is the command line companion of the nginx control panel.

It tails the proxy's access and error logs, follows site mirroring jobs as
they run, and wraps the panel's operations (status, config test, reload).
Live views reconnect on their own when the panel restarts.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if cli.store != nil {
			_ = cli.store.Close()
		}
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"proxywatch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.String("config", config.DefaultPath(), "Config file")
	flags.String("api-url", "", "Panel API URL (e.g. http://panel:8000/api/v1)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("json-logs", false, "Write diagnostic logs as JSON")
	flags.String("metrics-addr", "", "Serve metrics, health and sessions on this address (e.g. :9091)")
	flags.String("state-dir", "", "Directory for the preference database")
	flags.StringP("output", "o", "text", "Output format (text, json)")
	flags.Bool("no-color", false, "Disable colored output")

	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(mirrorCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(sitesCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(configCmd)
}

// setup loads the configuration, applies flag overrides, initializes
// logging and opens the preference store.
func setup(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("json-logs") {
		cfg.JSONLogs, _ = flags.GetBool("json-logs")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("state-dir") {
		cfg.StateDir, _ = flags.GetString("state-dir")
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.LogLevel),
		JSONOutput: cfg.JSONLogs,
	})
	metrics.SetVersion(Version)

	cli.cfg = cfg
	cli.output, _ = flags.GetString("output")
	cli.noColor, _ = flags.GetBool("no-color")
	cli.prefs = &types.Preferences{AutoScroll: true}

	store, err := storage.NewBoltStore(cfg.StateDir)
	if err != nil {
		log.Logger.Warn().Err(err).Msg("Preferences unavailable, continuing without them")
	} else {
		cli.store = store
		if prefs, err := store.GetPreferences(); err == nil && !prefs.UpdatedAt.IsZero() {
			cli.prefs = prefs
		}
	}

	// Precedence: flag, config file, saved preference, built-in default
	switch {
	case flags.Changed("api-url"):
		cfg.APIURL, _ = flags.GetString("api-url")
	case cfg.APIURL == config.DefaultAPIURL && cli.prefs.APIURL != "":
		cfg.APIURL = cli.prefs.APIURL
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cli.output != "text" && cli.output != "json" {
		return fmt.Errorf("--output must be text or json")
	}

	cli.endpoint, err = stream.ParseEndpoint(cfg.APIURL)
	return err
}

func (a *app) client() (*client.Client, error) {
	return client.NewClient(a.cfg.APIURL, client.WithUserAgent("proxywatch/"+Version))
}

func (a *app) savePrefs(update func(*types.Preferences)) {
	if a.store == nil {
		return
	}
	update(a.prefs)
	if err := a.store.SavePreferences(a.prefs); err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to save preferences")
	}
}

// signalContext returns a context cancelled on Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
