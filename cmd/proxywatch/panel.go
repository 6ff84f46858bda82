package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cuemby/proxywatch/pkg/events"
	"github.com/cuemby/proxywatch/pkg/health"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether nginx is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cli.client()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		st, err := c.NginxStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to get nginx status: %w", err)
		}
		if cli.output == "json" {
			return printJSON(st)
		}

		if st.Running {
			fmt.Println("✓ nginx is running")
		} else {
			fmt.Println("✗ nginx is not running")
		}
		if st.Version != "" {
			fmt.Printf("  Version: %s\n", st.Version)
		}
		if st.ConfigTest != "" {
			fmt.Printf("  Config test: %s\n", st.ConfigTest)
		}
		if n := len(st.Processes); n > 0 {
			fmt.Printf("  Processes: %d\n", n)
		}
		keys := make([]string, 0, len(st.Resources))
		for k := range st.Resources {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s: %v\n", k, st.Resources[k])
		}
		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test the nginx configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction("Configuration test", func(c actionClient) (*types.ActionResult, error) {
			return c.TestConfig(cmd.Context())
		})
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload nginx",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction("Reload", func(c actionClient) (*types.ActionResult, error) {
			return c.ReloadConfig(cmd.Context())
		})
	},
}

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List the sites configured on the panel",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cli.client()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		sites, err := c.ListSites(ctx)
		if err != nil {
			return fmt.Errorf("failed to list sites: %w", err)
		}
		if cli.output == "json" {
			return printJSON(sites)
		}
		if len(sites) == 0 {
			fmt.Println("No sites configured")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tSSL\tPORT\tTARGET")
		for _, s := range sites {
			target := s.RootPath
			if s.ProxyPort > 0 {
				target = fmt.Sprintf("proxy :%d", s.ProxyPort)
			}
			port := "-"
			if s.Port > 0 {
				port = fmt.Sprint(s.Port)
			}
			fmt.Fprintf(w, "%s\t%v\t%s\t%s\n", s.Domain, s.SSL, port, target)
		}
		return w.Flush()
	},
}

var siteCreateCmd = &cobra.Command{
	Use:   "create <domain>",
	Short: "Deploy a new site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := types.DeployRequest{Domain: args[0]}
		req.EnableSSL, _ = cmd.Flags().GetBool("ssl")
		req.SSLEmail, _ = cmd.Flags().GetString("email")
		req.ProxyPort, _ = cmd.Flags().GetInt("proxy-port")
		if configFile, _ := cmd.Flags().GetString("custom-config"); configFile != "" {
			data, err := os.ReadFile(configFile)
			if err != nil {
				return fmt.Errorf("failed to read custom config: %w", err)
			}
			req.CustomConfig = string(data)
		}
		if req.EnableSSL && req.SSLEmail == "" {
			return fmt.Errorf("--email is required with --ssl")
		}

		return runAction("Deploy of "+req.Domain, func(c actionClient) (*types.ActionResult, error) {
			return c.DeploySite(cmd.Context(), req)
		})
	},
}

var siteRemoveCmd = &cobra.Command{
	Use:   "remove <domain>",
	Short: "Remove a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		domain := args[0]
		configOnly, _ := cmd.Flags().GetBool("config-only")
		return runAction("Removal of "+domain, func(c actionClient) (*types.ActionResult, error) {
			if configOnly {
				return c.DeleteNginxSite(cmd.Context(), domain)
			}
			return c.RemoveSite(cmd.Context(), domain)
		})
	},
}

var siteStatusCmd = &cobra.Command{
	Use:   "status <domain>",
	Short: "Show the deployment state of a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cli.client()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		st, err := c.SiteStatus(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get site status: %w", err)
		}
		if cli.output == "json" {
			return printJSON(st)
		}

		fmt.Printf("Site: %s\n", st.Domain)
		fmt.Printf("  Status: %s\n", st.Status)
		fmt.Printf("  SSL: %v\n", st.SSL)
		if st.Message != "" {
			fmt.Printf("  %s\n", st.Message)
		}
		keys := make([]string, 0, len(st.Details))
		for k := range st.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s: %v\n", k, st.Details[k])
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the panel is reachable and healthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")

		cfg := health.Config{
			Interval: cli.cfg.Health.Interval,
			Timeout:  cli.cfg.Health.Timeout,
			Retries:  cli.cfg.Health.Retries,
		}
		checker := health.NewPanelChecker(cli.cfg.APIURL)
		if cfg.Timeout > 0 {
			checker.WithTimeout(cfg.Timeout)
		}
		monitor := health.NewMonitor("panel", checker, cfg)

		ctx, cancel := signalContext()
		defer cancel()

		if !watch {
			res := monitor.CheckOnce(ctx)
			if cli.output == "json" {
				if err := printJSON(res); err != nil {
					return err
				}
			} else if res.Healthy {
				fmt.Printf("✓ %s (%s)\n", res.Message, res.Duration.Round(time.Millisecond))
			} else {
				fmt.Printf("✗ %s\n", res.Message)
			}
			if !res.Healthy {
				return fmt.Errorf("panel at %s is unhealthy", cli.cfg.APIURL)
			}
			return nil
		}

		w := newWatcher(false)
		defer w.close()

		monitor.OnResult(func(res health.Result) {
			w.broker.Publish(&events.Event{
				Type:    events.EventPanelHealth,
				Source:  "panel",
				Message: res.Message,
				Payload: res,
			})
		})
		monitor.Run(ctx)
		return nil
	},
}

func init() {
	healthCmd.Flags().Bool("watch", false, "Keep probing every health.interval")

	siteCreateCmd.Flags().Bool("ssl", false, "Request a certificate for the site")
	siteCreateCmd.Flags().String("email", "", "Contact email for the certificate")
	siteCreateCmd.Flags().Int("proxy-port", 9099, "Port the site proxies to")
	siteCreateCmd.Flags().String("custom-config", "", "File with extra nginx directives")
	siteRemoveCmd.Flags().Bool("config-only", false, "Only delete the nginx configuration, keep the content")
	sitesCmd.AddCommand(siteCreateCmd, siteRemoveCmd, siteStatusCmd)
}

// actionClient is the part of the panel client the action commands use
type actionClient interface {
	TestConfig(ctx context.Context) (*types.ActionResult, error)
	ReloadConfig(ctx context.Context) (*types.ActionResult, error)
	DeploySite(ctx context.Context, req types.DeployRequest) (*types.ActionResult, error)
	RemoveSite(ctx context.Context, domain string) (*types.ActionResult, error)
	DeleteNginxSite(ctx context.Context, domain string) (*types.ActionResult, error)
}

func runAction(name string, call func(actionClient) (*types.ActionResult, error)) error {
	c, err := cli.client()
	if err != nil {
		return err
	}
	res, err := call(c)
	if err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	if cli.output == "json" {
		return printJSON(res)
	}
	if !res.Success {
		fmt.Printf("✗ %s failed\n", name)
		if res.Message != "" {
			fmt.Println(res.Message)
		}
		return fmt.Errorf("%s failed", name)
	}
	fmt.Printf("✓ %s succeeded\n", name)
	if res.Message != "" {
		fmt.Printf("  %s\n", res.Message)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
