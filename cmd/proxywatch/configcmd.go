package main

import (
	"fmt"
	"os"

	"github.com/cuemby/proxywatch/pkg/client"
	"github.com/cuemby/proxywatch/pkg/config"
	"github.com/cuemby/proxywatch/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage proxywatch settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cli.output == "json" {
			return printJSON(struct {
				Config      *config.Config     `json:"config"`
				Preferences *types.Preferences `json:"preferences"`
			}{cli.cfg, cli.prefs})
		}

		out, err := yaml.Marshal(cli.cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))

		if cli.store == nil {
			return nil
		}
		fmt.Println()
		fmt.Printf("# saved preferences (%s)\n", cli.cfg.StateDir)
		if cli.prefs.APIURL != "" {
			fmt.Printf("# api_url: %s\n", cli.prefs.APIURL)
		}
		if cli.prefs.LastLogType != "" {
			fmt.Printf("# last log: %s", cli.prefs.LastLogType)
			if cli.prefs.LastDomain != "" {
				fmt.Printf(" @ %s", cli.prefs.LastDomain)
			}
			fmt.Println()
		}
		return nil
	},
}

var configSetURLCmd = &cobra.Command{
	Use:   "set-url URL",
	Short: "Remember the panel API URL",
	Args:  cobra.ExactArgs(1),
	Example: `  proxywatch config set-url http://panel.internal:8000/api/v1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.NewClient(args[0])
		if err != nil {
			return err
		}
		if cli.store == nil {
			return fmt.Errorf("state directory %s is unavailable", cli.cfg.StateDir)
		}
		cli.savePrefs(func(p *types.Preferences) {
			p.APIURL = c.BaseURL()
		})
		fmt.Printf("✓ Panel API URL set to %s\n", c.BaseURL())
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		force, _ := cmd.Flags().GetBool("force")

		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		fmt.Printf("✓ Wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetURLCmd)
	configCmd.AddCommand(configInitCmd)
}
