package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(configShowCmd(), configValidateCmd(), configSitesCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective run configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// Credentials stay out of terminals and logs.
			if cfg.Notify.SMTP.Password != "" {
				cfg.Notify.SMTP.Password = "********"
			}
			if cfg.Notify.Telegram.Token != "" {
				cfg.Notify.Telegram.Token = "********"
			}
			if cfg.Storage.MongoURI != "" {
				cfg.Storage.MongoURI = "********"
			}
			return yaml.NewEncoder(os.Stdout).Encode(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and that every configured model is runnable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, sites, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			var bad []string
			for _, m := range cfg.Campaign.Models {
				site, err := sites.Lookup(m)
				if err != nil {
					fmt.Printf("  ✗ %-10s %v\n", m, err)
					bad = append(bad, m)
					continue
				}
				fmt.Printf("  ✓ %-10s %d steps, %d spec weights\n", m, len(site.NavSteps), len(site.SpecWeights))
			}
			if len(bad) > 0 {
				return fmt.Errorf("models not runnable: %s", strings.Join(bad, ", "))
			}
			fmt.Println("config ok")
			return nil
		},
	}
}

func configSitesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sites",
		Short: "Print the site catalogue as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sites, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			models := sites.Models()
			sort.Strings(models)
			out, err := sites.Marshal(models)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
}
