package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/specwatch/internal/config"
)

var (
	cfgFile   string
	sitesFile string
	verbose   bool
	model     string
	dryRun    bool
	maxPages  int
	auditMode bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "specwatch",
		Short: "Specwatch: used-car listings watcher",
		Long: `Specwatch crawls a used-car listings site for each configured model,
extracts every new listing, scores it against a weighted options table,
keeps a ledger that ages out vanished listings and sends a ranked digest.

It is meant to run unattended, either from cron or via "specwatch schedule".`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&sitesFile, "sites", "", "site catalogue YAML (default: built-in catalogue)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// addRunFlags registers the flags shared by commands that start campaigns.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&model, "model", "m", "", "run a single model instead of the configured list")
	cmd.Flags().BoolVar(&dryRun, "dry", false, "build the digest but do not send it")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many results pages (0 = site count)")
	cmd.Flags().BoolVar(&auditMode, "audit", false, "capture DOM dumps, screenshots and per-page reports")
}

// loadConfig reads the run config and the site catalogue and applies CLI
// overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, config.Sites, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	applyCLIOverrides(cmd, cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	sites, err := config.LoadSites(cfg.Campaign.SitesFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load sites: %w", err)
	}
	return cfg, sites, nil
}

// applyCLIOverrides applies explicitly set flags on top of the config.
func applyCLIOverrides(cmd *cobra.Command, cfg *config.Config) {
	if sitesFile != "" {
		cfg.Campaign.SitesFile = sitesFile
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	flags := cmd.Flags()
	if flags.Lookup("dry") != nil && flags.Changed("dry") {
		cfg.Campaign.DryRun = dryRun
	}
	if flags.Lookup("max-pages") != nil && flags.Changed("max-pages") {
		cfg.Campaign.MaxPages = maxPages
	}
	if flags.Lookup("audit") != nil && flags.Changed("audit") {
		cfg.Campaign.Audit = auditMode
	}
}

// setupLogger creates the root structured logger from the logging config.
func setupLogger(cfg config.LoggingConfig) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var (
		out     io.Writer = os.Stderr
		closeFn           = func() error { return nil }
	)
	switch cfg.Output {
	case "", "stderr":
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out, closeFn = f, f.Close
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(out, opts)
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler), closeFn, nil
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Specwatch %s\n", config.Version)
		},
	}
}
