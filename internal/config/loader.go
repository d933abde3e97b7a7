package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and defaults.
// Priority (highest to lowest): env vars > config file > defaults. CLI flags
// are applied by the caller afterwards.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("SPECWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("specwatch")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".specwatch"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// a missing file is fine unless one was named explicitly
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values in viper so env overrides bind.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("campaign.models", cfg.Campaign.Models)
	v.SetDefault("campaign.sites_file", cfg.Campaign.SitesFile)
	v.SetDefault("campaign.max_pages", cfg.Campaign.MaxPages)
	v.SetDefault("campaign.dry_run", cfg.Campaign.DryRun)
	v.SetDefault("campaign.audit", cfg.Campaign.Audit)

	v.SetDefault("crawl.page_size", cfg.Crawl.PageSize)
	v.SetDefault("crawl.nav_attempts", cfg.Crawl.NavAttempts)
	v.SetDefault("crawl.nav_timeout", cfg.Crawl.NavTimeout)
	v.SetDefault("crawl.nav_retry_delay", cfg.Crawl.NavRetryDelay)
	v.SetDefault("crawl.cookie_timeout", cfg.Crawl.CookieTimeout)
	v.SetDefault("crawl.hydration_timeout", cfg.Crawl.HydrationTimeout)
	v.SetDefault("crawl.hydration_poll", cfg.Crawl.HydrationPoll)
	v.SetDefault("crawl.extraction_timeout", cfg.Crawl.ExtractionTimeout)
	v.SetDefault("crawl.retry_extraction_timeout", cfg.Crawl.RetryExtractionTimeout)
	v.SetDefault("crawl.min_content_length", cfg.Crawl.MinContentLength)
	v.SetDefault("crawl.tab_recycle_every", cfg.Crawl.TabRecycleEvery)
	v.SetDefault("crawl.vehicle_delay_min", cfg.Crawl.VehicleDelayMin)
	v.SetDefault("crawl.vehicle_delay_max", cfg.Crawl.VehicleDelayMax)
	v.SetDefault("crawl.settle_delay", cfg.Crawl.SettleDelay)

	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.stealth", cfg.Browser.Stealth)
	v.SetDefault("browser.bin", cfg.Browser.Bin)
	v.SetDefault("browser.remote_url", cfg.Browser.RemoteURL)
	v.SetDefault("browser.viewport_width", cfg.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", cfg.Browser.ViewportHeight)
	v.SetDefault("browser.no_sandbox", cfg.Browser.NoSandbox)

	v.SetDefault("supervisor.max_retries", cfg.Supervisor.MaxRetries)

	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.audit_dir", cfg.Storage.AuditDir)
	v.SetDefault("storage.mongo_uri", cfg.Storage.MongoURI)
	v.SetDefault("storage.mongo_database", cfg.Storage.MongoDatabase)

	v.SetDefault("checkpoint.backend", cfg.Checkpoint.Backend)
	v.SetDefault("checkpoint.path", cfg.Checkpoint.Path)

	v.SetDefault("notify.type", cfg.Notify.Type)
	v.SetDefault("notify.smtp.host", cfg.Notify.SMTP.Host)
	v.SetDefault("notify.smtp.port", cfg.Notify.SMTP.Port)
	v.SetDefault("notify.smtp.username", cfg.Notify.SMTP.Username)
	v.SetDefault("notify.smtp.password", cfg.Notify.SMTP.Password)
	v.SetDefault("notify.smtp.from", cfg.Notify.SMTP.From)
	v.SetDefault("notify.smtp.to", cfg.Notify.SMTP.To)
	v.SetDefault("notify.telegram.token", cfg.Notify.Telegram.Token)
	v.SetDefault("notify.telegram.chat_id", cfg.Notify.Telegram.ChatID)

	v.SetDefault("schedule.cron", cfg.Schedule.Cron)
	v.SetDefault("schedule.timezone", cfg.Schedule.Timezone)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
