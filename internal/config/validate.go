package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if len(cfg.Campaign.Models) == 0 {
		return fmt.Errorf("campaign.models must list at least one model")
	}
	if cfg.Campaign.MaxPages < 0 {
		return fmt.Errorf("campaign.max_pages must be >= 0, got %d", cfg.Campaign.MaxPages)
	}

	if cfg.Crawl.PageSize < 1 {
		return fmt.Errorf("crawl.page_size must be >= 1, got %d", cfg.Crawl.PageSize)
	}
	if cfg.Crawl.NavAttempts < 1 {
		return fmt.Errorf("crawl.nav_attempts must be >= 1, got %d", cfg.Crawl.NavAttempts)
	}
	if cfg.Crawl.NavTimeout <= 0 {
		return fmt.Errorf("crawl.nav_timeout must be > 0")
	}
	if cfg.Crawl.HydrationTimeout <= 0 || cfg.Crawl.HydrationPoll <= 0 {
		return fmt.Errorf("crawl.hydration_timeout and crawl.hydration_poll must be > 0")
	}
	if cfg.Crawl.ExtractionTimeout <= 0 || cfg.Crawl.RetryExtractionTimeout <= 0 {
		return fmt.Errorf("crawl.extraction_timeout and crawl.retry_extraction_timeout must be > 0")
	}
	if cfg.Crawl.TabRecycleEvery < 0 {
		return fmt.Errorf("crawl.tab_recycle_every must be >= 0, got %d", cfg.Crawl.TabRecycleEvery)
	}
	if cfg.Crawl.VehicleDelayMin < 0 || cfg.Crawl.VehicleDelayMax < cfg.Crawl.VehicleDelayMin {
		return fmt.Errorf("crawl.vehicle_delay_min must be >= 0 and <= crawl.vehicle_delay_max")
	}

	if cfg.Browser.RemoteURL != "" {
		if _, err := url.Parse(cfg.Browser.RemoteURL); err != nil {
			return fmt.Errorf("invalid browser.remote_url %q: %w", cfg.Browser.RemoteURL, err)
		}
	}

	if cfg.Supervisor.MaxRetries < 1 {
		return fmt.Errorf("supervisor.max_retries must be >= 1, got %d", cfg.Supervisor.MaxRetries)
	}

	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}

	if cfg.Checkpoint.Backend != "file" && cfg.Checkpoint.Backend != "sqlite" {
		return fmt.Errorf("checkpoint.backend must be 'file' or 'sqlite', got %q", cfg.Checkpoint.Backend)
	}

	switch cfg.Notify.Type {
	case "none", "log":
	case "smtp":
		if cfg.Notify.SMTP.Host == "" || len(cfg.Notify.SMTP.To) == 0 {
			return fmt.Errorf("notify.smtp requires host and at least one recipient")
		}
	case "telegram":
		if cfg.Notify.Telegram.Token == "" || cfg.Notify.Telegram.ChatID == 0 {
			return fmt.Errorf("notify.telegram requires token and chat_id")
		}
	default:
		return fmt.Errorf("notify.type must be none/log/smtp/telegram, got %q", cfg.Notify.Type)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateURL checks that a listing URL is absolute http(s).
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
