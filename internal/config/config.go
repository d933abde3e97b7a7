package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for specwatch.
type Config struct {
	Campaign   CampaignConfig   `mapstructure:"campaign"   yaml:"campaign"`
	Crawl      CrawlConfig      `mapstructure:"crawl"      yaml:"crawl"`
	Browser    BrowserConfig    `mapstructure:"browser"    yaml:"browser"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
	Storage    StorageConfig    `mapstructure:"storage"    yaml:"storage"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
	Notify     NotifyConfig     `mapstructure:"notify"     yaml:"notify"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"   yaml:"schedule"`
	Logging    LoggingConfig    `mapstructure:"logging"    yaml:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"    yaml:"metrics"`
}

// CampaignConfig selects which target models are crawled and how.
type CampaignConfig struct {
	Models    []string `mapstructure:"models"     yaml:"models"`
	SitesFile string   `mapstructure:"sites_file" yaml:"sites_file"`
	MaxPages  int      `mapstructure:"max_pages"  yaml:"max_pages"`
	DryRun    bool     `mapstructure:"dry_run"    yaml:"dry_run"`
	Audit     bool     `mapstructure:"audit"      yaml:"audit"`
}

// CrawlConfig holds the timing and retry bounds of the crawl loop and the
// extraction pipeline.
type CrawlConfig struct {
	PageSize               int           `mapstructure:"page_size"                yaml:"page_size"`
	NavAttempts            int           `mapstructure:"nav_attempts"             yaml:"nav_attempts"`
	NavTimeout             time.Duration `mapstructure:"nav_timeout"              yaml:"nav_timeout"`
	NavRetryDelay          time.Duration `mapstructure:"nav_retry_delay"          yaml:"nav_retry_delay"`
	CookieTimeout          time.Duration `mapstructure:"cookie_timeout"           yaml:"cookie_timeout"`
	HydrationTimeout       time.Duration `mapstructure:"hydration_timeout"        yaml:"hydration_timeout"`
	HydrationPoll          time.Duration `mapstructure:"hydration_poll"           yaml:"hydration_poll"`
	ExtractionTimeout      time.Duration `mapstructure:"extraction_timeout"       yaml:"extraction_timeout"`
	RetryExtractionTimeout time.Duration `mapstructure:"retry_extraction_timeout" yaml:"retry_extraction_timeout"`
	MinContentLength       int           `mapstructure:"min_content_length"       yaml:"min_content_length"`
	TabRecycleEvery        int           `mapstructure:"tab_recycle_every"        yaml:"tab_recycle_every"`
	VehicleDelayMin        time.Duration `mapstructure:"vehicle_delay_min"        yaml:"vehicle_delay_min"`
	VehicleDelayMax        time.Duration `mapstructure:"vehicle_delay_max"        yaml:"vehicle_delay_max"`
	SettleDelay            time.Duration `mapstructure:"settle_delay"             yaml:"settle_delay"`
}

// BrowserConfig controls the headless browser.
type BrowserConfig struct {
	Headless       bool   `mapstructure:"headless"        yaml:"headless"`
	Stealth        bool   `mapstructure:"stealth"         yaml:"stealth"`
	Bin            string `mapstructure:"bin"             yaml:"bin"`
	RemoteURL      string `mapstructure:"remote_url"      yaml:"remote_url"`
	ViewportWidth  int    `mapstructure:"viewport_width"  yaml:"viewport_width"`
	ViewportHeight int    `mapstructure:"viewport_height" yaml:"viewport_height"`
	NoSandbox      bool   `mapstructure:"no_sandbox"      yaml:"no_sandbox"`
}

// SupervisorConfig bounds whole-campaign retries.
type SupervisorConfig struct {
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// StorageConfig controls where run state is persisted.
type StorageConfig struct {
	DataDir       string `mapstructure:"data_dir"       yaml:"data_dir"`
	AuditDir      string `mapstructure:"audit_dir"      yaml:"audit_dir"`
	MongoURI      string `mapstructure:"mongo_uri"      yaml:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database" yaml:"mongo_database"`
}

// CheckpointConfig selects the process checkpoint backend.
type CheckpointConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // file, sqlite
	Path    string `mapstructure:"path"    yaml:"path"`
}

// NotifyConfig selects how the digest is delivered.
type NotifyConfig struct {
	Type     string         `mapstructure:"type"     yaml:"type"` // none, log, smtp, telegram
	SMTP     SMTPConfig     `mapstructure:"smtp"     yaml:"smtp"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
}

type SMTPConfig struct {
	Host     string   `mapstructure:"host"     yaml:"host"`
	Port     int      `mapstructure:"port"     yaml:"port"`
	Username string   `mapstructure:"username" yaml:"username"`
	Password string   `mapstructure:"password" yaml:"password"`
	From     string   `mapstructure:"from"     yaml:"from"`
	To       []string `mapstructure:"to"       yaml:"to"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"   yaml:"token"`
	ChatID int64  `mapstructure:"chat_id" yaml:"chat_id"`
}

// ScheduleConfig drives `specwatch schedule`.
type ScheduleConfig struct {
	Cron     string `mapstructure:"cron"     yaml:"cron"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Campaign: CampaignConfig{
			Models: []string{"X5", "5 Series", "i4"},
		},
		Crawl: CrawlConfig{
			PageSize:               23,
			NavAttempts:            3,
			NavTimeout:             30 * time.Second,
			NavRetryDelay:          1500 * time.Millisecond,
			CookieTimeout:          3 * time.Second,
			HydrationTimeout:       15 * time.Second,
			HydrationPoll:          500 * time.Millisecond,
			ExtractionTimeout:      30 * time.Second,
			RetryExtractionTimeout: 20 * time.Second,
			MinContentLength:       1000,
			TabRecycleEvery:        25,
			VehicleDelayMin:        3 * time.Second,
			VehicleDelayMax:        5 * time.Second,
			SettleDelay:            2 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:       true,
			Stealth:        true,
			ViewportWidth:  1280,
			ViewportHeight: 800,
		},
		Supervisor: SupervisorConfig{
			MaxRetries: 3,
		},
		Storage: StorageConfig{
			DataDir:       "./data",
			AuditDir:      "./audit",
			MongoDatabase: "specwatch",
		},
		Checkpoint: CheckpointConfig{
			Backend: "file",
			Path:    "./data/checkpoint.json",
		},
		Notify: NotifyConfig{
			Type: "log",
			SMTP: SMTPConfig{
				Host: "smtp.office365.com",
				Port: 587,
			},
		},
		Schedule: ScheduleConfig{
			Cron:     "0 6 * * *",
			Timezone: "Europe/London",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
