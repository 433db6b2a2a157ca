package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hamed0406/flatwatch/internal/domain"
)

// minIntervalSeconds is the floor for the watch cadence. Anything faster
// hammers the housing portal without improving the odds.
const minIntervalSeconds = 60

type Config struct {
	Addr           string   `yaml:"addr"`    // API bind address, e.g. "127.0.0.1:8080"
	LogDir         string   `yaml:"log_dir"` // rotated JSON logs
	DataDir        string   `yaml:"data_dir"`
	Debug          bool     `yaml:"debug"`
	AllowedOrigins []string `yaml:"allowed_origins"` // empty means allow all
	RatePerMin     int      `yaml:"rate_per_min"`    // 0 disables rate limiting
	RateBurst      int      `yaml:"rate_burst"`

	Storage Storage             `yaml:"storage"`
	Watch   Watch               `yaml:"watch"`
	Search  domain.SearchParams `yaml:"search"`
	Probe   Probe               `yaml:"probe"`
	Notify  Notify              `yaml:"notify"`
}

type Storage struct {
	Driver      string `yaml:"driver"`       // memory | jsonfile | sqlite | postgres
	DatabaseURL string `yaml:"database_url"` // postgres DSN, or the sqlite file path
}

type Watch struct {
	IntervalSeconds     int  `yaml:"interval_seconds"`
	Headless            bool `yaml:"headless"`
	CheckTimeoutSeconds int  `yaml:"check_timeout_seconds"`
	Resume              bool `yaml:"resume"` // re-arm on boot if the persisted status was running
}

type Probe struct {
	Driver         string `yaml:"driver"` // form | browser
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	ArtifactDir    string `yaml:"artifact_dir"`
}

type Notify struct {
	Recipients []string `yaml:"recipients"`
	SMTP       SMTP     `yaml:"smtp"`
	WebhookURL string   `yaml:"webhook_url"`
}

type SMTP struct {
	Host     string `yaml:"host"` // empty disables e-mail
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Default returns the configuration a bare `watchd serve` runs with.
func Default() Config {
	return Config{
		Addr:    "127.0.0.1:8080",
		LogDir:  "logs",
		DataDir: "data",
		Storage: Storage{Driver: "jsonfile"},
		Watch: Watch{
			IntervalSeconds:     300,
			Headless:            true,
			CheckTimeoutSeconds: 90,
			Resume:              true,
		},
		Probe: Probe{
			Driver:         "form",
			TimeoutSeconds: 30,
			ArtifactDir:    filepath.Join("data", "artifacts"),
		},
		Notify: Notify{SMTP: SMTP{Port: 587}},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file falls back to defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// keep defaults
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return &cfg, nil
}

// applyEnv lets deployments override deploy-sensitive values without
// editing the file. Secrets in particular belong in the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("FLATWATCH_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.Notify.SMTP.Password = v
	}
}

// Validate reports the first fatal problem with the configuration.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	switch c.Storage.Driver {
	case "memory", "jsonfile":
	case "sqlite", "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the %s driver", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage.driver %q (memory, jsonfile, sqlite, postgres)", c.Storage.Driver)
	}
	switch c.Probe.Driver {
	case "form", "browser":
	default:
		return fmt.Errorf("unknown probe.driver %q (form, browser)", c.Probe.Driver)
	}
	if c.Watch.IntervalSeconds < minIntervalSeconds {
		return fmt.Errorf("watch.interval_seconds %d is below the %ds floor", c.Watch.IntervalSeconds, minIntervalSeconds)
	}
	if c.Search.FormURL == "" {
		return errors.New("search.form_url is not configured")
	}
	if len(c.Search.FoundMarkers) == 0 {
		return errors.New("search.found_markers must not be empty")
	}
	if c.Notify.SMTP.Host != "" && len(c.Notify.Recipients) == 0 {
		return errors.New("notify.recipients must not be empty when smtp is configured")
	}
	return nil
}

// WatchConfig hands the scheduler a fresh schedule and search on every
// start or run-once, so a reloaded config takes effect on the next arm.
func (c *Config) WatchConfig() (domain.ScheduleConfig, domain.SearchParams, error) {
	if c.Watch.IntervalSeconds < minIntervalSeconds {
		return domain.ScheduleConfig{}, domain.SearchParams{}, fmt.Errorf("watch interval %ds is below the %ds floor", c.Watch.IntervalSeconds, minIntervalSeconds)
	}
	if c.Search.FormURL == "" {
		return domain.ScheduleConfig{}, domain.SearchParams{}, errors.New("search.form_url is not configured")
	}
	if len(c.Search.FoundMarkers) == 0 {
		return domain.ScheduleConfig{}, domain.SearchParams{}, errors.New("search.found_markers must not be empty")
	}
	sched := domain.ScheduleConfig{
		IntervalSeconds: c.Watch.IntervalSeconds,
		Headless:        c.Watch.Headless,
	}
	return sched, c.Search, nil
}

// CheckTimeout converts the configured ceiling; zero means the pipeline
// default applies.
func (c *Config) CheckTimeout() time.Duration {
	if c.Watch.CheckTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Watch.CheckTimeoutSeconds) * time.Second
}

func (c *Config) ProbeTimeout() time.Duration {
	if c.Probe.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Probe.TimeoutSeconds) * time.Second
}
