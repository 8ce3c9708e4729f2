package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Backend    BackendConfig    `yaml:"backend"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Sync       SyncConfig       `yaml:"sync"`
	Control    ControlConfig    `yaml:"control"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// BackendConfig describes the portal backend every outbound call goes to.
// Credentials handling is fixed per deployment, never negotiated per call.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AuthHeader     string        `yaml:"auth_header"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// SyncConfig tunes the drain worker.
type SyncConfig struct {
	AutoDrain     bool          `yaml:"auto_drain"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// ControlConfig configures the localhost control API (the Sync Center surface).
type ControlConfig struct {
	Enabled      bool            `yaml:"enabled"`
	Port         int             `yaml:"port"`
	HeaderAPIKey string          `yaml:"header_api_key"`
	APIKeys      []ControlAPIKey `yaml:"api_keys"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

type ControlAPIKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; environment variables still expand without it.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend base_url is required")
	}
	if _, err := url.Parse(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("backend base_url is invalid: %w", err)
	}

	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return errors.New("redis address is required when redis is enabled")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "agrisync"
	}
	if c.Backend.RequestTimeout == 0 {
		c.Backend.RequestTimeout = 20 * time.Second
	}
	if c.Backend.AuthHeader == "" {
		c.Backend.AuthHeader = "Authorization"
	}

	if c.Control.Port == 0 {
		c.Control.Port = 8790
	}
	if c.Control.HeaderAPIKey == "" {
		c.Control.HeaderAPIKey = "x-api-key"
	}
	if c.Control.RateLimit.RPS == 0 {
		c.Control.RateLimit.RPS = 10
	}
	if c.Control.RateLimit.Burst == 0 {
		c.Control.RateLimit.Burst = 5
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 30 * time.Second
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 5
	}
	if c.Sync.InitialDelay == 0 {
		c.Sync.InitialDelay = 2 * time.Second
	}
	if c.Sync.MaxDelay == 0 {
		c.Sync.MaxDelay = time.Minute
	}
	if c.Sync.BackoffFactor == 0 {
		c.Sync.BackoffFactor = 2
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
