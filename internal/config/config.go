package config

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Default values for the daemon configuration.
const (
	DefaultHTTPAddr      = ":8080"
	DefaultGRPCAddr      = ":50051"
	DefaultMetricsAddr   = ":9090"
	DefaultDBPath        = "./data/badger"
	DefaultArchivePath   = "./data/reports.db"
	DefaultBootDelay     = 500 * time.Millisecond
	DefaultResetSchedule = "0 0 * * *"
	DefaultSubject       = "vmorg"
	DefaultRedisPrefix   = "vmorg:stats"
	DefaultRedisTTL      = 48 * time.Hour
)

// Config is the top-level vmorgd configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Build     BuildConfig     `yaml:"build"`
	Stats     StatsConfig     `yaml:"stats"`
	Events    EventsConfig    `yaml:"events"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds listen addresses. An empty GRPCAddr disables gRPC.
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// AuthConfig controls who may request machines and who may call the API.
type AuthConfig struct {
	// Requestors seeds the allow-list.
	Requestors []string `yaml:"requestors"`

	// AllowlistFile, when set, is loaded at start and watched for changes.
	// Its entries replace Requestors.
	AllowlistFile string `yaml:"allowlist_file"`

	// APIKeyEnv names the environment variable holding the gRPC API key.
	// Empty disables the key check.
	APIKeyEnv string `yaml:"api_key_env"`

	// Header is the gRPC metadata key carrying the API key (default "x-api-key").
	Header string `yaml:"header"`
}

// APIKey returns the expected API key resolved from the environment.
func (a AuthConfig) APIKey() string {
	if a.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(a.APIKeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// BuildConfig configures the build simulator.
type BuildConfig struct {
	DBPath      string        `yaml:"db_path"`
	BootDelay   time.Duration `yaml:"boot_delay"`
	MaxCPUs     int           `yaml:"max_cpus"`
	MaxRAMGB    int           `yaml:"max_ram_gb"`
	MaxHDDGB    int           `yaml:"max_hdd_gb"`
	SupportedOS []string      `yaml:"supported_os"`
}

// StatsConfig controls daily rollover and the optional Redis mirror.
type StatsConfig struct {
	ResetSchedule string        `yaml:"reset_schedule"`
	Timezone      string        `yaml:"timezone"`
	ArchivePath   string        `yaml:"archive_path"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`
}

// Location resolves Timezone, defaulting to UTC.
func (s StatsConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// EventsConfig configures NATS publishing. An empty URL disables it.
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// RateLimitConfig bounds HTTP requests per requestor. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-populated with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:    DefaultHTTPAddr,
			GRPCAddr:    DefaultGRPCAddr,
			MetricsAddr: DefaultMetricsAddr,
		},
		Build: BuildConfig{
			DBPath:    DefaultDBPath,
			BootDelay: DefaultBootDelay,
		},
		Stats: StatsConfig{
			ResetSchedule: DefaultResetSchedule,
			ArchivePath:   DefaultArchivePath,
			RedisPrefix:   DefaultRedisPrefix,
			RedisTTL:      DefaultRedisTTL,
		},
		Events: EventsConfig{
			Subject: DefaultSubject,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if cfg.Build.BootDelay < 0 {
		return fmt.Errorf("build.boot_delay must not be negative")
	}
	if cfg.Build.MaxCPUs < 0 || cfg.Build.MaxRAMGB < 0 || cfg.Build.MaxHDDGB < 0 {
		return fmt.Errorf("build limits must not be negative")
	}
	if _, err := cron.ParseStandard(cfg.Stats.ResetSchedule); err != nil {
		return fmt.Errorf("stats.reset_schedule %q: %w", cfg.Stats.ResetSchedule, err)
	}
	if _, err := cfg.Stats.Location(); err != nil {
		return fmt.Errorf("stats.timezone %q: %w", cfg.Stats.Timezone, err)
	}
	if cfg.Stats.RedisTTL < 0 {
		return fmt.Errorf("stats.redis_ttl must not be negative")
	}
	if cfg.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must not be negative")
	}
	if cfg.RateLimit.RPS > 0 && cfg.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be at least 1 when rps is set")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level)
	}
	if cfg.Events.NATSURL != "" && cfg.Events.Subject == "" {
		return fmt.Errorf("events.subject is required when events.nats_url is set")
	}
	return nil
}
