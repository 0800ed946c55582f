package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stakepool/crypto"
	"stakepool/native/stakepool"
)

const (
	defaultListen    = ":8547"
	defaultNamespace = "stakepool"
	defaultHistory   = 1024
)

// Ledger drivers accepted in the ledger.driver field.
const (
	LedgerMemory   = "memory"
	LedgerSQLite   = "sqlite"
	LedgerPostgres = "postgres"
)

// Config captures the runtime settings for the staking daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DataDir       string          `yaml:"data_dir"`
	Environment   string          `yaml:"environment"`
	TLS           TLSConfig       `yaml:"tls"`
	Ledger        LedgerConfig    `yaml:"ledger"`
	Pool          PoolConfig      `yaml:"pool"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Logging       LoggingConfig   `yaml:"logging"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	Events        EventsConfig    `yaml:"events"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// LedgerConfig selects the ledger accessor backing transfers.
type LedgerConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Genesis string `yaml:"genesis"`
}

// PoolConfig holds the parameters fixed for the deployment.
type PoolConfig struct {
	Namespace           string        `yaml:"namespace"`
	Initializer         string        `yaml:"initializer"`
	PremiumThreshold    uint64        `yaml:"premium_threshold"`
	RewardPeriod        time.Duration `yaml:"reward_period"`
	DistributionHorizon time.Duration `yaml:"distribution_horizon"`
	ExpectedStake       uint64        `yaml:"expected_stake"`
	RateNumerator       uint64        `yaml:"rate_numerator"`
	RateDenominator     uint64        `yaml:"rate_denominator"`
	StrictBudget        bool          `yaml:"strict_budget"`
	MaxLockPeriod       time.Duration `yaml:"max_lock_period"`
	// Paused starts the daemon with pool mutations rejected.
	Paused bool `yaml:"paused"`
}

// AuthConfig enables HS256 bearer authentication for RPC and streams.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
}

// Enabled reports whether bearer authentication is required.
func (a AuthConfig) Enabled() bool { return a.JWTSecret != "" }

// RateLimitConfig bounds requests per client address.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"rps"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig controls log verbosity and optional file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig wires OTLP exporters.
type TelemetryConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	Metrics     bool              `yaml:"metrics"`
	Traces      bool              `yaml:"traces"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

// EventsConfig sizes the replay buffer for event streams and optionally
// forwards every event to a signed webhook.
type EventsConfig struct {
	History int           `yaml:"history"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// WebhookConfig points event delivery at an HTTP receiver.
type WebhookConfig struct {
	URL         string        `yaml:"url"`
	Secret      string        `yaml:"secret"`
	MaxAttempts int           `yaml:"max_attempts"`
	MinBackoff  time.Duration `yaml:"min_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{ListenAddress: defaultListen}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	if env := strings.TrimSpace(os.Getenv("STAKEPOOL_ENV")); env != "" {
		cfg.Environment = env
	}
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)

	cfg.Ledger.Driver = strings.ToLower(strings.TrimSpace(cfg.Ledger.Driver))
	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = LedgerMemory
	}
	cfg.Ledger.DSN = strings.TrimSpace(cfg.Ledger.DSN)
	if cfg.Ledger.Driver == LedgerSQLite && cfg.Ledger.DSN == "" && cfg.DataDir != "" {
		cfg.Ledger.DSN = filepath.Join(cfg.DataDir, "ledger.db")
	}
	cfg.Ledger.Genesis = strings.TrimSpace(cfg.Ledger.Genesis)

	cfg.Pool.Namespace = strings.TrimSpace(cfg.Pool.Namespace)
	if cfg.Pool.Namespace == "" {
		cfg.Pool.Namespace = defaultNamespace
	}
	cfg.Pool.Initializer = strings.TrimSpace(cfg.Pool.Initializer)
	if cfg.Pool.PremiumThreshold == 0 {
		cfg.Pool.PremiumThreshold = stakepool.DefaultPremiumThreshold
	}

	cfg.Auth.JWTSecret = strings.TrimSpace(cfg.Auth.JWTSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)

	if cfg.RateLimit.RequestsPerSecond > 0 && cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.RequestsPerSecond)
		if cfg.RateLimit.Burst < 1 {
			cfg.RateLimit.Burst = 1
		}
	}
	if cfg.Events.History <= 0 {
		cfg.Events.History = defaultHistory
	}
	cfg.Events.Webhook.URL = strings.TrimSpace(cfg.Events.Webhook.URL)
	if secret := strings.TrimSpace(os.Getenv("STAKEPOOL_WEBHOOK_SECRET")); secret != "" {
		cfg.Events.Webhook.Secret = secret
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	hasCert := cfg.TLS.CertPath != ""
	if hasCert != (cfg.TLS.KeyPath != "") {
		return fmt.Errorf("tls: cert and key must either both be provided or both be empty")
	}
	if !hasCert && !cfg.TLS.AllowInsecure {
		return fmt.Errorf("tls: cert and key are required unless allow_insecure=true")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch cfg.Ledger.Driver {
	case LedgerMemory:
	case LedgerSQLite, LedgerPostgres:
		if cfg.Ledger.DSN == "" {
			return fmt.Errorf("ledger: dsn required for driver %s", cfg.Ledger.Driver)
		}
	default:
		return fmt.Errorf("ledger: unsupported driver %q", cfg.Ledger.Driver)
	}
	if _, err := cfg.EngineConfig(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if cfg.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit: rps must not be negative")
	}
	if cfg.Events.Webhook.URL != "" && cfg.Events.Webhook.Secret == "" {
		return fmt.Errorf("events: webhook secret required when url is set")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1]")
	}
	return nil
}

// EngineConfig converts the pool section into engine parameters.
func (cfg Config) EngineConfig() (stakepool.Config, error) {
	p := cfg.Pool
	if p.Initializer == "" {
		return stakepool.Config{}, fmt.Errorf("initializer is required")
	}
	initializer, err := crypto.ParseAddress(p.Initializer)
	if err != nil {
		return stakepool.Config{}, fmt.Errorf("initializer: %w", err)
	}
	if p.RewardPeriod < 0 || p.DistributionHorizon < 0 || p.MaxLockPeriod < 0 {
		return stakepool.Config{}, fmt.Errorf("durations must not be negative")
	}
	if (p.RateNumerator != 0) != (p.RateDenominator != 0) {
		return stakepool.Config{}, fmt.Errorf("rate_numerator and rate_denominator must be set together")
	}
	if p.DistributionHorizon > 0 && p.ExpectedStake == 0 {
		return stakepool.Config{}, fmt.Errorf("distribution_horizon requires expected_stake")
	}
	return stakepool.Config{
		Namespace:           p.Namespace,
		Initializer:         initializer,
		PremiumThreshold:    p.PremiumThreshold,
		Rate:                stakepool.Rate{Numerator: p.RateNumerator, Denominator: p.RateDenominator},
		RewardPeriod:        p.RewardPeriod,
		DistributionHorizon: p.DistributionHorizon,
		ExpectedStake:       p.ExpectedStake,
		StrictBudget:        p.StrictBudget,
		MaxLockPeriod:       p.MaxLockPeriod,
	}, nil
}

// StatePath is the LevelDB directory holding engine state.
func (cfg Config) StatePath() string {
	return filepath.Join(cfg.DataDir, "state")
}
