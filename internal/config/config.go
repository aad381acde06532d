// Package config loads the settings of the corsguard server from a YAML
// file and from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jub0bs/corsguard"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Environment variables that take precedence over the YAML file.
const (
	EnvEnvironment = "CORSGUARD_ENV"
	EnvAddr        = "CORSGUARD_ADDR"
	EnvRedisURL    = "CORSGUARD_REDIS_URL"
	EnvDatabaseURL = "CORSGUARD_DATABASE_URL"
	EnvLogLevel    = "CORSGUARD_LOG_LEVEL"
)

const (
	defaultEnvironment = "development"
	defaultAddr        = ":8080"
	defaultLogLevel    = "info"
)

// Config is the root of the server's configuration.
// Durations are written the way [time.ParseDuration] expects them (e.g. 5m).
type Config struct {
	Environment string `yaml:"environment"`
	Addr        string `yaml:"addr"`
	LogLevel    string `yaml:"log_level"`

	// RedisURL, if set, selects Redis as the source of both the whitelist
	// and reputations. Otherwise, DatabaseURL selects PostgreSQL.
	// If neither is set, the whitelist is read from WhitelistFile
	// and reputations are kept in memory.
	RedisURL      string `yaml:"redis_url"`
	DatabaseURL   string `yaml:"database_url"`
	WhitelistFile string `yaml:"whitelist_file"`

	Engine EngineConfig `yaml:"engine"`
	CORS   CORSConfig   `yaml:"cors"`
}

// EngineConfig mirrors the tunable fields of [corsguard.Config].
// Zero values select the engine's defaults.
type EngineConfig struct {
	WhitelistRefreshInterval time.Duration `yaml:"whitelist_refresh_interval"`
	WhitelistTimeout         time.Duration `yaml:"whitelist_timeout"`
	WhitelistMaxStaleness    time.Duration `yaml:"whitelist_max_staleness"`
	ReputationLookback       time.Duration `yaml:"reputation_lookback"`
	ReputationCacheSize      int           `yaml:"reputation_cache_size"`
	ReputationCacheTTL       time.Duration `yaml:"reputation_cache_ttl"`
	ReputationQueueSize      int           `yaml:"reputation_queue_size"`
	RateLimit                int           `yaml:"rate_limit"`
	RateLimitWindow          time.Duration `yaml:"rate_limit_window"`
	BlockDuration            time.Duration `yaml:"block_duration"`
	CleanupInterval          time.Duration `yaml:"cleanup_interval"`
	IdleWindowTTL            time.Duration `yaml:"idle_window_ttl"`
	Policy                   PolicyConfig  `yaml:"policy"`
}

// PolicyConfig mirrors [corsguard.Policy].
type PolicyConfig struct {
	MinScore                int `yaml:"min_score"`
	PatternPenalty          int `yaml:"pattern_penalty"`
	TLDPenalty              int `yaml:"tld_penalty"`
	PortPenalty             int `yaml:"port_penalty"`
	BotPenalty              int `yaml:"bot_penalty"`
	ReputationPenalty       int `yaml:"reputation_penalty"`
	MinReputationSamples    int `yaml:"min_reputation_samples"`
	ReputationRiskThreshold int `yaml:"reputation_risk_threshold"`
}

// CORSConfig mirrors [corsguard.MiddlewareConfig].
type CORSConfig struct {
	Credentialed    bool     `yaml:"credentialed"`
	Methods         []string `yaml:"methods"`
	RequestHeaders  []string `yaml:"request_headers"`
	MaxAgeInSeconds int      `yaml:"max_age_in_seconds"`
	ResponseHeaders []string `yaml:"response_headers"`
}

// Load reads the YAML file at path, if path is not empty, and then applies
// the overrides found in the environment. Unset settings get defaults.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("config unmarshal: %w", err)
		}
	}
	applyEnvOverrides(&c)
	applyDefaults(&c)
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv(EnvEnvironment); v != "" {
		c.Environment = v
	}
	if v := os.Getenv(EnvAddr); v != "" {
		c.Addr = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

func applyDefaults(c *Config) {
	if c.Environment == "" {
		c.Environment = defaultEnvironment
	}
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
}

// validate only checks what the engine and the middleware don't;
// those validate their own settings.
func (c *Config) validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("config: log level: %w", err))
	}
	if c.RedisURL != "" && c.DatabaseURL != "" {
		errs = append(errs, errors.New("config: redis_url and database_url are mutually exclusive"))
	}
	if c.Environment == string(corsguard.Production) &&
		c.RedisURL == "" && c.DatabaseURL == "" && c.WhitelistFile == "" {
		const msg = "config: the production environment requires one of redis_url, database_url, or whitelist_file"
		errs = append(errs, errors.New(msg))
	}
	return errors.Join(errs...)
}

// Level returns the minimum level of the log entries to emit.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// EngineConfig returns the corresponding engine configuration,
// minus its Whitelist, Reputation, and Logger fields,
// which are left for the caller to populate.
func (c *Config) EngineConfig() corsguard.Config {
	ec := &c.Engine
	return corsguard.Config{
		Environment:              corsguard.Environment(c.Environment),
		WhitelistRefreshInterval: ec.WhitelistRefreshInterval,
		WhitelistTimeout:         ec.WhitelistTimeout,
		WhitelistMaxStaleness:    ec.WhitelistMaxStaleness,
		ReputationLookback:       ec.ReputationLookback,
		ReputationCacheSize:      ec.ReputationCacheSize,
		ReputationCacheTTL:       ec.ReputationCacheTTL,
		ReputationQueueSize:      ec.ReputationQueueSize,
		RateLimit:                ec.RateLimit,
		RateLimitWindow:          ec.RateLimitWindow,
		BlockDuration:            ec.BlockDuration,
		CleanupInterval:          ec.CleanupInterval,
		IdleWindowTTL:            ec.IdleWindowTTL,
		Policy: corsguard.Policy{
			MinScore:                ec.Policy.MinScore,
			PatternPenalty:          ec.Policy.PatternPenalty,
			TLDPenalty:              ec.Policy.TLDPenalty,
			PortPenalty:             ec.Policy.PortPenalty,
			BotPenalty:              ec.Policy.BotPenalty,
			ReputationPenalty:       ec.Policy.ReputationPenalty,
			MinReputationSamples:    ec.Policy.MinReputationSamples,
			ReputationRiskThreshold: ec.Policy.ReputationRiskThreshold,
		},
	}
}

// MiddlewareConfig returns the corresponding middleware configuration.
func (c *Config) MiddlewareConfig() corsguard.MiddlewareConfig {
	return corsguard.MiddlewareConfig{
		Credentialed:    c.CORS.Credentialed,
		Methods:         c.CORS.Methods,
		RequestHeaders:  c.CORS.RequestHeaders,
		MaxAgeInSeconds: c.CORS.MaxAgeInSeconds,
		ResponseHeaders: c.CORS.ResponseHeaders,
	}
}
