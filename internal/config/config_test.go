package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/jub0bs/corsguard"
	"github.com/rs/zerolog"
)

const sampleYAML = `
environment: production
addr: ":9090"
log_level: debug
whitelist_file: /etc/corsguard/whitelist.yaml
engine:
  rate_limit: 50
  rate_limit_window: 1m
  block_duration: 2h
  whitelist_refresh_interval: 10m
  policy:
    min_score: -30
    bot_penalty: -1
cors:
  credentialed: true
  methods: [PUT, DELETE]
  request_headers: [Authorization, X-Foo]
  max_age_in_seconds: 600
  response_headers: [X-Request-Id]
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corsguard.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// clearEnv ensures that the environment of the test process
// doesn't leak into the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvEnvironment, EnvAddr, EnvRedisURL, EnvDatabaseURL, EnvLogLevel} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("got %v; want nil error", err)
	}
	if cfg.Environment != "development" {
		t.Errorf("got environment %q; want %q", cfg.Environment, "development")
	}
	if cfg.Addr != ":8080" {
		t.Errorf("got addr %q; want %q", cfg.Addr, ":8080")
	}
	if got := cfg.Level(); got != zerolog.InfoLevel {
		t.Errorf("got level %v; want %v", got, zerolog.InfoLevel)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeFile(t, sampleYAML))
	if err != nil {
		t.Fatalf("got %v; want nil error", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("got addr %q; want %q", cfg.Addr, ":9090")
	}
	if got := cfg.Level(); got != zerolog.DebugLevel {
		t.Errorf("got level %v; want %v", got, zerolog.DebugLevel)
	}

	ecfg := cfg.EngineConfig()
	if ecfg.Environment != corsguard.Production {
		t.Errorf("got environment %q; want %q", ecfg.Environment, corsguard.Production)
	}
	if ecfg.RateLimit != 50 {
		t.Errorf("got rate limit %d; want %d", ecfg.RateLimit, 50)
	}
	if ecfg.RateLimitWindow != time.Minute {
		t.Errorf("got rate-limit window %v; want %v", ecfg.RateLimitWindow, time.Minute)
	}
	if ecfg.BlockDuration != 2*time.Hour {
		t.Errorf("got block duration %v; want %v", ecfg.BlockDuration, 2*time.Hour)
	}
	if ecfg.WhitelistRefreshInterval != 10*time.Minute {
		const tmpl = "got whitelist refresh interval %v; want %v"
		t.Errorf(tmpl, ecfg.WhitelistRefreshInterval, 10*time.Minute)
	}
	if ecfg.Policy.MinScore != -30 || ecfg.Policy.BotPenalty != -1 {
		t.Errorf("got policy %+v; want min score -30 and bot penalty -1", ecfg.Policy)
	}

	mcfg := cfg.MiddlewareConfig()
	if !mcfg.Credentialed {
		t.Error("got non-credentialed middleware config; want credentialed")
	}
	if want := []string{"PUT", "DELETE"}; !slices.Equal(mcfg.Methods, want) {
		t.Errorf("got methods %q; want %q", mcfg.Methods, want)
	}
	if want := []string{"Authorization", "X-Foo"}; !slices.Equal(mcfg.RequestHeaders, want) {
		t.Errorf("got request headers %q; want %q", mcfg.RequestHeaders, want)
	}
	if mcfg.MaxAgeInSeconds != 600 {
		t.Errorf("got max age %d; want %d", mcfg.MaxAgeInSeconds, 600)
	}
	if want := []string{"X-Request-Id"}; !slices.Equal(mcfg.ResponseHeaders, want) {
		t.Errorf("got response headers %q; want %q", mcfg.ResponseHeaders, want)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEnvironment, "staging")
	t.Setenv(EnvAddr, ":7070")
	t.Setenv(EnvRedisURL, "redis://localhost:6379/0")
	t.Setenv(EnvLogLevel, "warn")
	cfg, err := Load(writeFile(t, sampleYAML))
	if err != nil {
		t.Fatalf("got %v; want nil error", err)
	}
	if cfg.Environment != "staging" {
		t.Errorf("got environment %q; want %q", cfg.Environment, "staging")
	}
	if cfg.Addr != ":7070" {
		t.Errorf("got addr %q; want %q", cfg.Addr, ":7070")
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("got redis URL %q; want %q", cfg.RedisURL, "redis://localhost:6379/0")
	}
	if got := cfg.Level(); got != zerolog.WarnLevel {
		t.Errorf("got level %v; want %v", got, zerolog.WarnLevel)
	}
	// settings absent from the environment come from the file
	if cfg.Engine.RateLimit != 50 {
		t.Errorf("got rate limit %d; want %d", cfg.Engine.RateLimit, 50)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		desc    string
		content string
		env     map[string]string
	}{
		{
			desc:    "malformed YAML",
			content: "engine: [",
		}, {
			desc:    "malformed duration",
			content: "engine:\n  rate_limit_window: soon\n",
		}, {
			desc:    "unknown log level",
			content: "log_level: chatty\n",
		}, {
			desc:    "both redis and postgres",
			content: "redis_url: redis://localhost\ndatabase_url: postgres://localhost/corsguard\n",
		}, {
			desc:    "production without whitelist source",
			content: "environment: development\n",
			env:     map[string]string{EnvEnvironment: "production"},
		},
	}
	for _, tc := range cases {
		f := func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(writeFile(t, tc.content))
			if err == nil {
				t.Errorf("got %+v, nil; want nil, non-nil error", cfg)
			}
		}
		t.Run(tc.desc, f)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "absent.yaml")
	if _, err := Load(path); err == nil {
		t.Error("got nil error; want non-nil error")
	}
}
