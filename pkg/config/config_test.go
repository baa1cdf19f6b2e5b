package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/falconandrea/FileSolvers/internal/backoff"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

// TestLoadConfigOptional_EmptyPath tests loading when file path is empty
func TestLoadConfigOptional_EmptyPath(t *testing.T) {
	t.Setenv("PORT", "9999")

	cfg, err := LoadConfigOptional("")
	if err != nil {
		t.Fatalf("LoadConfigOptional with empty path should not error: %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Expected Port=9999 from env, got %d", cfg.Port)
	}
	if cfg.PersistenceType != "memory" || cfg.Env != "dev" {
		t.Errorf("unexpected defaults: persistence=%q env=%q", cfg.PersistenceType, cfg.Env)
	}
	if cfg.AuthProvider != "static" {
		t.Errorf("expected dev static auth, got %q", cfg.AuthProvider)
	}
}

func TestLoadConfigOptional_FileNotExist(t *testing.T) {
	cfg, err := LoadConfigOptional(filepath.Join(t.TempDir(), "config-does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadConfigOptional with non-existent file should not error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected non-nil config")
	}
}

func TestLoadConfigOptional_InvalidYAML(t *testing.T) {
	path := writeFile(t, "invalid.yaml", `
port: 8080
redisAddr: "localhost:6379"
  invalid indentation here
`)
	if _, err := LoadConfigOptional(path); err == nil {
		t.Fatal("Expected error when loading invalid YAML, got nil")
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
port: 8081
env: prod
persistenceType: redis
redisAddr: "redis:6379"
redisPassword: "secret"
authProvider: static
authConfig:
  tokens:
    - token: t-1
      subject: alice
webhooks:
  - url: https://hooks.example.com/ledger
    events: [winner.chosen]
webhookHmacSecret: shh
rateLimit:
  mutations:
    requestsPerMinute: 60
    burstSize: 10
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 8081 || cfg.RedisAddr != "redis:6379" || cfg.RedisPassword != "secret" {
		t.Errorf("unexpected values: %+v", cfg)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].Events[0] != "winner.chosen" {
		t.Errorf("unexpected webhooks: %+v", cfg.Webhooks)
	}
	if cfg.RateLimit.Mutations.RequestsPerMinute != 60 || cfg.RateLimit.Mutations.BurstSize != 10 {
		t.Errorf("unexpected rate limit: %+v", cfg.RateLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	ap, err := cfg.AuthProviderConfig()
	if err != nil {
		t.Fatalf("AuthProviderConfig: %v", err)
	}
	var decoded struct {
		Tokens []struct {
			Token   string `json:"token"`
			Subject string `json:"subject"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal(ap.Config, &decoded); err != nil {
		t.Fatalf("decode auth config: %v", err)
	}
	if len(decoded.Tokens) != 1 || decoded.Tokens[0].Subject != "alice" {
		t.Errorf("unexpected auth config %s", ap.Config)
	}

	pc, err := cfg.PersistenceConfig()
	if err != nil {
		t.Fatalf("PersistenceConfig: %v", err)
	}
	if pc.Type != "redis" || !strings.Contains(string(pc.Config), `"addr":"redis:6379"`) {
		t.Errorf("unexpected persistence config %s %s", pc.Type, pc.Config)
	}
}

func TestLoadConfig_TOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
port = 9000
persistenceType = "sqlite"
sqlitePath = "/var/lib/filesolvers/ledger.db"
sweepIntervalSeconds = 30

[rateLimit.webhook]
requestsPerMinute = 120
burstSize = 5
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 9000 || cfg.PersistenceType != "sqlite" || cfg.SQLitePath != "/var/lib/filesolvers/ledger.db" {
		t.Errorf("unexpected values: %+v", cfg)
	}
	if cfg.SweepIntervalSeconds != 30 || cfg.RateLimit.Webhook.BurstSize != 5 {
		t.Errorf("unexpected nested values: %+v", cfg)
	}
}

func TestLoadConfigOptional_EnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", `
port: 8080
redisAddr: "localhost:6379"
redisPassword: "file-password"
`)
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_ADDR", "env-redis:6380")
	t.Setenv("REDIS_PASSWORD", "env-password")
	t.Setenv("PERSISTENCE_TYPE", "postgres")
	t.Setenv("WEBHOOK_URLS", "https://a.example.com, https://b.example.com")
	t.Setenv("AUTH_PROVIDER", "static")
	t.Setenv("AUTH_CONFIG", "plain-token")

	cfg, err := LoadConfigOptional(path)
	if err != nil {
		t.Fatalf("LoadConfigOptional should not error: %v", err)
	}
	if cfg.Port != 9090 || cfg.RedisAddr != "env-redis:6380" || cfg.RedisPassword != "env-password" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if cfg.PersistenceType != "postgres" || len(cfg.Webhooks) != 2 {
		t.Errorf("unexpected persistence/webhooks: %q %+v", cfg.PersistenceType, cfg.Webhooks)
	}
	ap, err := cfg.AuthProviderConfig()
	if err != nil {
		t.Fatalf("AuthProviderConfig: %v", err)
	}
	if string(ap.Config) != `"plain-token"` {
		t.Errorf("expected bare token config, got %s", ap.Config)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{Env: "prod", PersistenceType: "redis", RedisAddr: "r:6379", AuthProvider: "jwks"}
		c.applyDefaults()
		return c
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(c *Config) {}, ""},
		{"memory outside dev", func(c *Config) { c.PersistenceType = "memory" }, "only allowed in dev"},
		{"unknown store", func(c *Config) { c.PersistenceType = "mongo" }, "unknown persistenceType"},
		{"postgres without dsn", func(c *Config) { c.PersistenceType = "postgres" }, "postgresDsn"},
		{"missing auth", func(c *Config) { c.AuthProvider = "" }, "authProvider"},
		{"bad webhook", func(c *Config) { c.Webhooks = []WebhookConfig{{URL: "ftp://x"}}; c.WebhookHmacSecret = "s" }, "webhooks[0].url"},
		{"webhook without secret", func(c *Config) { c.Webhooks = []WebhookConfig{{URL: "https://x"}} }, "webhookHmacSecret"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "logFormat"},
		{"negative sweep", func(c *Config) { c.SweepIntervalSeconds = -1 }, "sweepIntervalSeconds"},
		{"bad backoff", func(c *Config) { c.BackoffPolicy = "fibonacci" }, "backoffPolicy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestWebhookRetryPolicy(t *testing.T) {
	c := &Config{BackoffPolicy: "linear", WebhookBaseBackoffSeconds: 3, WebhookMaxBackoffSeconds: 30}
	p := c.WebhookRetryPolicy()
	if p.Kind != backoff.Linear || p.Base != 3*time.Second || p.Max != 30*time.Second {
		t.Fatalf("unexpected policy %+v", p)
	}
	if got := p.Delay(2, nil); got != 6*time.Second {
		t.Fatalf("second linear retry = %s", got)
	}

	c = &Config{}
	c.applyDefaults()
	if p := c.WebhookRetryPolicy(); p.Kind != backoff.FullJitter || p.Base != 2*time.Second || p.Max != time.Minute {
		t.Fatalf("unexpected default policy %+v", p)
	}
}
