package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/falconandrea/FileSolvers/internal/backoff"
	"github.com/falconandrea/FileSolvers/pkg/auth"
	"github.com/falconandrea/FileSolvers/pkg/persistence"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type RateLimitBucketConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute" toml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize" toml:"burstSize"`
}

type RateLimitConfig struct {
	// Mutations limits every ledger write per bearer token.
	Mutations RateLimitBucketConfig `yaml:"mutations" toml:"mutations"`
	// Webhook limits outgoing deliveries per endpoint.
	Webhook RateLimitBucketConfig `yaml:"webhook" toml:"webhook"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url" toml:"url"`
	Events []string `yaml:"events" toml:"events"`
}

type Config struct {
	Port      int    `yaml:"port" toml:"port"`
	Env       string `yaml:"env" toml:"env"`
	LogLevel  string `yaml:"logLevel" toml:"logLevel"`
	LogFormat string `yaml:"logFormat" toml:"logFormat"`

	PersistenceType string `yaml:"persistenceType" toml:"persistenceType"`
	StoreMaxRetries int    `yaml:"storeMaxRetries" toml:"storeMaxRetries"`
	RedisAddr       string `yaml:"redisAddr" toml:"redisAddr"`
	RedisPassword   string `yaml:"redisPassword" toml:"redisPassword"`
	RedisDB         int    `yaml:"redisDb" toml:"redisDb"`
	KeyPrefix       string `yaml:"keyPrefix" toml:"keyPrefix"`
	SQLitePath      string `yaml:"sqlitePath" toml:"sqlitePath"`
	PostgresDSN     string `yaml:"postgresDsn" toml:"postgresDsn"`

	AuthProvider string `yaml:"authProvider" toml:"authProvider"`
	// AuthConfig is handed to the provider as JSON.
	AuthConfig any `yaml:"authConfig" toml:"authConfig"`

	SweepIntervalSeconds int    `yaml:"sweepIntervalSeconds" toml:"sweepIntervalSeconds"`
	ContentDir           string `yaml:"contentDir" toml:"contentDir"`
	MaxUploadBytes       int64  `yaml:"maxUploadBytes" toml:"maxUploadBytes"`

	Webhooks                  []WebhookConfig `yaml:"webhooks" toml:"webhooks"`
	WebhookHmacSecret         string          `yaml:"webhookHmacSecret" toml:"webhookHmacSecret"`
	WebhookMaxAttempts        int             `yaml:"webhookMaxAttempts" toml:"webhookMaxAttempts"`
	WebhookBaseBackoffSeconds int             `yaml:"webhookBaseBackoffSeconds" toml:"webhookBaseBackoffSeconds"`
	WebhookMaxBackoffSeconds  int             `yaml:"webhookMaxBackoffSeconds" toml:"webhookMaxBackoffSeconds"`
	BackoffPolicy             string          `yaml:"backoffPolicy" toml:"backoffPolicy"`
	EventQueueSize            int             `yaml:"eventQueueSize" toml:"eventQueueSize"`

	NatsURL           string `yaml:"natsUrl" toml:"natsUrl"`
	NatsSubjectPrefix string `yaml:"natsSubjectPrefix" toml:"natsSubjectPrefix"`

	RateLimit RateLimitConfig `yaml:"rateLimit" toml:"rateLimit"`

	TracingEnabled   bool    `yaml:"tracingEnabled" toml:"tracingEnabled"`
	OtlpEndpoint     string  `yaml:"otlpEndpoint" toml:"otlpEndpoint"`
	OtlpInsecure     bool    `yaml:"otlpInsecure" toml:"otlpInsecure"`
	TraceSampleRatio float64 `yaml:"traceSampleRatio" toml:"traceSampleRatio"`
}

// LoadConfig reads filePath (YAML, or TOML for *.toml), then applies
// environment overrides and defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := decode(filePath, data, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

// LoadConfigOptional behaves like LoadConfig but treats an empty or missing
// path as an empty file.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath != "" {
		c, err := LoadConfig(filePath)
		if err == nil || !errors.Is(err, fs.ErrNotExist) {
			return c, err
		}
	}
	var c Config
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func decode(path string, data []byte, c *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, c)
	default:
		return yaml.Unmarshal(data, c)
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func (c *Config) applyEnv() {
	envInt("PORT", &c.Port)
	envString("ENV", &c.Env)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)

	envString("PERSISTENCE_TYPE", &c.PersistenceType)
	envInt("STORE_MAX_RETRIES", &c.StoreMaxRetries)
	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)
	envInt("REDIS_DB", &c.RedisDB)
	envString("KEY_PREFIX", &c.KeyPrefix)
	envString("SQLITE_PATH", &c.SQLitePath)
	envString("POSTGRES_DSN", &c.PostgresDSN)

	envString("AUTH_PROVIDER", &c.AuthProvider)
	if v := os.Getenv("AUTH_CONFIG"); v != "" {
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err == nil {
			c.AuthConfig = parsed
		} else {
			c.AuthConfig = v
		}
	}

	envInt("SWEEP_INTERVAL_SECONDS", &c.SweepIntervalSeconds)
	envString("CONTENT_DIR", &c.ContentDir)
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxUploadBytes = n
		}
	}

	if v := os.Getenv("WEBHOOK_URLS"); v != "" {
		c.Webhooks = nil
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				c.Webhooks = append(c.Webhooks, WebhookConfig{URL: u})
			}
		}
	}
	envString("WEBHOOK_HMAC_SECRET", &c.WebhookHmacSecret)
	envInt("WEBHOOK_MAX_ATTEMPTS", &c.WebhookMaxAttempts)
	envInt("WEBHOOK_BASE_BACKOFF_SECONDS", &c.WebhookBaseBackoffSeconds)
	envInt("WEBHOOK_MAX_BACKOFF_SECONDS", &c.WebhookMaxBackoffSeconds)
	envString("BACKOFF_POLICY", &c.BackoffPolicy)

	envString("NATS_URL", &c.NatsURL)
	envString("NATS_SUBJECT_PREFIX", &c.NatsSubjectPrefix)

	envBool("TRACING_ENABLED", &c.TracingEnabled)
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.OtlpEndpoint)
	envBool("OTEL_EXPORTER_OTLP_INSECURE", &c.OtlpInsecure)
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.TraceSampleRatio = f
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.PersistenceType == "" {
		c.PersistenceType = "memory"
	}
	if c.StoreMaxRetries <= 0 {
		c.StoreMaxRetries = 16
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "filesolvers"
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "filesolvers.db"
	}
	if c.ContentDir == "" {
		c.ContentDir = filepath.Join(os.TempDir(), "filesolvers-content")
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 32 << 20
	}
	if c.WebhookMaxAttempts <= 0 {
		c.WebhookMaxAttempts = 5
	}
	if c.WebhookBaseBackoffSeconds <= 0 {
		c.WebhookBaseBackoffSeconds = 2
	}
	if c.WebhookMaxBackoffSeconds <= 0 {
		c.WebhookMaxBackoffSeconds = 60
	}
	if c.BackoffPolicy == "" {
		c.BackoffPolicy = "exp_full_jitter"
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = 1024
	}
	if c.NatsSubjectPrefix == "" {
		c.NatsSubjectPrefix = "filesolvers"
	}
	if c.AuthProvider == "" && c.Env == "dev" {
		c.AuthProvider = "static"
		c.AuthConfig = map[string]any{"tokens": []any{
			map[string]any{"token": "dev-admin", "subject": "admin", "scopes": []any{auth.AdminScope}},
			map[string]any{"token": "dev-alice", "subject": "alice"},
			map[string]any{"token": "dev-bob", "subject": "bob"},
		}}
	}
}

// WebhookRetryPolicy is the backoff between failed webhook deliveries.
func (c *Config) WebhookRetryPolicy() backoff.Policy {
	kind, err := backoff.ParseKind(c.BackoffPolicy)
	if err != nil {
		kind = backoff.FullJitter
	}
	return backoff.Policy{
		Kind: kind,
		Base: time.Duration(c.WebhookBaseBackoffSeconds) * time.Second,
		Max:  time.Duration(c.WebhookMaxBackoffSeconds) * time.Second,
	}
}

// PersistenceConfig builds the provider config for the selected backend.
func (c *Config) PersistenceConfig() (persistence.ProviderConfig, error) {
	var body any
	switch c.PersistenceType {
	case "memory":
		body = struct{}{}
	case "redis":
		body = map[string]any{"addr": c.RedisAddr, "password": c.RedisPassword, "db": c.RedisDB, "keyPrefix": c.KeyPrefix}
	case "sqlite":
		body = map[string]any{"path": c.SQLitePath}
	case "postgres":
		body = map[string]any{"dsn": c.PostgresDSN}
	default:
		return persistence.ProviderConfig{}, fmt.Errorf("unknown persistenceType %q", c.PersistenceType)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return persistence.ProviderConfig{}, err
	}
	return persistence.ProviderConfig{Type: c.PersistenceType, Config: raw}, nil
}

// AuthProviderConfig encodes AuthConfig for the auth registry. A bare string
// is passed through as a JSON string.
func (c *Config) AuthProviderConfig() (auth.ProviderConfig, error) {
	raw, err := json.Marshal(normalizeYAML(c.AuthConfig))
	if err != nil {
		return auth.ProviderConfig{}, fmt.Errorf("encode authConfig: %w", err)
	}
	return auth.ProviderConfig{Type: c.AuthProvider, Config: raw}, nil
}

// normalizeYAML converts map[interface{}]interface{} values, which JSON
// cannot encode, into map[string]any.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	}
	return v
}

func (c *Config) Validate() error {
	var errs []string
	dev := strings.EqualFold(strings.TrimSpace(c.Env), "dev")

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	switch c.PersistenceType {
	case "memory":
		if !dev {
			errs = append(errs, "persistenceType memory is only allowed in dev")
		}
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, "redisAddr is required for redis persistence")
		}
	case "sqlite":
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, "sqlitePath is required for sqlite persistence")
		}
	case "postgres":
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, "postgresDsn is required for postgres persistence")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown persistenceType %q", c.PersistenceType))
	}

	if strings.TrimSpace(c.AuthProvider) == "" {
		errs = append(errs, "authProvider is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, "logFormat must be json or text")
	}
	if c.SweepIntervalSeconds < 0 {
		errs = append(errs, "sweepIntervalSeconds must be >= 0")
	}
	if _, err := backoff.ParseKind(c.BackoffPolicy); err != nil {
		errs = append(errs, "backoffPolicy: "+err.Error())
	}

	for i, w := range c.Webhooks {
		u, err := url.Parse(w.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("webhooks[%d].url must be a valid http(s) URL", i))
		}
	}
	if len(c.Webhooks) > 0 && strings.TrimSpace(c.WebhookHmacSecret) == "" && !dev {
		errs = append(errs, "webhookHmacSecret is required when webhooks are configured")
	}
	if c.NatsURL != "" {
		if u, err := url.Parse(c.NatsURL); err != nil || u.Host == "" {
			errs = append(errs, "natsUrl must be a valid URL")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
