package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/falconandrea/FileSolvers/internal/repository"
	"github.com/falconandrea/FileSolvers/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis-specific configuration
type Config struct {
	Addr      string `json:"addr"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

// Plugin implements PluginPersistence for Redis/KVRocks
type Plugin struct {
	client *redis.Client
	owned  bool
	repo   repository.LedgerRepository
}

// NewPlugin creates a new Redis persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if len(config.Config) > 0 {
		if err := json.Unmarshal(config.Config, &cfg); err != nil {
			return nil, fmt.Errorf("redis persistence config: %w", err)
		}
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis persistence config: addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	p := NewPluginWithClient(client, cfg.KeyPrefix, config.Retries())
	p.owned = true
	return p, nil
}

// NewPluginWithClient wraps an existing client; Close leaves the client open.
func NewPluginWithClient(client *redis.Client, keyPrefix string, maxRetries int) *Plugin {
	return &Plugin{
		client: client,
		repo:   repository.NewLedgerRepository(client, keyPrefix, maxRetries),
	}
}

// LedgerStorage returns the request ledger implementation
func (p *Plugin) LedgerStorage() persistence.LedgerStorage {
	return &ledgerStorageAdapter{repo: p.repo}
}

// AccountStorage returns the custody balance implementation
func (p *Plugin) AccountStorage() persistence.AccountStorage {
	return &accountStorageAdapter{repo: p.repo}
}

// Health checks if Redis is healthy
func (p *Plugin) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the Redis connection when the plugin opened it
func (p *Plugin) Close() error {
	if !p.owned {
		return nil
	}
	return p.client.Close()
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}
