package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/falconandrea/FileSolvers/pkg/persistence"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Config holds PostgreSQL-specific configuration
type Config struct {
	DSN            string `json:"dsn"`
	MaxConns       int32  `json:"maxConns,omitempty"`
	SkipMigrations bool   `json:"skipMigrations,omitempty"`
}

// Plugin implements PluginPersistence on a pgx connection pool
type Plugin struct {
	pool *pgxpool.Pool
}

// NewPlugin connects, migrates and returns the plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if len(config.Config) > 0 {
		if err := json.Unmarshal(config.Config, &cfg); err != nil {
			return nil, fmt.Errorf("postgres persistence config: %w", err)
		}
	}
	if cfg.DSN == "" {
		return nil, errors.New("postgres persistence config: dsn is required")
	}
	if !cfg.SkipMigrations {
		if err := Migrate(cfg.DSN); err != nil {
			return nil, err
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Plugin{pool: pool}, nil
}

// Migrate applies the embedded schema migrations
func Migrate(dsn string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// LedgerStorage returns the request ledger implementation
func (p *Plugin) LedgerStorage() persistence.LedgerStorage {
	return &ledgerStorage{pool: p.pool}
}

// AccountStorage returns the custody balance implementation
func (p *Plugin) AccountStorage() persistence.AccountStorage {
	return &accountStorage{pool: p.pool}
}

// Health pings the database
func (p *Plugin) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close closes the pool
func (p *Plugin) Close() error {
	p.pool.Close()
	return nil
}

func init() {
	persistence.RegisterProvider("postgres", NewPlugin)
}
