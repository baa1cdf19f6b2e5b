package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/falconandrea/FileSolvers/pkg/persistence"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Config holds SQLite-specific configuration
type Config struct {
	Path string `json:"path"`
}

// Plugin implements PluginPersistence on a single SQLite file.
// One connection serializes every transaction.
type Plugin struct {
	db *sql.DB
}

// NewPlugin opens (and migrates) the database named by the config
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if len(config.Config) > 0 {
		if err := json.Unmarshal(config.Config, &cfg); err != nil {
			return nil, fmt.Errorf("sqlite persistence config: %w", err)
		}
	}
	if cfg.Path == "" {
		cfg.Path = "filesolvers.db"
	}
	return Open(cfg.Path)
}

// Open opens the database at path, creating its directory and schema.
func Open(path string) (*Plugin, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Plugin{db: db}, nil
}

// LedgerStorage returns the request ledger implementation
func (p *Plugin) LedgerStorage() persistence.LedgerStorage {
	return &ledgerStorage{db: p.db}
}

// AccountStorage returns the custody balance implementation
func (p *Plugin) AccountStorage() persistence.AccountStorage {
	return &accountStorage{db: p.db}
}

// Health pings the database
func (p *Plugin) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database
func (p *Plugin) Close() error {
	return p.db.Close()
}

func init() {
	persistence.RegisterProvider("sqlite", NewPlugin)
}
