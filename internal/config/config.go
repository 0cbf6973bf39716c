// Package config loads the indexer's static configuration from TOML
// files, following original_source/src/config/config.rs's Config::load:
// a base config/default.toml plus an optional environment overlay
// selected by APP_ENVIRONMENT (default "development"), adapted to Go's
// struct-tag idiom in place of derive(Deserialize).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the top-level configuration document. The redis and
// server sections are parsed but unused by the indexing core
// (spec.md §1: out of scope, kept only so the file format round-trips).
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Server   ServerConfig   `toml:"server"`
	Ethereum EthereumConfig `toml:"ethereum"`
}

// DatabaseConfig configures the Postgres connection pool consumed by
// internal/store. Pool construction itself is an external collaborator
// per spec.md §1; this struct only carries the dial parameters.
type DatabaseConfig struct {
	Host                  string `toml:"host"`
	Port                  uint16 `toml:"port"`
	DatabaseName          string `toml:"database_name"`
	Username              string `toml:"username"`
	Password              string `toml:"password"`
	MaxConnections        int    `toml:"max_connections"`
	MinConnections        int    `toml:"min_connections"`
	ConnectTimeoutSeconds uint64 `toml:"connect_timeout_seconds"`
	IdleTimeoutSeconds    uint64 `toml:"idle_timeout_seconds"`
}

// DSN renders the standard libpq connection string for this config.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s connect_timeout=%d",
		d.Host, d.Port, d.DatabaseName, d.Username, d.Password, d.ConnectTimeoutSeconds,
	)
}

// RedisConfig is unused by the core; kept for file-format compatibility
// (spec.md §1).
type RedisConfig struct {
	Host     string `toml:"host"`
	Port     uint16 `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	DB       int64  `toml:"db"`
}

// ServerConfig is unused by the core; kept for file-format
// compatibility (spec.md §1).
type ServerConfig struct {
	Host string `toml:"host"`
	Port uint16 `toml:"port"`
}

// EthereumConfig drives the RPC pool, retry layer, and sync engine
// (spec.md §6).
type EthereumConfig struct {
	RPCURL         string `toml:"rpc_url"`
	ChainID        uint64 `toml:"chain_id"`
	APIKeys        string `toml:"api_keys"`
	InitHeight     uint64 `toml:"init_height"`
	Delay          int16  `toml:"delay"`
	MaxRetries     uint   `toml:"max_retries"`
	BaseDelaySecs  uint64 `toml:"base_delay_secs"`
}

const defaultEnvironment = "development"

// Load reads config/default.toml, then overlays config/<env>.toml when
// present, where env comes from APP_ENVIRONMENT (default
// "development"). A missing overlay file is not an error; a missing or
// malformed default file is.
func Load(dir string) (*Config, error) {
	var cfg Config

	defaultPath := filepath.Join(dir, "default.toml")
	if _, err := toml.DecodeFile(defaultPath, &cfg); err != nil {
		return nil, errors.Wrapf(err, "load default config %s", defaultPath)
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = defaultEnvironment
	}
	overlayPath := filepath.Join(dir, env+".toml")
	if _, err := os.Stat(overlayPath); err == nil {
		if _, err := toml.DecodeFile(overlayPath, &cfg); err != nil {
			return nil, errors.Wrapf(err, "load %s config overlay %s", env, overlayPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat config overlay %s", overlayPath)
	}

	return &cfg, nil
}
