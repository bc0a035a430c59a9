// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: Defined in genesis, immutable, must match across all nodes
//   - Node settings: Runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration for the chainstate
// engine. These settings can vary between nodes without breaking
// consensus.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Chainstate engine behavior not fixed by consensus (orphan pool
	// sizing, whether the optional tx-index is maintained).
	Chainstate ChainstateConfig

	// Storage backend.
	Storage StorageConfig

	// Logging
	Log LogConfig

	// Maintenance (not persisted in config file)
	RebuildIndexes bool
}

// ChainstateConfig holds operational settings for the block acceptance
// pipeline that are not consensus-critical (nodes may disagree on
// these without forking).
type ChainstateConfig struct {
	// MaxOrphans bounds the orphan pool; beyond this the oldest orphan
	// is evicted FIFO (see SPEC_FULL.md design note resolutions).
	MaxOrphans int `conf:"chainstate.maxorphans"`

	// TxIndexEnabled turns on the optional transaction-id -> block
	// location index. Disabled by default: it costs a write per
	// transaction and most nodes only need UTXO-set lookups.
	TxIndexEnabled bool `conf:"chainstate.txindex"`
}

// StorageConfig selects and tunes the on-disk storage backend.
type StorageConfig struct {
	// Backend is "badger" (default, persistent) or "memory" (for
	// tests and ephemeral nodes).
	Backend string `conf:"storage.backend"`

	// CacheSizeMB bounds the badger block-cache size.
	CacheSizeMB int `conf:"storage.cachesizemb"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.mintledger
//	macOS:   ~/Library/Application Support/Mintledger
//	Windows: %APPDATA%\Mintledger
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mintledger"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Mintledger")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Mintledger")
		}
		return filepath.Join(home, "AppData", "Roaming", "Mintledger")
	default:
		return filepath.Join(home, ".mintledger")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// StorageDir returns the directory holding the chainstate's on-disk
// database (block index, UTXO set, undo data, token registry).
func (c *Config) StorageDir() string {
	return filepath.Join(c.ChainDataDir(), "chainstate")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "chainstated.conf")
}
