package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// fileConfig is the TOML-serializable shape of a node config file.
// Field names intentionally mirror Config's nesting so a written
// default file and a loaded one round-trip without translation.
type fileConfig struct {
	Network string `toml:"network"`
	DataDir string `toml:"datadir"`

	Chainstate struct {
		MaxOrphans     int  `toml:"max_orphans"`
		TxIndexEnabled bool `toml:"tx_index"`
	} `toml:"chainstate"`

	Storage struct {
		Backend     string `toml:"backend"`
		CacheSizeMB int    `toml:"cache_size_mb"`
	} `toml:"storage"`

	Log struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
		JSON  bool   `toml:"json"`
	} `toml:"log"`
}

// LoadFile loads node configuration from a TOML file. A missing file
// is not an error: the caller already holds a set of defaults to fall
// back on.
func LoadFile(path string) (*fileConfig, error) {
	var fc fileConfig
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &fc, nil
	}
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return &fc, nil
}

// ApplyFileConfig merges non-zero values from a loaded file over cfg.
// Only node-operational settings are accepted here; protocol rules
// live in genesis and are never read from this file.
func ApplyFileConfig(cfg *Config, fc *fileConfig) {
	if fc.Network != "" {
		cfg.Network = NetworkType(fc.Network)
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.Chainstate.MaxOrphans != 0 {
		cfg.Chainstate.MaxOrphans = fc.Chainstate.MaxOrphans
	}
	cfg.Chainstate.TxIndexEnabled = fc.Chainstate.TxIndexEnabled
	if fc.Storage.Backend != "" {
		cfg.Storage.Backend = fc.Storage.Backend
	}
	if fc.Storage.CacheSizeMB != 0 {
		cfg.Storage.CacheSizeMB = fc.Storage.CacheSizeMB
	}
	if fc.Log.Level != "" {
		cfg.Log.Level = fc.Log.Level
	}
	if fc.Log.File != "" {
		cfg.Log.File = fc.Log.File
	}
	cfg.Log.JSON = fc.Log.JSON
}

// WriteDefaultConfig writes a default node configuration file in TOML
// format for the given network.
func WriteDefaultConfig(path string, network NetworkType) error {
	cfg := Default(network)

	var fc fileConfig
	fc.Network = string(cfg.Network)
	fc.DataDir = cfg.DataDir
	fc.Chainstate.MaxOrphans = cfg.Chainstate.MaxOrphans
	fc.Chainstate.TxIndexEnabled = cfg.Chainstate.TxIndexEnabled
	fc.Storage.Backend = cfg.Storage.Backend
	fc.Storage.CacheSizeMB = cfg.Storage.CacheSizeMB
	fc.Log.Level = cfg.Log.Level
	fc.Log.File = cfg.Log.File
	fc.Log.JSON = cfg.Log.JSON

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	header := "# Mintledger chainstate node configuration.\n" +
		"#\n" +
		"# This file contains NODE settings only. Protocol rules (consensus\n" +
		"# schedule, block reward, size limits) are fixed in genesis and\n" +
		"# cannot be changed here without a hard fork.\n\n"
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	enc := toml.NewEncoder(f)
	return enc.Encode(fc)
}
