package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Flags holds parsed command-line flags understood by the chainstate
// daemon. Protocol rules never appear here — only node-operational
// settings.
type Flags struct {
	Network string
	DataDir string
	Config  string

	MaxOrphans int
	TxIndex    bool

	StorageBackend string
	CacheSizeMB    int

	LogLevel string
	LogFile  string
	LogJSON  bool

	set *pflag.FlagSet
}

// BindFlags registers chainstate flags on fs, so a cobra command can
// own the flag set while config retains the field definitions.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{set: fs}

	fs.StringVar(&f.Network, "network", "", "network type: mainnet or testnet")
	fs.StringVar(&f.DataDir, "datadir", "", "data directory path")
	fs.StringVarP(&f.Config, "config", "c", "", "config file path")

	fs.IntVar(&f.MaxOrphans, "max-orphans", 0, "maximum size of the orphan block pool")
	fs.BoolVar(&f.TxIndex, "txindex", false, "maintain the transaction-id index")

	fs.StringVar(&f.StorageBackend, "storage-backend", "", "storage backend: badger or memory")
	fs.IntVar(&f.CacheSizeMB, "storage-cache-mb", 0, "storage block-cache size in MB")

	fs.StringVar(&f.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.LogFile, "log-file", "", "log file path (default: <datadir>/logs/chainstated.log)")
	fs.BoolVar(&f.LogJSON, "log-json", false, "output logs as JSON")

	return f
}

// ApplyFlags applies command-line flags to a Config struct. Only
// flags the user actually set (per pflag.Changed) override the
// existing value.
func ApplyFlags(cfg *Config, f *Flags) {
	changed := func(name string) bool {
		return f.set != nil && f.set.Changed(name)
	}

	if changed("network") {
		cfg.Network = NetworkType(f.Network)
	}
	if changed("datadir") {
		cfg.DataDir = f.DataDir
	}
	if changed("max-orphans") {
		cfg.Chainstate.MaxOrphans = f.MaxOrphans
	}
	if changed("txindex") {
		cfg.Chainstate.TxIndexEnabled = f.TxIndex
	}
	if changed("storage-backend") {
		cfg.Storage.Backend = f.StorageBackend
	}
	if changed("storage-cache-mb") {
		cfg.Storage.CacheSizeMB = f.CacheSizeMB
	}
	if changed("log-level") {
		cfg.Log.Level = f.LogLevel
	}
	if changed("log-file") {
		cfg.Log.File = f.LogFile
	}
	if changed("log-json") {
		cfg.Log.JSON = f.LogJSON
	}
}

// Load loads configuration with the following precedence:
//  1. Default values
//  2. Auto-created data dirs + default config file (idempotent)
//  3. Config file
//  4. Command-line flags
func Load(flags *Flags) (*Config, error) {
	network := Mainnet
	if NetworkType(flags.Network) == Testnet {
		network = Testnet
	}

	cfg := Default(network)

	if flags.DataDir != "" {
		cfg.DataDir = flags.DataDir
	}

	if err := EnsureDataDirs(cfg); err != nil {
		return nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	configPath := flags.Config
	if configPath == "" {
		configPath = cfg.ConfigFile()
	}

	fc, err := LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}
	ApplyFileConfig(cfg, fc)

	ApplyFlags(cfg, flags)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// EnsureDataDirs creates the data directory structure and a default
// config file if they don't already exist. Idempotent — safe to call
// on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.ChainDataDir(),
		cfg.StorageDir(),
		cfg.LogsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}

	return nil
}
